package sources

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tesserahq/toolgate/pkg/models"
)

// inventoryHashLen is the number of hex characters kept from the
// SHA-256 digest. Enough to detect drift; short enough to log.
const inventoryHashLen = 16

// InventoryHash fingerprints a tool list: SHA-256 over the canonical
// JSON (tools sorted by name, object keys sorted) truncated to 16 hex
// characters. Two ingests of the same upstream state produce the same
// hash regardless of discovery order.
func InventoryHash(tools []models.ToolDefinition) (string, error) {
	sorted := append([]models.ToolDefinition(nil), tools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	// Round-trip through generic values so map keys serialize sorted.
	raw, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("marshal tools: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("canonicalize tools: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("marshal canonical tools: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:inventoryHashLen], nil
}
