package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/tesserahq/toolgate/pkg/models"
)

// Cataloger yields the fixed set of tool definitions registered in
// code. The builtin registry satisfies this.
type Cataloger interface {
	Definitions() []models.ToolDefinition
}

// BuiltinAdapter exposes the in-process tool catalogue through the
// same ingestion path as remote sources, so builtins show up in the
// inventory and reconcile like everything else.
type BuiltinAdapter struct {
	catalog Cataloger
}

func NewBuiltinAdapter(catalog Cataloger) *BuiltinAdapter {
	return &BuiltinAdapter{catalog: catalog}
}

func (a *BuiltinAdapter) FetchAndNormalize(_ context.Context, _ *models.SourceAggregate, _ *models.AuthConfig) (*IngestionResult, error) {
	tools := a.catalog.Definitions()
	hash, err := InventoryHash(tools)
	if err != nil {
		return nil, models.NewInternalError(fmt.Sprintf("hash inventory: %v", err))
	}
	return &IngestionResult{
		Tools:         tools,
		InventoryHash: hash,
		Success:       true,
	}, nil
}

// ValidateURL accepts only builtin:// locators.
func (a *BuiltinAdapter) ValidateURL(_ context.Context, rawURL string, _ *models.AuthConfig) bool {
	return strings.HasPrefix(rawURL, models.BuiltinScheme)
}
