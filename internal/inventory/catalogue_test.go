package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/tesserahq/toolgate/internal/storage"
	"github.com/tesserahq/toolgate/pkg/models"
)

func seedCatalogue(t *testing.T) *Catalogue {
	t.Helper()
	stores := storage.NewMemoryStores()
	ctx := context.Background()
	now := time.Now()

	add := func(sourceID string, def models.ToolDefinition, mutate func(*models.ToolAggregate)) {
		agg := models.NewToolAggregate(sourceID, def, now)
		if mutate != nil {
			mutate(agg)
		}
		if err := stores.Tools.Add(ctx, agg); err != nil {
			t.Fatal(err)
		}
	}

	add("src-1", toolDef("alpha", "First"), nil)
	add("src-1", toolDef("beta", "Disabled"), func(a *models.ToolAggregate) {
		a.SetEnabled(false, now)
	})
	add("src-2", toolDef("gamma", "Deprecated"), func(a *models.ToolAggregate) {
		a.Deprecate(now)
	})
	add("src-2", toolDef("alpha", "Shadowed duplicate"), nil)
	add("src-2", toolDef("delta", "Second source"), nil)

	return NewCatalogue(stores.Tools)
}

func names(descriptors []models.LLMToolDescriptor) []string {
	out := make([]string, len(descriptors))
	for i, d := range descriptors {
		out[i] = d.Name
	}
	return out
}

func TestCatalogueUnfiltered(t *testing.T) {
	cat := seedCatalogue(t)

	got, err := cat.ListForAgent(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListForAgent() error = %v", err)
	}

	want := []string{"alpha", "delta"}
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", names(got), want)
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("descriptor[%d] = %s, want %s", i, got[i].Name, name)
		}
	}

	// The first aggregate by id wins a name collision.
	if got[0].ToolID != "src-1:alpha" {
		t.Errorf("alpha tool id = %s, want src-1:alpha", got[0].ToolID)
	}
	if got[0].Description != "First" {
		t.Errorf("description = %q", got[0].Description)
	}
	if got[0].InputSchema == nil {
		t.Error("descriptor is missing its input schema")
	}
}

func TestCatalogueWhitelist(t *testing.T) {
	cat := seedCatalogue(t)
	def := &models.AgentDefinition{ToolWhitelist: []string{"delta"}}

	got, err := cat.ListForAgent(context.Background(), def)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "delta" || got[0].ToolID != "src-2:delta" {
		t.Errorf("descriptors = %v", names(got))
	}
}

func TestCatalogueBlacklist(t *testing.T) {
	cat := seedCatalogue(t)
	def := &models.AgentDefinition{ToolBlacklist: []string{"delta"}}

	got, err := cat.ListForAgent(context.Background(), def)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "alpha" {
		t.Errorf("descriptors = %v", names(got))
	}
}

func TestCatalogueBlacklistTrumpsWhitelist(t *testing.T) {
	cat := seedCatalogue(t)
	def := &models.AgentDefinition{
		ToolWhitelist: []string{"alpha"},
		ToolBlacklist: []string{"alpha"},
	}

	got, err := cat.ListForAgent(context.Background(), def)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("descriptors = %v, want none", names(got))
	}
}
