package builtin

import (
	"context"
	"strings"
	"testing"
)

func TestSpreadsheetCreateAndRead(t *testing.T) {
	ws := testWorkspace(t)
	write := &spreadsheetWriteTool{ws: ws}
	read := &spreadsheetReadTool{ws: ws}
	user := UserContext{ID: "user-1"}

	res := write.Execute(context.Background(), map[string]any{
		"filename": "report.xlsx",
		"mode":     "create",
		"sheet":    "Sales",
		"rows": []any{
			[]any{"region", "total"},
			[]any{"north", float64(120)},
			[]any{"south", float64(80)},
		},
	}, user)
	if !res.Success {
		t.Fatalf("create failed: %s", res.Error)
	}

	res = read.Execute(context.Background(), map[string]any{"filename": "report.xlsx"}, user)
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	result := res.Result.(map[string]any)
	if result["sheet"] != "Sales" {
		t.Errorf("sheet = %v", result["sheet"])
	}
	headers := result["headers"].([]string)
	if len(headers) != 2 || headers[0] != "region" {
		t.Errorf("headers = %v", headers)
	}
	rows := result["rows"].([][]string)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][0] != "north" || rows[0][1] != "120" {
		t.Errorf("first row = %v", rows[0])
	}
	if result["total_rows"].(int) != 2 {
		t.Errorf("total_rows = %v", result["total_rows"])
	}
}

func TestSpreadsheetAppendAndUpdate(t *testing.T) {
	ws := testWorkspace(t)
	write := &spreadsheetWriteTool{ws: ws}
	read := &spreadsheetReadTool{ws: ws}
	user := UserContext{ID: "user-1"}

	write.Execute(context.Background(), map[string]any{
		"filename": "log.xlsx",
		"mode":     "create",
		"rows":     []any{[]any{"event"}, []any{"started"}},
	}, user)

	res := write.Execute(context.Background(), map[string]any{
		"filename": "log.xlsx",
		"mode":     "append_rows",
		"rows":     []any{[]any{"stopped"}},
	}, user)
	if !res.Success {
		t.Fatalf("append failed: %s", res.Error)
	}

	res = write.Execute(context.Background(), map[string]any{
		"filename": "log.xlsx",
		"mode":     "update_cell",
		"cell":     "A2",
		"value":    "restarted",
	}, user)
	if !res.Success {
		t.Fatalf("update_cell failed: %s", res.Error)
	}

	res = read.Execute(context.Background(), map[string]any{"filename": "log.xlsx"}, user)
	rows := res.Result.(map[string]any)["rows"].([][]string)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][0] != "restarted" || rows[1][0] != "stopped" {
		t.Errorf("rows = %v", rows)
	}
}

func TestSpreadsheetAddSheet(t *testing.T) {
	ws := testWorkspace(t)
	write := &spreadsheetWriteTool{ws: ws}
	read := &spreadsheetReadTool{ws: ws}
	user := UserContext{ID: "user-1"}

	write.Execute(context.Background(), map[string]any{
		"filename": "multi.xlsx", "mode": "create", "rows": []any{[]any{"a"}},
	}, user)

	res := write.Execute(context.Background(), map[string]any{
		"filename": "multi.xlsx",
		"mode":     "add_sheet",
		"sheet":    "Second",
		"rows":     []any{[]any{"col"}, []any{"val"}},
	}, user)
	if !res.Success {
		t.Fatalf("add_sheet failed: %s", res.Error)
	}

	// Adding the same sheet twice conflicts.
	res = write.Execute(context.Background(), map[string]any{
		"filename": "multi.xlsx", "mode": "add_sheet", "sheet": "Second",
	}, user)
	if res.Success {
		t.Error("duplicate add_sheet succeeded")
	}

	res = read.Execute(context.Background(), map[string]any{"filename": "multi.xlsx", "sheet": "Second"}, user)
	if !res.Success {
		t.Fatalf("read second sheet failed: %s", res.Error)
	}
	if got := res.Result.(map[string]any)["rows"].([][]string); len(got) != 1 || got[0][0] != "val" {
		t.Errorf("second sheet rows = %v", got)
	}
}

func TestSpreadsheetPagination(t *testing.T) {
	ws := testWorkspace(t)
	write := &spreadsheetWriteTool{ws: ws}
	read := &spreadsheetReadTool{ws: ws}
	user := UserContext{ID: "user-1"}

	rows := []any{[]any{"n"}}
	for i := 0; i < 10; i++ {
		rows = append(rows, []any{float64(i)})
	}
	write.Execute(context.Background(), map[string]any{
		"filename": "big.xlsx", "mode": "create", "rows": rows,
	}, user)

	res := read.Execute(context.Background(), map[string]any{
		"filename": "big.xlsx", "offset": float64(4), "limit": float64(3),
	}, user)
	result := res.Result.(map[string]any)
	page := result["rows"].([][]string)
	if len(page) != 3 {
		t.Fatalf("page size = %d, want 3", len(page))
	}
	if page[0][0] != "4" {
		t.Errorf("first paged row = %v", page[0])
	}
	if result["total_rows"].(int) != 10 {
		t.Errorf("total_rows = %v", result["total_rows"])
	}
}

func TestSpreadsheetColumnProjectionAndTruncation(t *testing.T) {
	ws := testWorkspace(t)
	write := &spreadsheetWriteTool{ws: ws}
	read := &spreadsheetReadTool{ws: ws}
	user := UserContext{ID: "user-1"}

	long := strings.Repeat("x", maxCellChars+50)
	write.Execute(context.Background(), map[string]any{
		"filename": "wide.xlsx",
		"mode":     "create",
		"rows": []any{
			[]any{"id", "name", "blob"},
			[]any{"1", "alpha", long},
		},
	}, user)

	res := read.Execute(context.Background(), map[string]any{
		"filename": "wide.xlsx",
		"columns":  []any{"blob", "id"},
	}, user)
	result := res.Result.(map[string]any)
	headers := result["headers"].([]string)
	if len(headers) != 2 || headers[0] != "blob" || headers[1] != "id" {
		t.Fatalf("projected headers = %v", headers)
	}
	rows := result["rows"].([][]string)
	if len(rows[0][0]) != maxCellChars {
		t.Errorf("cell length = %d, want %d", len(rows[0][0]), maxCellChars)
	}
	if result["truncated_cells"].(int) != 1 {
		t.Errorf("truncated_cells = %v", result["truncated_cells"])
	}
}

func TestSpreadsheetRejectsNonXLSX(t *testing.T) {
	ws := testWorkspace(t)
	write := &spreadsheetWriteTool{ws: ws}
	read := &spreadsheetReadTool{ws: ws}
	user := UserContext{ID: "user-1"}

	if res := write.Execute(context.Background(), map[string]any{"filename": "data.csv", "mode": "create"}, user); res.Success {
		t.Error("write to .csv succeeded")
	}
	if res := read.Execute(context.Background(), map[string]any{"filename": "data.csv"}, user); res.Success {
		t.Error("read of .csv succeeded")
	}
	if res := read.Execute(context.Background(), map[string]any{"filename": "missing.xlsx"}, user); res.Success {
		t.Error("read of missing file succeeded")
	}
}
