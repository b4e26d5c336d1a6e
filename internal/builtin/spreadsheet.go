package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/tesserahq/toolgate/internal/workspace"
	"github.com/tesserahq/toolgate/pkg/models"
)

const (
	defaultSheetReadLimit = 100
	maxCellChars          = 500
)

// spreadsheetReadTool reads .xlsx files from the user workspace with
// pagination and optional column projection.
type spreadsheetReadTool struct {
	ws *workspace.Manager
}

func (t *spreadsheetReadTool) Name() string { return "spreadsheet_read" }

func (t *spreadsheetReadTool) Description() string {
	return "Read rows from an .xlsx workspace file with offset, limit, and optional column selection."
}

func (t *spreadsheetReadTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"filename": prop("string", "Workspace-relative .xlsx file name."),
		"sheet":    prop("string", "Sheet name. Defaults to the first sheet."),
		"offset":   prop("integer", "Data rows to skip after the header (default 0)."),
		"limit":    prop("integer", "Maximum data rows to return (default 100)."),
		"columns": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Optional header names to project. Unknown names are ignored.",
		},
	}, "filename")
}

func (t *spreadsheetReadTool) Execute(_ context.Context, args map[string]any, user UserContext) *models.BuiltinToolResult {
	name, ok := stringArg(args, "filename")
	if !ok || strings.TrimSpace(name) == "" {
		return failf("filename is required")
	}
	if !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return failf("filename must have the .xlsx extension")
	}
	path, err := t.ws.Resolve(user.scope(), name)
	if err != nil {
		return failf("%v", err)
	}
	if _, err := os.Stat(path); err != nil {
		return failf("open spreadsheet: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return failf("open spreadsheet: %v", err)
	}
	defer f.Close()

	sheet := stringArgOr(args, "sheet", "")
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return failf("spreadsheet has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return failf("read sheet %q: %v", sheet, err)
	}
	if len(rows) == 0 {
		return models.BuiltinOK(map[string]any{
			"sheet":      sheet,
			"headers":    []string{},
			"rows":       [][]string{},
			"total_rows": 0,
		})
	}

	headers := rows[0]
	data := rows[1:]

	offset := intArg(args, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	limit := intArg(args, "limit", defaultSheetReadLimit)
	if limit <= 0 {
		limit = defaultSheetReadLimit
	}

	if offset > len(data) {
		offset = len(data)
	}
	end := offset + limit
	if end > len(data) {
		end = len(data)
	}
	page := data[offset:end]

	// Column projection maps requested header names to indexes.
	colIdx := make([]int, 0)
	outHeaders := headers
	if wanted := stringSliceArg(args, "columns"); len(wanted) > 0 {
		outHeaders = make([]string, 0, len(wanted))
		for _, w := range wanted {
			for i, h := range headers {
				if strings.EqualFold(h, w) {
					colIdx = append(colIdx, i)
					outHeaders = append(outHeaders, h)
					break
				}
			}
		}
	}

	truncatedCells := 0
	outRows := make([][]string, 0, len(page))
	for _, row := range page {
		cells := row
		if len(colIdx) > 0 {
			cells = make([]string, 0, len(colIdx))
			for _, i := range colIdx {
				if i < len(row) {
					cells = append(cells, row[i])
				} else {
					cells = append(cells, "")
				}
			}
		}
		out := make([]string, len(cells))
		for i, c := range cells {
			if len(c) > maxCellChars {
				out[i] = c[:maxCellChars]
				truncatedCells++
			} else {
				out[i] = c
			}
		}
		outRows = append(outRows, out)
	}

	result := map[string]any{
		"sheet":      sheet,
		"headers":    outHeaders,
		"rows":       outRows,
		"offset":     offset,
		"returned":   len(outRows),
		"total_rows": len(data),
	}
	if truncatedCells > 0 {
		result["truncated_cells"] = truncatedCells
	}
	return models.BuiltinOK(result)
}

// spreadsheetWriteTool creates and mutates .xlsx files in the user
// workspace.
type spreadsheetWriteTool struct {
	ws *workspace.Manager
}

func (t *spreadsheetWriteTool) Name() string { return "spreadsheet_write" }

func (t *spreadsheetWriteTool) Description() string {
	return "Write an .xlsx workspace file: create a file, add a sheet, append rows, or update a single cell."
}

func (t *spreadsheetWriteTool) InputSchema() map[string]any {
	return objectSchema(map[string]any{
		"filename": prop("string", "Workspace-relative .xlsx file name."),
		"mode":     enumProp("Write mode.", "create", "add_sheet", "append_rows", "update_cell"),
		"sheet":    prop("string", "Sheet name. Defaults to Sheet1 for create, required for add_sheet."),
		"rows": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "array"},
			"description": "Rows of cell values for create, add_sheet, and append_rows.",
		},
		"cell":  prop("string", "Cell reference like \"B2\" for update_cell."),
		"value": map[string]any{"description": "Value for update_cell."},
	}, "filename", "mode")
}

func (t *spreadsheetWriteTool) Execute(_ context.Context, args map[string]any, user UserContext) *models.BuiltinToolResult {
	name, ok := stringArg(args, "filename")
	if !ok || strings.TrimSpace(name) == "" {
		return failf("filename is required")
	}
	if !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return failf("filename must have the .xlsx extension")
	}
	path, err := t.ws.Resolve(user.scope(), name)
	if err != nil {
		return failf("%v", err)
	}

	mode, _ := stringArg(args, "mode")
	rows := rowsArg(args)
	sheet := stringArgOr(args, "sheet", "")

	switch mode {
	case "create":
		if sheet == "" {
			sheet = "Sheet1"
		}
		f := excelize.NewFile()
		defer f.Close()
		if sheet != "Sheet1" {
			f.SetSheetName("Sheet1", sheet)
		}
		if err := writeRows(f, sheet, 1, rows); err != nil {
			return failf("%v", err)
		}
		if err := saveWorkbook(f, path, t.ws.MaxFileBytes()); err != nil {
			return failf("%v", err)
		}
		return writeResult(name, mode, sheet, len(rows))

	case "add_sheet":
		if sheet == "" {
			return failf("sheet is required for add_sheet")
		}
		f, err := excelize.OpenFile(path)
		if err != nil {
			return failf("open spreadsheet: %v", err)
		}
		defer f.Close()
		if idx, _ := f.GetSheetIndex(sheet); idx >= 0 {
			return failf("sheet %q already exists", sheet)
		}
		if _, err := f.NewSheet(sheet); err != nil {
			return failf("add sheet: %v", err)
		}
		if err := writeRows(f, sheet, 1, rows); err != nil {
			return failf("%v", err)
		}
		if err := saveWorkbook(f, path, t.ws.MaxFileBytes()); err != nil {
			return failf("%v", err)
		}
		return writeResult(name, mode, sheet, len(rows))

	case "append_rows":
		if len(rows) == 0 {
			return failf("rows are required for append_rows")
		}
		f, err := excelize.OpenFile(path)
		if err != nil {
			return failf("open spreadsheet: %v", err)
		}
		defer f.Close()
		if sheet == "" {
			sheets := f.GetSheetList()
			if len(sheets) == 0 {
				return failf("spreadsheet has no sheets")
			}
			sheet = sheets[0]
		}
		existing, err := f.GetRows(sheet)
		if err != nil {
			return failf("read sheet %q: %v", sheet, err)
		}
		if err := writeRows(f, sheet, len(existing)+1, rows); err != nil {
			return failf("%v", err)
		}
		if err := saveWorkbook(f, path, t.ws.MaxFileBytes()); err != nil {
			return failf("%v", err)
		}
		return writeResult(name, mode, sheet, len(rows))

	case "update_cell":
		cell, ok := stringArg(args, "cell")
		if !ok || cell == "" {
			return failf("cell is required for update_cell")
		}
		value, present := args["value"]
		if !present {
			return failf("value is required for update_cell")
		}
		f, err := excelize.OpenFile(path)
		if err != nil {
			return failf("open spreadsheet: %v", err)
		}
		defer f.Close()
		if sheet == "" {
			sheets := f.GetSheetList()
			if len(sheets) == 0 {
				return failf("spreadsheet has no sheets")
			}
			sheet = sheets[0]
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return failf("update cell %s: %v", cell, err)
		}
		if err := saveWorkbook(f, path, t.ws.MaxFileBytes()); err != nil {
			return failf("%v", err)
		}
		return models.BuiltinOK(map[string]any{
			"filename": name,
			"mode":     mode,
			"sheet":    sheet,
			"cell":     cell,
		})

	default:
		return failf("mode must be one of create, add_sheet, append_rows, update_cell")
	}
}

func rowsArg(args map[string]any) [][]any {
	raw, ok := args["rows"].([]any)
	if !ok {
		return nil
	}
	rows := make([][]any, 0, len(raw))
	for _, r := range raw {
		if cells, ok := r.([]any); ok {
			rows = append(rows, cells)
		}
	}
	return rows
}

func writeRows(f *excelize.File, sheet string, startRow int, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, startRow+i)
		if err != nil {
			return fmt.Errorf("row %d: %w", startRow+i, err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", startRow+i, err)
		}
	}
	return nil
}

// saveWorkbook saves and then re-checks the size cap, since the
// workbook size is only known after encoding.
func saveWorkbook(f *excelize.File, path string, maxBytes int64) error {
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save spreadsheet: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if info.Size() > maxBytes {
		os.Remove(path)
		return fmt.Errorf("spreadsheet exceeds the %d byte limit", maxBytes)
	}
	return nil
}

func writeResult(name, mode, sheet string, rows int) *models.BuiltinToolResult {
	return models.BuiltinOK(map[string]any{
		"filename":     name,
		"mode":         mode,
		"sheet":        sheet,
		"rows_written": rows,
	})
}
