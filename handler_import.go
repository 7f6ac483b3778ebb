package main

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"fabtrack/internal/routing"
)

// importRows is the parsed tabular payload: the product designation from
// the preamble plus the data rows keyed by header name.
type importRows struct {
	product string
	rows    []map[string]string
}

// parseImportSheet reads the import layout: a title row, a row holding
// the product designation, then a header row followed by data rows.
func parseImportSheet(raw [][]string) (*importRows, error) {
	if len(raw) < 3 {
		return nil, fmt.Errorf("file needs a title row, a product row and a header row")
	}
	product := ""
	for _, cell := range raw[1] {
		if strings.TrimSpace(cell) != "" {
			product = strings.TrimSpace(cell)
			break
		}
	}
	if product == "" {
		return nil, fmt.Errorf("product designation row is empty")
	}

	headers := make([]string, len(raw[2]))
	for i, h := range raw[2] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	out := &importRows{product: product}
	for _, line := range raw[3:] {
		row := map[string]string{}
		empty := true
		for i, cell := range line {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			row[headers[i]] = cell
			if cell != "" {
				empty = false
			}
		}
		if !empty {
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}

func readImportFile(filename string, f io.Reader) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		wb, err := excelize.OpenReader(f)
		if err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
		defer wb.Close()
		sheets := wb.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		return wb.GetRows(sheets[0])
	case ".csv":
		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		return reader.ReadAll()
	default:
		return nil, fmt.Errorf("unsupported file type (want .xlsx or .csv)")
	}
}

// handleImportParts bulk-creates parts from an uploaded spreadsheet.
// Per-row failures (missing id/name, duplicate id, no usable route) skip
// the row and continue; the response reports added vs skipped counts.
func handleImportParts(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonErrCode(w, "Invalid multipart form", "VALIDATION_FAILED", 400)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonErrCode(w, "file field is required", "VALIDATION_FAILED", 400)
		return
	}
	defer file.Close()

	raw, err := readImportFile(header.Filename, file)
	if err != nil {
		jsonErrCode(w, err.Error(), "VALIDATION_FAILED", 400)
		return
	}
	parsed, err := parseImportSheet(raw)
	if err != nil {
		jsonErrCode(w, err.Error(), "VALIDATION_FAILED", 400)
		return
	}

	result := ImportResult{}
	for i, row := range parsed.rows {
		if err := importOneRow(parsed.product, row); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i+1, err))
			continue
		}
		result.Added++
	}

	logAudit(r, "import", AuditCategoryPart, "",
		fmt.Sprintf("Imported %d part(s) for %s, %d skipped", result.Added, parsed.product, result.Skipped))
	broadcast("import_finished",
		fmt.Sprintf("Import finished: %d added, %d skipped", result.Added, result.Skipped), "")
	jsonResp(w, result)
}

// importOneRow creates one part in its own transaction, inferring the
// route from the operations cell or falling back to the default template.
func importOneRow(product string, row map[string]string) error {
	partID := row["part id"]
	name := row["name"]
	if partID == "" {
		return fmt.Errorf("missing part id")
	}
	if name == "" {
		return fmt.Errorf("missing name")
	}

	qty := 1
	if q := row["qty"]; q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid qty %q", q)
		}
		qty = n
	}
	material := row["material"]
	if material == "" {
		material = "Unspecified"
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	tx.QueryRow("SELECT COUNT(*) FROM parts WHERE part_id = ?", partID).Scan(&exists)
	if exists > 0 {
		return fmt.Errorf("duplicate part id %s", partID)
	}

	var templateID interface{}
	if ops := routing.SplitOperations(row["operations"]); len(ops) > 0 {
		id, err := resolveOrCreateRoute(tx, ops)
		if err != nil {
			return err
		}
		templateID = id
	} else {
		var id int
		err := tx.QueryRow("SELECT id FROM route_templates WHERE is_default = 1").Scan(&id)
		if err == sql.ErrNoRows {
			return fmt.Errorf("no operations and no default route")
		}
		if err != nil {
			return err
		}
		templateID = id
	}

	if _, err := tx.Exec(`INSERT INTO parts (part_id, product, name, material, size,
		quantity_total, route_template_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		partID, product, name, material, row["size"], qty, templateID); err != nil {
		return err
	}
	return tx.Commit()
}
