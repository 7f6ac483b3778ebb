package main

import (
	"encoding/csv"
	"fmt"
	"net/http"

	"github.com/xuri/excelize/v2"
)

var partExportHeaders = []string{
	"Part ID", "Product", "Name", "Material", "Size",
	"Status", "Qty Total", "Qty Completed", "Responsible", "Created",
}

func partExportRows(product string) ([][]string, error) {
	query := `SELECT p.part_id, p.product, p.name, p.material, p.size,
		p.current_status, p.quantity_total, p.quantity_completed,
		COALESCE(NULLIF(u.display_name, ''), u.username, ''), p.created_at
		FROM parts p LEFT JOIN users u ON p.responsible_id = u.id`
	var args []interface{}
	if product != "" {
		query += " WHERE p.product = ?"
		args = append(args, product)
	}
	query += " ORDER BY p.product, p.part_id"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var partID, prod, name, material, size, status, responsible, created string
		var total, completed int
		if err := rows.Scan(&partID, &prod, &name, &material, &size,
			&status, &total, &completed, &responsible, &created); err != nil {
			return nil, err
		}
		out = append(out, []string{partID, prod, name, material, size,
			status, fmt.Sprint(total), fmt.Sprint(completed), responsible, created})
	}
	return out, rows.Err()
}

// handleExportParts streams the parts register as CSV or .xlsx.
func handleExportParts(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	data, err := partExportRows(r.URL.Query().Get("product"))
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "export", AuditCategoryManagement, "",
		fmt.Sprintf("Exported %d part(s) as %s", len(data), format))

	switch format {
	case "xlsx":
		writeXLSX(w, "parts.xlsx", "Parts", partExportHeaders, data)
	default:
		writeCSV(w, "parts.csv", partExportHeaders, data)
	}
}

// handleProductReport aggregates per-product progress over root parts.
func handleProductReport(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query(`SELECT product, COUNT(*),
		COALESCE(SUM(quantity_total), 0), COALESCE(SUM(quantity_completed), 0)
		FROM parts WHERE parent_id IS NULL GROUP BY product ORDER BY product`)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	items := []ProductSummary{}
	for rows.Next() {
		var s ProductSummary
		rows.Scan(&s.Product, &s.TotalParts, &s.QuantityTotal, &s.QuantityCompleted)
		items = append(items, s)
	}
	jsonResp(w, items)
}

func writeCSV(w http.ResponseWriter, filename string, headers []string, data [][]string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	cw := csv.NewWriter(w)
	cw.Write(headers)
	for _, row := range data {
		cw.Write(row)
	}
	cw.Flush()
}

func writeXLSX(w http.ResponseWriter, filename, sheetName string, headers []string, data [][]string) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		http.Error(w, "Failed to create Excel sheet", 500)
		return
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		http.Error(w, "Failed to create header style", 500)
		return
	}

	for i, header := range headers {
		cell := fmt.Sprintf("%s1", string(rune('A'+i)))
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}
	for rowIdx, row := range data {
		for colIdx, value := range row {
			cell := fmt.Sprintf("%s%d", string(rune('A'+colIdx)), rowIdx+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	f.Write(w)
}
