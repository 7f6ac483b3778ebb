package main

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func auditFilterFromQuery(r *http.Request) AuditFilter {
	f := AuditFilter{
		Category: r.URL.Query().Get("category"),
		Username: r.URL.Query().Get("user"),
		PartID:   r.URL.Query().Get("part_id"),
		Search:   r.URL.Query().Get("search"),
		DateFrom: r.URL.Query().Get("from"),
		DateTo:   r.URL.Query().Get("to"),
		Limit:    50,
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		f.Limit = n
	}
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 1 {
		f.Offset = (p - 1) * f.Limit
	}
	return f
}

func handleAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, total, err := queryAudit(auditFilterFromQuery(r))
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}

func handleAuditExport(w http.ResponseWriter, r *http.Request) {
	f := auditFilterFromQuery(r)
	f.Limit = 100000
	f.Offset = 0
	entries, _, err := queryAudit(f)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	headers := []string{"ID", "Timestamp", "Username", "Action", "Category", "Part ID", "Details"}
	data := make([][]string, 0, len(entries))
	for _, e := range entries {
		data = append(data, []string{strconv.Itoa(e.ID), e.CreatedAt, e.Username,
			e.Action, e.Category, e.PartID, e.Details})
	}
	writeCSV(w, "audit.csv", headers, data)
}
