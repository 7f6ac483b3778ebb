package main

import "net/http"

// handleDashboard returns top-level counters plus per-product progress.
func handleDashboard(w http.ResponseWriter, r *http.Request) {
	var totalParts, inProduction, unrouted int
	db.QueryRow("SELECT COUNT(*) FROM parts").Scan(&totalParts)
	db.QueryRow("SELECT COUNT(*) FROM parts WHERE quantity_completed > 0").Scan(&inProduction)
	db.QueryRow("SELECT COUNT(*) FROM parts WHERE route_template_id IS NULL").Scan(&unrouted)

	rows, err := db.Query(`SELECT product, COUNT(*),
		COALESCE(SUM(quantity_total), 0), COALESCE(SUM(quantity_completed), 0)
		FROM parts WHERE parent_id IS NULL GROUP BY product ORDER BY product`)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	products := []ProductSummary{}
	for rows.Next() {
		var s ProductSummary
		rows.Scan(&s.Product, &s.TotalParts, &s.QuantityTotal, &s.QuantityCompleted)
		products = append(products, s)
	}

	jsonResp(w, map[string]interface{}{
		"total_parts":   totalParts,
		"in_production": inProduction,
		"unrouted":      unrouted,
		"products":      products,
	})
}
