package main

import (
	"net/http"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"
)

// handlePartQR renders a QR label PNG encoding the part id.
func handlePartQR(w http.ResponseWriter, r *http.Request, partID string) {
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM parts WHERE part_id = ?", partID).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}

	size := 256
	if n, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && n >= 64 && n <= 1024 {
		size = n
	}

	png, err := qrcode.Encode(partID, qrcode.Medium, size)
	if err != nil {
		jsonErrCode(w, "QR generation failed", "EXTERNAL_SERVICE_FAILURE", 502)
		return
	}

	logAudit(r, "generate_qr", AuditCategoryPart, partID, "Generated QR label")
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
