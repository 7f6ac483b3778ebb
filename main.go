package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
)

var drawingsDir string
var companyName string

func main() {
	configPath := flag.String("config", "fabtrack.yaml", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal("Config load failed:", err)
	}
	cfg.applyEnv()
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	drawingsDir = cfg.DrawingsDir
	companyName = cfg.CompanyName

	if err := os.MkdirAll(drawingsDir, 0755); err != nil {
		log.Fatal("Drawings dir:", err)
	}
	if err := initDB(cfg.DBPath); err != nil {
		log.Fatal("DB init failed:", err)
	}
	seedDB()

	mux := http.NewServeMux()

	mux.HandleFunc("/ws", handleWebSocket)

	// Drawing files
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		filename := strings.TrimPrefix(r.URL.Path, "/files/")
		if filename == "" {
			http.NotFound(w, r)
			return
		}
		handleServeDrawing(w, r, filename)
	})

	// Auth routes
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			handleLogin(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			handleLogout(w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/me", handleMe)

	// API routes - simple segment router
	mux.HandleFunc("/api/v1/", apiRouter)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("fabtrack server starting on http://localhost%s", addr)
	log.Fatal(http.ListenAndServe(addr, logging(requireAuth(requirePerms(mux)))))
}

func apiRouter(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(path, "/")

	switch {
	case path == "health" && r.Method == "GET":
		jsonResp(w, map[string]string{"status": "ok"})
	case path == "config" && r.Method == "GET":
		jsonResp(w, map[string]string{"company_name": companyName})

	// Dashboard
	case path == "dashboard" && r.Method == "GET":
		handleDashboard(w, r)

	// Audit
	case path == "audit" && r.Method == "GET":
		handleAuditLog(w, r)
	case path == "audit/export" && r.Method == "GET":
		handleAuditExport(w, r)

	// Stages
	case parts[0] == "stages" && len(parts) == 1 && r.Method == "GET":
		handleListStages(w, r)
	case parts[0] == "stages" && len(parts) == 1 && r.Method == "POST":
		handleCreateStage(w, r)
	case parts[0] == "stages" && len(parts) == 2 && r.Method == "PUT":
		handleRenameStage(w, r, parts[1])
	case parts[0] == "stages" && len(parts) == 2 && r.Method == "DELETE":
		handleDeleteStage(w, r, parts[1])

	// Route templates
	case parts[0] == "routes" && len(parts) == 1 && r.Method == "GET":
		handleListRoutes(w, r)
	case parts[0] == "routes" && len(parts) == 1 && r.Method == "POST":
		handleCreateRoute(w, r)
	case parts[0] == "routes" && len(parts) == 2 && r.Method == "GET":
		handleGetRoute(w, r, parts[1])
	case parts[0] == "routes" && len(parts) == 2 && r.Method == "PUT":
		handleUpdateRoute(w, r, parts[1])
	case parts[0] == "routes" && len(parts) == 2 && r.Method == "DELETE":
		handleDeleteRoute(w, r, parts[1])
	case parts[0] == "routes" && len(parts) == 3 && parts[2] == "default" && r.Method == "POST":
		handleSetDefaultRoute(w, r, parts[1])

	// Parts
	case parts[0] == "parts" && len(parts) == 1 && r.Method == "GET":
		handleListParts(w, r)
	case parts[0] == "parts" && len(parts) == 1 && r.Method == "POST":
		handleCreatePart(w, r)
	case parts[0] == "parts" && len(parts) == 2 && parts[1] == "bulk-delete" && r.Method == "POST":
		handleBulkDeleteParts(w, r)
	case parts[0] == "parts" && len(parts) == 2 && r.Method == "GET":
		handleGetPart(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 2 && r.Method == "PUT":
		handleUpdatePart(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 2 && r.Method == "DELETE":
		handleDeletePart(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 3 && parts[2] == "children" && r.Method == "POST":
		handleCreateChildPart(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 3 && parts[2] == "stages" && r.Method == "GET":
		handlePartStages(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 3 && parts[2] == "next-stage" && r.Method == "GET":
		handleNextStage(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 3 && parts[2] == "history" && r.Method == "GET":
		handlePartHistory(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 3 && parts[2] == "notes" && r.Method == "GET":
		handleListPartNotes(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 3 && parts[2] == "responsible" && r.Method == "PUT":
		handleReassignResponsible(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 3 && parts[2] == "route" && r.Method == "PUT":
		handleChangePartRoute(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 3 && parts[2] == "qr" && r.Method == "GET":
		handlePartQR(w, r, parts[1])
	case parts[0] == "parts" && len(parts) == 3 && parts[2] == "drawing" && r.Method == "PUT":
		handleUploadDrawing(w, r, parts[1])

	// Progress ledger
	case parts[0] == "progress" && len(parts) == 1 && r.Method == "POST":
		handleRecordCompletion(w, r)
	case parts[0] == "progress" && len(parts) == 2 && r.Method == "DELETE":
		handleCancelEntry(w, r, parts[1])

	// Notes
	case parts[0] == "notes" && len(parts) == 1 && r.Method == "POST":
		handleCreateNote(w, r)
	case parts[0] == "notes" && len(parts) == 2 && r.Method == "PUT":
		handleUpdateNote(w, r, parts[1])
	case parts[0] == "notes" && len(parts) == 2 && r.Method == "DELETE":
		handleDeleteNote(w, r, parts[1])

	// Bulk import
	case path == "import" && r.Method == "POST":
		handleImportParts(w, r)

	// Reports / export
	case path == "export/parts" && r.Method == "GET":
		handleExportParts(w, r)
	case path == "reports/products" && r.Method == "GET":
		handleProductReport(w, r)

	// Users & roles
	case parts[0] == "users" && len(parts) == 1 && r.Method == "GET":
		handleListUsers(w, r)
	case parts[0] == "users" && len(parts) == 1 && r.Method == "POST":
		handleCreateUser(w, r)
	case parts[0] == "users" && len(parts) == 2 && r.Method == "PUT":
		handleUpdateUser(w, r, parts[1])
	case parts[0] == "users" && len(parts) == 3 && parts[2] == "password" && r.Method == "PUT":
		handleResetPassword(w, r, parts[1])
	case parts[0] == "roles" && len(parts) == 1 && r.Method == "GET":
		handleListRoles(w, r)

	default:
		jsonErrCode(w, "not found", "NOT_FOUND", 404)
	}
}

func jsonResp(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(APIResponse{Data: data})
}

func jsonRespMeta(w http.ResponseWriter, data interface{}, total, page, limit int) {
	json.NewEncoder(w).Encode(APIResponse{Data: data, Meta: &Meta{Total: total, Page: page, Limit: limit}})
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// jsonErrCode writes an error with a machine-readable taxonomy code.
func jsonErrCode(w http.ResponseWriter, msg, errCode string, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": errCode})
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
