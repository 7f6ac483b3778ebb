package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "modernc.org/sqlite"

	"fabtrack/internal/auth"
)

var db *sql.DB

// sqliteTimeFormat is how timestamps are stored in TEXT columns.
const sqliteTimeFormat = "2006-01-02 15:04:05"

func initDB(path string) error {
	// Close previous connection if any (prevents goroutine leaks in tests)
	if db != nil {
		db.Close()
	}
	var err error
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err = sql.Open("sqlite", path+sep+"_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=1")
	if err != nil {
		return err
	}

	// SQLite handles 1 writer + multiple readers with WAL mode
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	// Explicitly set pragmas (some drivers don't parse connection string params)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=10000"); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	return runMigrations()
}

func runMigrations() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			is_default INTEGER DEFAULT 0,
			permissions INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			display_name TEXT DEFAULT '',
			role_id INTEGER NOT NULL,
			active INTEGER DEFAULT 1,
			last_login DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (role_id) REFERENCES roles(id)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS stages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS route_templates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			is_default INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS route_stages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			template_id INTEGER NOT NULL,
			stage_id INTEGER NOT NULL,
			ord INTEGER NOT NULL,
			FOREIGN KEY (template_id) REFERENCES route_templates(id) ON DELETE CASCADE,
			FOREIGN KEY (stage_id) REFERENCES stages(id),
			UNIQUE (template_id, ord)
		)`,
		`CREATE TABLE IF NOT EXISTS parts (
			part_id TEXT PRIMARY KEY,
			product TEXT NOT NULL,
			name TEXT NOT NULL,
			material TEXT DEFAULT 'Unspecified',
			size TEXT DEFAULT '',
			drawing_filename TEXT DEFAULT '',
			current_status TEXT DEFAULT 'In stock',
			quantity_total INTEGER NOT NULL DEFAULT 1 CHECK(quantity_total >= 1),
			quantity_completed INTEGER NOT NULL DEFAULT 0 CHECK(quantity_completed >= 0),
			route_template_id INTEGER,
			responsible_id INTEGER,
			parent_id TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_update DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (route_template_id) REFERENCES route_templates(id),
			FOREIGN KEY (responsible_id) REFERENCES users(id),
			FOREIGN KEY (parent_id) REFERENCES parts(part_id)
		)`,
		// stage is a denormalized name copy: renaming a stage leaves
		// historical rows under the old name.
		`CREATE TABLE IF NOT EXISTS status_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			part_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			operator_name TEXT DEFAULT '',
			quantity INTEGER NOT NULL DEFAULT 1 CHECK(quantity >= 1),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (part_id) REFERENCES parts(part_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS responsible_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			part_id TEXT NOT NULL,
			user_id INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (part_id) REFERENCES parts(part_id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS part_notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			part_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			stage_id INTEGER,
			text TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (part_id) REFERENCES parts(part_id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (stage_id) REFERENCES stages(id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			part_id TEXT,
			user_id INTEGER,
			username TEXT DEFAULT 'system',
			action TEXT NOT NULL,
			details TEXT DEFAULT '',
			category TEXT NOT NULL DEFAULT 'part' CHECK(category IN ('part','management','auth')),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, t := range tables {
		if _, err := db.Exec(t); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_parts_product ON parts(product)`,
		`CREATE INDEX IF NOT EXISTS idx_parts_parent ON parts(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_parts_route ON parts(route_template_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_part ON status_history(part_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_part_stage ON status_history(part_id, stage)`,
		`CREATE INDEX IF NOT EXISTS idx_resp_history_part ON responsible_history(part_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_part ON part_notes(part_id)`,
		`CREATE INDEX IF NOT EXISTS idx_route_stages_tpl ON route_stages(template_id, ord)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_part ON audit_log(part_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("index migration: %w", err)
		}
	}
	return nil
}

// seedDB ensures the three built-in roles and the admin account exist.
func seedDB() {
	roles := []struct {
		name      string
		isDefault int
		mask      int
	}{
		{"Operator", 1, auth.OperatorMask},
		{"Manager", 0, auth.ManagerMask},
		{"Administrator", 0, auth.AdminMask},
	}
	for _, r := range roles {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM roles WHERE name = ?", r.name).Scan(&count)
		if count == 0 {
			db.Exec("INSERT INTO roles (name, is_default, permissions) VALUES (?, ?, ?)",
				r.name, r.isDefault, r.mask)
		} else {
			// Keep built-in masks current across upgrades
			db.Exec("UPDATE roles SET permissions = ? WHERE name = ?", r.mask, r.name)
		}
	}

	var userCount int
	db.QueryRow("SELECT COUNT(*) FROM users WHERE username = 'admin'").Scan(&userCount)
	if userCount == 0 {
		hash, err := auth.HashPassword("changeme")
		if err != nil {
			log.Printf("Failed to hash admin password: %v", err)
			return
		}
		var adminRoleID int
		db.QueryRow("SELECT id FROM roles WHERE name = 'Administrator'").Scan(&adminRoleID)
		db.Exec("INSERT INTO users (username, password_hash, display_name, role_id) VALUES (?, ?, ?, ?)",
			"admin", hash, "Administrator", adminRoleID)
	}
}

// defaultRoleID returns the role assigned to new users.
func defaultRoleID() (int, error) {
	var id int
	err := db.QueryRow("SELECT id FROM roles WHERE is_default = 1 ORDER BY id LIMIT 1").Scan(&id)
	return id, err
}

// routeStageNames returns the ordered stage names of a route template.
func routeStageNames(q queryer, templateID int) ([]string, error) {
	rows, err := q.Query(`SELECT s.name FROM route_stages rs
		JOIN stages s ON rs.stage_id = s.id
		WHERE rs.template_id = ? ORDER BY rs.ord`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// recomputePartProgress rebuilds quantity_completed and current_status of
// a part from its ledger. Repair routine: normal mutations keep the
// cached fields consistent inside their own transactions.
// quantity_completed is the running total of all recorded quantities.
func recomputePartProgress(q execQueryer, partID string) error {
	var exists int
	if err := q.QueryRow("SELECT COUNT(*) FROM parts WHERE part_id = ?", partID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return sql.ErrNoRows
	}

	var completed int
	if err := q.QueryRow(`SELECT COALESCE(SUM(quantity), 0) FROM status_history
		WHERE part_id = ?`, partID).Scan(&completed); err != nil {
		return err
	}

	status := "In stock"
	var lastStage sql.NullString
	q.QueryRow(`SELECT stage FROM status_history WHERE part_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, partID).Scan(&lastStage)
	if lastStage.Valid {
		status = lastStage.String
	}

	_, err := q.Exec("UPDATE parts SET quantity_completed = ?, current_status = ? WHERE part_id = ?",
		completed, status, partID)
	return err
}

type execQueryer interface {
	queryer
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// doneByStageFor sums recorded quantities per stage for one part.
func doneByStageFor(q queryer, partID string) (map[string]int, error) {
	rows, err := q.Query(`SELECT stage, SUM(quantity) FROM status_history
		WHERE part_id = ? GROUP BY stage`, partID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := make(map[string]int)
	for rows.Next() {
		var stage string
		var qty int
		if err := rows.Scan(&stage, &qty); err != nil {
			return nil, err
		}
		done[stage] = qty
	}
	return done, rows.Err()
}
