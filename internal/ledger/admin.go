package ledger

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the debug index on mux with a live SQL console
// over the ledger and, for SQLite, an on-demand backup download.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB(s.sourceURL(), s.db.DB, &tailsql.DBOptions{
		Label: "Processing ledger",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	if s.driver == DriverSQLite {
		debug.Handle("backup", "Create and download a backup of the ledger now", http.HandlerFunc(s.serveBackup))
	}
}

// sourceURL labels the database without leaking credentials.
func (s *Store) sourceURL() string {
	if s.driver == DriverSQLite {
		return "sqlite://" + filepath.Base(s.dsn)
	}
	if i := strings.LastIndex(s.dsn, "@"); i >= 0 {
		return "postgres://" + s.dsn[i+1:]
	}
	return "postgres://ledger"
}

func (s *Store) serveBackup(w http.ResponseWriter, r *http.Request) {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("ledger-backup-%d.db", s.clock.Now().Unix()))
	if _, err := s.db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			opsf("failed to remove backup file: %v", err)
		}
	}()
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, backupPath)
}
