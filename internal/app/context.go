package app

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/migrate"
)

// Bootstrap opens the workspace database, applies pending migrations, and
// loads configuration. A missing opsdesk.yml falls back to defaults named
// after the workspace directory.
func Bootstrap(workspace string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if cfg == nil {
		cfg = config.Default(defaultProjectID(workspace))
	}
	return conn, cfg, nil
}

func defaultProjectID(workspace string) string {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "opsdesk"
	}
	name := filepath.Base(abs)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "opsdesk"
	}
	return name
}
