package shared

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
)

// History schema changes live in sql/ as NNNN_<name>_up.sql with a matching _down.sql.
//
//go:embed sql/*.sql
var historySchema embed.FS

const schemaTable = "schema_migrations"

// Migration is one numbered change to the history schema.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

func (m Migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// parseMigrationFile splits "0001_create_history_up.sql" into 1, "create_history" and "up".
func parseMigrationFile(file string) (version int, name, direction string, ok bool) {
	stem, found := strings.CutSuffix(file, ".sql")
	if !found {
		return 0, "", "", false
	}

	switch {
	case strings.HasSuffix(stem, "_up"):
		stem, direction = strings.TrimSuffix(stem, "_up"), "up"
	case strings.HasSuffix(stem, "_down"):
		stem, direction = strings.TrimSuffix(stem, "_down"), "down"
	default:
		return 0, "", "", false
	}

	prefix, name, found := strings.Cut(stem, "_")
	if !found || name == "" {
		return 0, "", "", false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", "", false
	}
	return version, name, direction, true
}

// loadMigrations returns the embedded migrations in version order. Every version needs both
// scripts and one name.
func loadMigrations() ([]Migration, error) {
	files, err := fs.Glob(historySchema, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, file := range files {
		version, name, direction, ok := parseMigrationFile(path.Base(file))
		if !ok {
			return nil, fmt.Errorf("unexpected migration file name %s", path.Base(file))
		}

		content, err := historySchema.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		m, seen := byVersion[version]
		if !seen {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration %d is named both %s and %s", version, m.Name, name)
		}

		if direction == "up" {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("incomplete migration %s", m)
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return a.Version - b.Version })
	return migrations, nil
}

// RunMigrations applies every pending migration in order and returns the ones it applied.
func RunMigrations(db *sql.DB) ([]Migration, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return nil, err
	}

	var ran []Migration
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := migrate(db, m, m.Up, true); err != nil {
			return ran, fmt.Errorf("failed to apply migration %s: %w", m, err)
		}
		ran = append(ran, m)
	}
	return ran, nil
}

// RollbackMigration reverts the most recently applied migration.
func RollbackMigration(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	current, err := CurrentVersion(db)
	if err != nil {
		return err
	}
	if current == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	i := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version == current })
	if i < 0 {
		return fmt.Errorf("migration version %d not found", current)
	}
	if err := migrate(db, migrations[i], migrations[i].Down, false); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migrations[i], err)
	}
	return nil
}

// CurrentVersion returns the highest applied migration version, or 0 when none are applied.
func CurrentVersion(db *sql.DB) (int, error) {
	if err := ensureSchemaTable(db); err != nil {
		return 0, err
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM " + schemaTable).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func ensureSchemaTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + schemaTable + ` (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", schemaTable, err)
	}
	return nil
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	if err := ensureSchemaTable(db); err != nil {
		return nil, err
	}

	rows, err := db.Query("SELECT version FROM " + schemaTable)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// migrate runs script in one transaction and records (up) or forgets (down) the migration.
func migrate(db *sql.DB, m Migration, script string, up bool) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(script) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("%w\nStatement: %s", err, stmt)
		}
	}

	if up {
		_, err = tx.Exec("INSERT INTO "+schemaTable+" (version, name) VALUES (?, ?)", m.Version, m.Name)
	} else {
		_, err = tx.Exec("DELETE FROM "+schemaTable+" WHERE version = ?", m.Version)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// splitStatements drops "--" comments and splits script on semicolons. The history schema has
// no string literals containing either.
func splitStatements(script string) []string {
	var b strings.Builder
	for line := range strings.Lines(script) {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i] + "\n"
		}
		b.WriteString(line)
	}

	var stmts []string
	for stmt := range strings.SplitSeq(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
