package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	migrationsDir     = "sql/migrations"
	migrationLockKey  = int64(20417311)
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version int64
	Name    string
	Scripts map[migrationDirection]string
}

func (m migration) label() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationState описывает состояние схемы.
type MigrationState struct {
	Version int64
	Applied int
	Pending int
}

// MigrateUp применяет up-миграции. steps=0 применяет все ожидающие.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает миграции, по умолчанию ровно одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationDown, max(steps, 1))
}

// MigrationStatus возвращает текущую версию схемы и число применённых и ожидающих миграций.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errors.New("postgres store is not initialized")
	}

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, migrationTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied)}
	for version := range applied {
		state.Version = max(state.Version, version)
	}
	state.Pending = len(planMigrations(migrations, applied, migrationUp, 0))
	return state, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}
	if direction == migrationDown {
		known := make(map[int64]bool, len(migrations))
		for _, m := range migrations {
			known[m.Version] = true
		}
		for version := range applied {
			if !known[version] {
				return fmt.Errorf("cannot rollback unknown migration version %d", version)
			}
		}
	}

	for _, m := range planMigrations(migrations, applied, direction, steps) {
		if err := applyMigration(ctx, conn, m, direction); err != nil {
			return err
		}
	}
	return nil
}

// planMigrations выбирает миграции для шага в заданном направлении.
// Вверх идут неприменённые по возрастанию версии, вниз применённые по убыванию.
func planMigrations(migrations []migration, applied map[int64]bool, direction migrationDirection, steps int) []migration {
	var plan []migration
	for _, m := range migrations {
		if applied[m.Version] == (direction == migrationDown) {
			plan = append(plan, m)
		}
	}
	if direction == migrationDown {
		slices.Reverse(plan)
	}
	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan
}

func applyMigration(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %s): %w", direction, m.label(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.Scripts[direction]); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", direction, m.label(), err)
	}

	record := `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`
	args := []any{m.Version, m.Name}
	if direction == migrationDown {
		record = `DELETE FROM schema_migrations WHERE version = $1`
		args = args[:1]
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m.label(), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m.label(), err)
	}
	return nil
}

type rowsQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func appliedVersions(ctx context.Context, q rowsQueryer) (map[int64]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		matches := migrationFilePattern.FindStringSubmatch(base)
		if len(matches) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}

		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}
		name, direction := matches[2], migrationDirection(matches[3])

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		switch {
		case !ok:
			m = &migration{Version: version, Name: name, Scripts: make(map[migrationDirection]string, 2)}
			byVersion[version] = m
		case m.Name != name:
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}
		if _, dup := m.Scripts[direction]; dup {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		m.Scripts[direction] = body
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Scripts[migrationUp] == "" || m.Scripts[migrationDown] == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })

	return migrations, nil
}
