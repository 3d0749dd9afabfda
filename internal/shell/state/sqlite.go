package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Environment Operations
// =============================================================================

// environmentRow represents an environment row in the database.
type environmentRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Status      string `db:"status"`
	NetworkID   string `db:"network_id"`
	NetworkName string `db:"network_name"`
	Manifest    string `db:"manifest"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (s *SQLiteStore) CreateEnvironment(ctx context.Context, env *Environment) error {
	query := `
		INSERT INTO environments (
			id, name, status, network_id, network_name, manifest,
			created_at, updated_at
		) VALUES (
			:id, :name, :status, :network_id, :network_name, :manifest,
			:created_at, :updated_at
		)`

	row := map[string]any{
		"id":           env.ID,
		"name":         env.Name,
		"status":       string(env.Status),
		"network_id":   env.NetworkID,
		"network_name": env.NetworkName,
		"manifest":     env.Manifest,
		"created_at":   env.CreatedAt.Format(time.RFC3339),
		"updated_at":   env.UpdatedAt.Format(time.RFC3339),
	}

	_, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: environments.name") {
			return NewStoreError("CreateEnvironment", "environment", env.Name, "environment with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateEnvironment", "environment", env.Name, err.Error(), err)
	}

	return nil
}

func (s *SQLiteStore) GetEnvironment(ctx context.Context, name string) (*Environment, error) {
	query := `SELECT * FROM environments WHERE name = ?`

	var row environmentRow
	err := s.db.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetEnvironment", "environment", name, "environment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetEnvironment", "environment", name, err.Error(), err)
	}

	return rowToEnvironment(&row), nil
}

func (s *SQLiteStore) ListEnvironments(ctx context.Context) ([]Environment, error) {
	query := `SELECT * FROM environments ORDER BY created_at DESC`

	var rows []environmentRow
	err := s.db.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, NewStoreError("ListEnvironments", "environment", "", err.Error(), err)
	}

	envs := make([]Environment, 0, len(rows))
	for _, row := range rows {
		envs = append(envs, *rowToEnvironment(&row))
	}

	return envs, nil
}

func (s *SQLiteStore) UpdateEnvironmentStatus(ctx context.Context, name string, status EnvironmentStatus) error {
	query := `UPDATE environments SET status = ?, updated_at = ? WHERE name = ?`

	result, err := s.db.ExecContext(ctx, query, string(status), time.Now().UTC().Format(time.RFC3339), name)
	if err != nil {
		return NewStoreError("UpdateEnvironmentStatus", "environment", name, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateEnvironmentStatus", "environment", name, "environment not found", ErrNotFound)
	}

	return nil
}

func (s *SQLiteStore) DeleteEnvironment(ctx context.Context, name string) error {
	query := `DELETE FROM environments WHERE name = ?`

	result, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return NewStoreError("DeleteEnvironment", "environment", name, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteEnvironment", "environment", name, "environment not found", ErrNotFound)
	}

	return nil
}

// =============================================================================
// Container Operations
// =============================================================================

// containerRow represents a container row in the database.
type containerRow struct {
	EnvironmentID string `db:"environment_id"`
	Service       string `db:"service"`
	ContainerID   string `db:"container_id"`
	Name          string `db:"name"`
	Ordinal       int    `db:"ordinal"`
}

func (s *SQLiteStore) ReplaceContainers(ctx context.Context, environmentID string, containers []Container) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("ReplaceContainers", "container", environmentID, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM containers WHERE environment_id = ?`, environmentID); err != nil {
		return NewStoreError("ReplaceContainers", "container", environmentID, err.Error(), err)
	}

	query := `
		INSERT INTO containers (environment_id, service, container_id, name, ordinal)
		VALUES (:environment_id, :service, :container_id, :name, :ordinal)`

	for i, c := range containers {
		row := map[string]any{
			"environment_id": environmentID,
			"service":        c.Service,
			"container_id":   c.ContainerID,
			"name":           c.Name,
			"ordinal":        i,
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return NewStoreError("ReplaceContainers", "container", c.Service, err.Error(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("ReplaceContainers", "container", environmentID, "failed to commit transaction", err)
	}

	return nil
}

func (s *SQLiteStore) ListContainers(ctx context.Context, environmentID string) ([]Container, error) {
	query := `SELECT * FROM containers WHERE environment_id = ? ORDER BY ordinal ASC`

	var rows []containerRow
	err := s.db.SelectContext(ctx, &rows, query, environmentID)
	if err != nil {
		return nil, NewStoreError("ListContainers", "container", environmentID, err.Error(), err)
	}

	containers := make([]Container, 0, len(rows))
	for _, row := range rows {
		containers = append(containers, Container{
			EnvironmentID: row.EnvironmentID,
			Service:       row.Service,
			ContainerID:   row.ContainerID,
			Name:          row.Name,
			Ordinal:       row.Ordinal,
		})
	}

	return containers, nil
}

// =============================================================================
// Volume Operations
// =============================================================================

// volumeRow represents a volume row in the database.
type volumeRow struct {
	EnvironmentID string `db:"environment_id"`
	Name          string `db:"name"`
}

func (s *SQLiteStore) ReplaceVolumes(ctx context.Context, environmentID string, volumes []Volume) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("ReplaceVolumes", "volume", environmentID, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM volumes WHERE environment_id = ?`, environmentID); err != nil {
		return NewStoreError("ReplaceVolumes", "volume", environmentID, err.Error(), err)
	}

	for _, v := range volumes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO volumes (environment_id, name) VALUES (?, ?)`,
			environmentID, v.Name); err != nil {
			return NewStoreError("ReplaceVolumes", "volume", v.Name, err.Error(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("ReplaceVolumes", "volume", environmentID, "failed to commit transaction", err)
	}

	return nil
}

func (s *SQLiteStore) ListVolumes(ctx context.Context, environmentID string) ([]Volume, error) {
	query := `SELECT * FROM volumes WHERE environment_id = ? ORDER BY name ASC`

	var rows []volumeRow
	err := s.db.SelectContext(ctx, &rows, query, environmentID)
	if err != nil {
		return nil, NewStoreError("ListVolumes", "volume", environmentID, err.Error(), err)
	}

	volumes := make([]Volume, 0, len(rows))
	for _, row := range rows {
		volumes = append(volumes, Volume{
			EnvironmentID: row.EnvironmentID,
			Name:          row.Name,
		})
	}

	return volumes, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

// rowToEnvironment converts a database row to an Environment.
func rowToEnvironment(row *environmentRow) *Environment {
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, row.UpdatedAt)

	return &Environment{
		ID:          row.ID,
		Name:        row.Name,
		Status:      EnvironmentStatus(row.Status),
		NetworkID:   row.NetworkID,
		NetworkName: row.NetworkName,
		Manifest:    row.Manifest,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}
