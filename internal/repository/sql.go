package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/akmukhi/developer-self-service/internal/models"
)

// SQLStore persists records in SQLite or PostgreSQL through sqlx.
// Timestamps are stored as unix nanoseconds.
type SQLStore struct {
	db      *sqlx.DB
	backend string
	// lockRow is appended to the SELECT inside Update.
	lockRow string
}

type environmentRow struct {
	ID        string        `db:"id"`
	Name      string        `db:"name"`
	Namespace string        `db:"namespace"`
	Status    string        `db:"status"`
	TTLHours  int           `db:"ttl_hours"`
	CreatedAt int64         `db:"created_at"`
	ExpiresAt int64         `db:"expires_at"`
	DeletedAt sql.NullInt64 `db:"deleted_at"`
	Services  string        `db:"services"`
	Labels    string        `db:"labels"`
}

const environmentColumns = `id, name, namespace, status, ttl_hours, created_at, expires_at, deleted_at, services, labels`

// NewSQLiteStore opens (creating if needed) a SQLite database and applies migrations.
// Use ":memory:" for a throwaway store.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}
	// SQLite serializes writers; a single connection keeps Update transactions atomic
	// and keeps ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)
	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if err := Migrate(ctx, db.DB, "sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, backend: "sqlite"}, nil
}

// NewPostgresStore connects to PostgreSQL and applies migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := Migrate(ctx, db.DB, "postgres"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, backend: "postgres", lockRow: " FOR UPDATE"}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Create(ctx context.Context, env *models.Environment) error {
	row, err := toRow(env)
	if err != nil {
		return err
	}
	return instrument(s.backend, "create", func() error {
		query := s.db.Rebind(`INSERT INTO environments (` + environmentColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := s.db.ExecContext(ctx, query,
			row.ID, row.Name, row.Namespace, row.Status, row.TTLHours,
			row.CreatedAt, row.ExpiresAt, row.DeletedAt, row.Services, row.Labels,
		)
		if err != nil && isUniqueViolation(err) {
			return ErrExists
		}
		return err
	})
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Environment, error) {
	var row environmentRow
	err := instrument(s.backend, "get", func() error {
		query := s.db.Rebind(`SELECT ` + environmentColumns + ` FROM environments WHERE id = ?`)
		return s.db.GetContext(ctx, &row, query, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(row)
}

func (s *SQLStore) List(ctx context.Context, namespace string) ([]*models.Environment, error) {
	var rows []environmentRow
	err := instrument(s.backend, "list", func() error {
		if namespace == "" {
			return s.db.SelectContext(ctx, &rows, `SELECT `+environmentColumns+` FROM environments ORDER BY created_at, id`)
		}
		query := s.db.Rebind(`SELECT ` + environmentColumns + ` FROM environments WHERE namespace = ? ORDER BY created_at, id`)
		return s.db.SelectContext(ctx, &rows, query, namespace)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Environment, 0, len(rows))
	for _, row := range rows {
		env, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, fn UpdateFunc) (*models.Environment, error) {
	var updated *models.Environment
	err := instrument(s.backend, "update", func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var row environmentRow
		query := tx.Rebind(`SELECT ` + environmentColumns + ` FROM environments WHERE id = ?` + s.lockRow)
		if err := tx.GetContext(ctx, &row, query, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		env, err := fromRow(row)
		if err != nil {
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
		env.ID = id
		next, err := toRow(env)
		if err != nil {
			return err
		}
		update := tx.Rebind(`UPDATE environments
			SET name = ?, namespace = ?, status = ?, ttl_hours = ?, created_at = ?, expires_at = ?,
			    deleted_at = ?, services = ?, labels = ?
			WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, update,
			next.Name, next.Namespace, next.Status, next.TTLHours, next.CreatedAt, next.ExpiresAt,
			next.DeletedAt, next.Services, next.Labels, id,
		); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		updated = env
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func toRow(env *models.Environment) (environmentRow, error) {
	services := env.Services
	if services == nil {
		services = []string{}
	}
	svc, err := json.Marshal(services)
	if err != nil {
		return environmentRow{}, fmt.Errorf("encode services: %w", err)
	}
	labels := env.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	lbl, err := json.Marshal(labels)
	if err != nil {
		return environmentRow{}, fmt.Errorf("encode labels: %w", err)
	}
	row := environmentRow{
		ID:        env.ID,
		Name:      env.Name,
		Namespace: env.Namespace,
		Status:    string(env.Status),
		TTLHours:  env.TTLHours,
		CreatedAt: env.CreatedAt.UnixNano(),
		ExpiresAt: env.ExpiresAt.UnixNano(),
		Services:  string(svc),
		Labels:    string(lbl),
	}
	if env.DeletedAt != nil {
		row.DeletedAt = sql.NullInt64{Int64: env.DeletedAt.UnixNano(), Valid: true}
	}
	return row, nil
}

func fromRow(row environmentRow) (*models.Environment, error) {
	env := &models.Environment{
		ID:        row.ID,
		Name:      row.Name,
		Namespace: row.Namespace,
		Status:    models.EnvironmentStatus(row.Status),
		TTLHours:  row.TTLHours,
		CreatedAt: time.Unix(0, row.CreatedAt).UTC(),
		ExpiresAt: time.Unix(0, row.ExpiresAt).UTC(),
	}
	if row.DeletedAt.Valid {
		t := time.Unix(0, row.DeletedAt.Int64).UTC()
		env.DeletedAt = &t
	}
	if err := json.Unmarshal([]byte(row.Services), &env.Services); err != nil {
		return nil, fmt.Errorf("decode services of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Labels), &env.Labels); err != nil {
		return nil, fmt.Errorf("decode labels of %s: %w", row.ID, err)
	}
	return env, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
