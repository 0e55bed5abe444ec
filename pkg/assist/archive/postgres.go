// Package archive persists finished assist sessions.
package archive

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/clearline/assist/pkg/assist/controller"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store archives sessions into Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate brings the schema up to date. Run once at startup.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("archive: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Archive writes the session and its transcript in one transaction.
func (s *Store) Archive(ctx context.Context, sess controller.ArchivedSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO assist_sessions (id, started_at, ended_at, summary)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.StartedAt, sess.EndedAt, sess.Summary)
	if err != nil {
		return fmt.Errorf("archive: insert session: %w", err)
	}

	for i, entry := range sess.Entries {
		_, err = tx.Exec(ctx,
			`INSERT INTO assist_transcript_entries (session_id, seq, speaker, text, spoken_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (session_id, seq) DO NOTHING`,
			sess.ID, i, string(entry.Speaker), entry.Text, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("archive: insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}
