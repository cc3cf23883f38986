package loaders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/flowline-ai/flowline/pkg/models"
)

// PostgresLoader loads section catalogs from a PostgreSQL table. It owns
// its pool and creates the table on first use.
type PostgresLoader struct {
	pool *pgxpool.Pool
}

// NewPostgresLoader connects to connURL and ensures the sections table
// exists.
func NewPostgresLoader(ctx context.Context, connURL string) (*PostgresLoader, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	l := &PostgresLoader{pool: pool}
	if err := l.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres context loader initialized")
	return l, nil
}

func (l *PostgresLoader) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS fl_context_sections (
			id             TEXT NOT NULL,
			variant        TEXT NOT NULL DEFAULT 'default',
			name           TEXT NOT NULL DEFAULT '',
			content        TEXT NOT NULL DEFAULT '',
			topics         TEXT[] NOT NULL DEFAULT '{}',
			always_include BOOLEAN NOT NULL DEFAULT FALSE,
			priority       INTEGER NOT NULL DEFAULT 0,
			position       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (variant, id)
		);

		CREATE INDEX IF NOT EXISTS idx_fl_sections_variant ON fl_context_sections (variant);
	`
	_, err := l.pool.Exec(ctx, ddl)
	return err
}

// Load implements contracts.ContextLoader. Sections come back in their
// configured order (the position column).
func (l *PostgresLoader) Load(ctx context.Context, req models.LoadRequest) ([]models.Section, error) {
	variant := req.Variant
	if variant == "" {
		variant = "default"
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, name, content, topics, always_include, priority
		FROM fl_context_sections
		WHERE variant = $1
		ORDER BY position, id`, variant)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	var sections []models.Section
	for rows.Next() {
		var s models.Section
		if err := rows.Scan(&s.ID, &s.Name, &s.Content, &s.Topics, &s.AlwaysInclude, &s.Priority); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sections: %w", err)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("variant %s has no sections", variant)
	}
	return sections, nil
}

// Upsert writes one section into a variant's catalog at the given
// position.
func (l *PostgresLoader) Upsert(ctx context.Context, variant string, position int, s models.Section) error {
	if variant == "" {
		variant = "default"
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO fl_context_sections (id, variant, name, content, topics, always_include, priority, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (variant, id) DO UPDATE SET
			name = EXCLUDED.name,
			content = EXCLUDED.content,
			topics = EXCLUDED.topics,
			always_include = EXCLUDED.always_include,
			priority = EXCLUDED.priority,
			position = EXCLUDED.position`,
		s.ID, variant, s.Name, s.Content, s.Topics, s.AlwaysInclude, s.Priority, position)
	if err != nil {
		return fmt.Errorf("upsert section: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (l *PostgresLoader) Close() {
	l.pool.Close()
}
