package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/incidentkit/incidentkit/pkg/models"
)

// PostgresEpisodeStore is the durable EpisodeStore over the episodes
// table. Embeddings are stored as JSONB float arrays; similarity search
// happens in the in-memory index, not in SQL.
type PostgresEpisodeStore struct {
	db *sql.DB
}

// NewPostgresEpisodeStore wraps an open database handle. The schema is
// managed by the database package's migrations.
func NewPostgresEpisodeStore(db *sql.DB) *PostgresEpisodeStore {
	return &PostgresEpisodeStore{db: db}
}

func (s *PostgresEpisodeStore) AppendEpisode(ctx context.Context, episode models.MemoryEpisode) error {
	embJSON, err := json.Marshal(episode.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episodes (id, service, summary, severity, root_cause, created_at, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		episode.ID, episode.Service, episode.Summary, string(episode.Severity),
		episode.RootCause, episode.CreatedAt, embJSON)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateID, episode.ID)
		}
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

// DeleteEpisodesBefore removes episodes created before cutoff and
// returns how many rows were deleted.
func (s *PostgresEpisodeStore) DeleteEpisodesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete episodes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete episodes: %w", err)
	}
	return int(n), nil
}

func (s *PostgresEpisodeStore) ListEpisodes(ctx context.Context) ([]models.MemoryEpisode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, service, summary, severity, root_cause, created_at, embedding
		 FROM episodes ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var episodes []models.MemoryEpisode
	for rows.Next() {
		var ep models.MemoryEpisode
		var severity string
		var embJSON []byte
		if err := rows.Scan(&ep.ID, &ep.Service, &ep.Summary, &severity,
			&ep.RootCause, &ep.CreatedAt, &embJSON); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.Severity = models.Severity(severity)
		if len(embJSON) > 0 {
			if err := json.Unmarshal(embJSON, &ep.Embedding); err != nil {
				return nil, fmt.Errorf("unmarshal embedding for %s: %w", ep.ID, err)
			}
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}
