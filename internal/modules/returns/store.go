// Package returns stores and loads named return datasets.
package returns

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Dataset describes a stored return series.
type Dataset struct {
	ID        string    `json:"id" msgpack:"id"`
	Name      string    `json:"name" msgpack:"name"`
	Assets    []string  `json:"assets" msgpack:"assets"`
	Periods   int       `json:"periods" msgpack:"periods"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

// Store persists return series in the returns database. Each observation row is stored
// as a msgpack encoded slice.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a store over a migrated returns database.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "returns").Logger(),
	}
}

// Save stores series under name, replacing any dataset with the same name.
func (s *Store) Save(ctx context.Context, name string, series domain.ReturnSeries) (Dataset, error) {
	if name == "" {
		return Dataset{}, fmt.Errorf("%w: dataset name is empty", domain.ErrInvalidConfiguration)
	}
	assets, err := json.Marshal(series.Assets())
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to encode assets: %w", err)
	}
	ds := Dataset{
		ID:        uuid.New().String(),
		Name:      name,
		Assets:    series.Assets(),
		Periods:   series.T(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	periods := series.Periods()

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM datasets WHERE name = ?", name); err != nil {
			return fmt.Errorf("failed to replace dataset: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO datasets (name, id, assets, periods, created_at) VALUES (?, ?, ?, ?, ?)",
			ds.Name, ds.ID, string(assets), ds.Periods, ds.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert dataset: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, "INSERT INTO observations (dataset, period, observed_at, payload) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare observation insert: %w", err)
		}
		defer stmt.Close()

		for t := 0; t < series.T(); t++ {
			payload, err := msgpack.Marshal(series.Row(t))
			if err != nil {
				return fmt.Errorf("failed to encode period %d: %w", t, err)
			}
			var observedAt sql.NullInt64
			if periods != nil {
				observedAt = sql.NullInt64{Int64: periods[t].Unix(), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, name, t, observedAt, payload); err != nil {
				return fmt.Errorf("failed to insert period %d: %w", t, err)
			}
		}
		return nil
	})
	if err != nil {
		return Dataset{}, err
	}

	s.log.Info().
		Str("dataset", name).
		Str("id", ds.ID).
		Int("assets", len(ds.Assets)).
		Int("periods", ds.Periods).
		Msg("Stored return dataset")
	return ds, nil
}

// Load reads the dataset stored under name.
func (s *Store) Load(ctx context.Context, name string) (domain.ReturnSeries, error) {
	ds, err := s.describe(ctx, name)
	if err != nil {
		return domain.ReturnSeries{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT observed_at, payload FROM observations WHERE dataset = ? ORDER BY period", name)
	if err != nil {
		return domain.ReturnSeries{}, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	values := make([][]float64, 0, ds.Periods)
	var periods []time.Time
	for rows.Next() {
		var observedAt sql.NullInt64
		var payload []byte
		if err := rows.Scan(&observedAt, &payload); err != nil {
			return domain.ReturnSeries{}, fmt.Errorf("failed to scan observation: %w", err)
		}
		var row []float64
		if err := msgpack.Unmarshal(payload, &row); err != nil {
			return domain.ReturnSeries{}, fmt.Errorf("failed to decode observation %d: %w", len(values), err)
		}
		values = append(values, row)
		if observedAt.Valid {
			periods = append(periods, time.Unix(observedAt.Int64, 0).UTC())
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ReturnSeries{}, fmt.Errorf("error iterating observations: %w", err)
	}

	series, err := domain.NewReturnSeries(ds.Assets, values)
	if err != nil {
		return domain.ReturnSeries{}, fmt.Errorf("dataset %s: %w", name, err)
	}
	if len(periods) == len(values) {
		return series.WithPeriods(periods)
	}
	return series, nil
}

// Describe returns the metadata of one dataset.
func (s *Store) Describe(ctx context.Context, name string) (Dataset, error) {
	return s.describe(ctx, name)
}

func (s *Store) describe(ctx context.Context, name string) (Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT name, id, assets, periods, created_at FROM datasets WHERE name = ?", name)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, fmt.Errorf("%w: dataset %q", domain.ErrNotFound, name)
	}
	return ds, err
}

// List returns every stored dataset ordered by name.
func (s *Store) List(ctx context.Context) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, id, assets, periods, created_at FROM datasets ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}
	return out, nil
}

// Delete removes a dataset and its observations.
func (s *Store) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM datasets WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: dataset %q", domain.ErrNotFound, name)
	}
	s.log.Info().Str("dataset", name).Msg("Deleted return dataset")
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDataset(row scanner) (Dataset, error) {
	var (
		ds        Dataset
		assets    string
		createdAt int64
	)
	if err := row.Scan(&ds.Name, &ds.ID, &assets, &ds.Periods, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Dataset{}, err
		}
		return Dataset{}, fmt.Errorf("failed to scan dataset: %w", err)
	}
	if err := json.Unmarshal([]byte(assets), &ds.Assets); err != nil {
		return Dataset{}, fmt.Errorf("failed to decode assets of %s: %w", ds.Name, err)
	}
	ds.CreatedAt = time.Unix(createdAt, 0).UTC()
	return ds, nil
}
