package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	_ "modernc.org/sqlite"

	"github.com/lox/forecastbot/internal/models"
)

// ErrInvalidLocation is returned when a location fails validation before it
// reaches the database.
var ErrInvalidLocation = errors.New("invalid location")

// StorageError wraps a failed database operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func New(db *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

// Open opens the sqlite database at path with the pragmas the bot relies on.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// foldKey canonicalises an identity component. Casers keep internal state,
// so a fresh one is used per call.
func foldKey(s string) string {
	return cases.Fold().String(s)
}

// SetLocation stores loc for (domain, owner), fully replacing any previous
// row for the same case-folded identity.
func (s *Store) SetLocation(ctx context.Context, domain, owner string, loc models.Location) error {
	if err := models.Validate(loc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_locations (domain_key, owner_key, domain, owner, place_name, country, feature_code, longitude, latitude, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(domain_key, owner_key) DO UPDATE SET
			domain = excluded.domain,
			owner = excluded.owner,
			place_name = excluded.place_name,
			country = excluded.country,
			feature_code = excluded.feature_code,
			longitude = excluded.longitude,
			latitude = excluded.latitude,
			updated_at = excluded.updated_at
	`, foldKey(domain), foldKey(owner), domain, owner, loc.PlaceName, loc.Country, loc.FeatureCode,
		loc.Coordinates.Longitude, loc.Coordinates.Latitude)
	if err != nil {
		return &StorageError{Op: "set location", Err: err}
	}

	s.log.Debug("store: location set",
		zap.String("domain", domain), zap.String("owner", owner), zap.String("location", loc.Label()))
	return nil
}

// GetLocation returns the location registered for (domain, owner), or nil if
// none is set.
func (s *Store) GetLocation(ctx context.Context, domain, owner string) (*models.Location, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT place_name, country, feature_code, longitude, latitude
		FROM user_locations
		WHERE domain_key = ? AND owner_key = ?
	`, foldKey(domain), foldKey(owner))

	var loc models.Location
	err := row.Scan(&loc.PlaceName, &loc.Country, &loc.FeatureCode, &loc.Coordinates.Longitude, &loc.Coordinates.Latitude)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "get location", Err: err}
	}
	return &loc, nil
}

// DeleteLocation removes the registration for (domain, owner). It reports
// whether a row existed.
func (s *Store) DeleteLocation(ctx context.Context, domain, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_locations WHERE domain_key = ? AND owner_key = ?`,
		foldKey(domain), foldKey(owner))
	if err != nil {
		return false, &StorageError{Op: "delete location", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "delete location", Err: err}
	}
	return n > 0, nil
}

// CountLocations returns the number of registered identities.
func (s *Store) CountLocations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_locations`).Scan(&n); err != nil {
		return 0, &StorageError{Op: "count locations", Err: err}
	}
	return n, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
