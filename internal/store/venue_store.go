package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vbonduro/reviewsync/internal/domain"
)

const venueColumns = `id, name, neighborhood, address, cuisine_type, lat, lng, photograph,
	operating_hours, created_at, updated_at, is_favorite, sync_state`

type VenueStore struct {
	db *sql.DB
}

func NewVenueStore(db *sql.DB) *VenueStore {
	return &VenueStore{db: db}
}

// List returns every stored venue, favorites first then by ascending id.
// An empty table yields ErrNotFound so callers can tell "never fetched" apart
// from a fetched listing.
func (s *VenueStore) List(ctx context.Context) ([]*domain.Venue, error) {
	venues, err := s.query(ctx, "list venues", `
		SELECT `+venueColumns+` FROM venues ORDER BY is_favorite DESC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	if len(venues) == 0 {
		return nil, ErrNotFound
	}
	return venues, nil
}

func (s *VenueStore) GetByID(ctx context.Context, id int64) (*domain.Venue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+venueColumns+` FROM venues WHERE id = ?`, id)
	venue, err := scanVenue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get venue", err)
	}
	return venue, nil
}

// ListPending returns venues whose favorite flag has not been acknowledged
// by the server. It never returns ErrNotFound.
func (s *VenueStore) ListPending(ctx context.Context) ([]*domain.Venue, error) {
	venues, err := s.query(ctx, "list pending venues", `
		SELECT `+venueColumns+` FROM venues WHERE sync_state = ? ORDER BY id ASC
	`, domain.Pending)
	if err != nil {
		return nil, err
	}
	if venues == nil {
		venues = []*domain.Venue{}
	}
	return venues, nil
}

// Put upserts venues by id in a single transaction and returns how many rows
// were written. An existing row is overwritten in place.
func (s *VenueStore) Put(ctx context.Context, venues ...*domain.Venue) (int, error) {
	if len(venues) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin put venues", err)
	}
	defer rollback(tx)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO venues (`+venueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			neighborhood = excluded.neighborhood,
			address = excluded.address,
			cuisine_type = excluded.cuisine_type,
			lat = excluded.lat,
			lng = excluded.lng,
			photograph = excluded.photograph,
			operating_hours = excluded.operating_hours,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			is_favorite = excluded.is_favorite,
			sync_state = excluded.sync_state
	`)
	if err != nil {
		return 0, storageErr("prepare put venues", err)
	}
	defer func() { _ = stmt.Close() }()

	written := 0
	for _, v := range venues {
		hours, err := json.Marshal(v.OperatingHours)
		if err != nil {
			return 0, fmt.Errorf("failed to encode operating hours for venue %d: %w", v.ID, err)
		}
		state := v.SyncState
		if state == "" {
			state = domain.Synced
		}
		if _, err := stmt.ExecContext(ctx,
			v.ID, v.Name, v.Neighborhood, v.Address, v.CuisineType, v.LatLng.Lat, v.LatLng.Lng,
			v.Photograph, string(hours), formatTime(v.CreatedAt), formatTime(v.UpdatedAt),
			v.IsFavorite, state,
		); err != nil {
			return 0, storageErr(fmt.Sprintf("put venue %d", v.ID), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit put venues", err)
	}
	return written, nil
}

// MarkSynced clears the pending flag of a venue, but only while its stored
// favorite value still equals the one the server acknowledged. It reports
// whether the row changed; false means a newer local toggle superseded the
// replayed value (or the venue was already synced).
func (s *VenueStore) MarkSynced(ctx context.Context, id int64, favorite bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE venues SET sync_state = ?
		WHERE id = ? AND is_favorite = ? AND sync_state = ?
	`, domain.Synced, id, favorite, domain.Pending)
	if err != nil {
		return false, storageErr("mark venue synced", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storageErr("mark venue synced", err)
	}
	return rowsAffected > 0, nil
}

func (s *VenueStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.Venue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer func() { _ = rows.Close() }()

	var venues []*domain.Venue
	for rows.Next() {
		venue, err := scanVenue(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		venues = append(venues, venue)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return venues, nil
}

func scanVenue(row rowScanner) (*domain.Venue, error) {
	var (
		v                    domain.Venue
		hours                string
		createdAt, updatedAt string
		state                string
	)
	if err := row.Scan(
		&v.ID, &v.Name, &v.Neighborhood, &v.Address, &v.CuisineType, &v.LatLng.Lat, &v.LatLng.Lng,
		&v.Photograph, &hours, &createdAt, &updatedAt, &v.IsFavorite, &state,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(hours), &v.OperatingHours); err != nil {
		return nil, fmt.Errorf("invalid operating hours for venue %d: %w", v.ID, err)
	}
	var err error
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	v.SyncState = domain.SyncState(state)
	return &v, nil
}
