package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/vbonduro/reviewsync/internal/domain"
)

const reviewColumns = `guid, server_id, restaurant_id, name, rating, comments, created_at, updated_at, sync_state`

// serverReviewNamespace seeds the deterministic GUIDs given to reviews that
// were first seen on the server rather than authored locally.
var serverReviewNamespace = uuid.MustParse("6f1c3c1e-2b0e-4c55-9a57-5d7c0e4b9a11")

// ServerReviewGUID returns the stable GUID for a server-originated review.
func ServerReviewGUID(serverID int64) string {
	return uuid.NewSHA1(serverReviewNamespace, []byte(strconv.FormatInt(serverID, 10))).String()
}

type ReviewStore struct {
	db *sql.DB
}

func NewReviewStore(db *sql.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

// ListByRestaurant returns a venue's reviews, newest first. No rows yields
// ErrNotFound.
func (s *ReviewStore) ListByRestaurant(ctx context.Context, restaurantID int64) ([]*domain.Review, error) {
	reviews, err := s.query(ctx, "list reviews", `
		SELECT `+reviewColumns+` FROM reviews
		WHERE restaurant_id = ? ORDER BY created_at DESC, guid ASC
	`, restaurantID)
	if err != nil {
		return nil, err
	}
	if len(reviews) == 0 {
		return nil, ErrNotFound
	}
	return reviews, nil
}

func (s *ReviewStore) GetByGUID(ctx context.Context, guid string) (*domain.Review, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE guid = ?`, guid)
	review, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get review", err)
	}
	return review, nil
}

// ListPending returns reviews the server has not accepted yet, found through
// the server_id index. It never returns ErrNotFound.
func (s *ReviewStore) ListPending(ctx context.Context) ([]*domain.Review, error) {
	reviews, err := s.query(ctx, "list pending reviews", `
		SELECT `+reviewColumns+` FROM reviews WHERE server_id = 0 ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	if reviews == nil {
		reviews = []*domain.Review{}
	}
	return reviews, nil
}

// Put upserts reviews by GUID in one transaction and returns the number of
// rows written.
//
// Reviews without a GUID came from the server: they take over the GUID of the
// row already holding their server id, or a deterministic one derived from
// it, and the assigned GUID is written back into the record. A review with a
// GUID replaces any other row that claims the same server id.
func (s *ReviewStore) Put(ctx context.Context, reviews ...*domain.Review) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin put reviews", err)
	}
	defer rollback(tx)

	written := 0
	for _, r := range reviews {
		if err := putReview(ctx, tx, r); err != nil {
			return 0, err
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit put reviews", err)
	}
	return written, nil
}

func putReview(ctx context.Context, tx *sql.Tx, r *domain.Review) error {
	if r.ServerID == 0 {
		if r.GUID == "" {
			return fmt.Errorf("review for restaurant %d has neither guid nor server id", r.RestaurantID)
		}
		r.SyncState = domain.Pending
	} else {
		r.SyncState = domain.Synced
		if r.GUID == "" {
			var existing string
			err := tx.QueryRowContext(ctx, `SELECT guid FROM reviews WHERE server_id = ?`, r.ServerID).Scan(&existing)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				r.GUID = ServerReviewGUID(r.ServerID)
			case err != nil:
				return storageErr("resolve review guid", err)
			default:
				r.GUID = existing
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM reviews WHERE server_id = ? AND guid != ?
		`, r.ServerID, r.GUID); err != nil {
			return storageErr("replace duplicate review", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			server_id = excluded.server_id,
			restaurant_id = excluded.restaurant_id,
			name = excluded.name,
			rating = excluded.rating,
			comments = excluded.comments,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			sync_state = excluded.sync_state
	`, r.GUID, r.ServerID, r.RestaurantID, r.Name, r.Rating, r.Comments,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.SyncState)
	if err != nil {
		return storageErr(fmt.Sprintf("put review %s", r.GUID), err)
	}
	return nil
}

func (s *ReviewStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.Review, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer func() { _ = rows.Close() }()

	var reviews []*domain.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		reviews = append(reviews, review)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return reviews, nil
}

func scanReview(row rowScanner) (*domain.Review, error) {
	var (
		r                    domain.Review
		createdAt, updatedAt string
		state                string
	)
	if err := row.Scan(
		&r.GUID, &r.ServerID, &r.RestaurantID, &r.Name, &r.Rating, &r.Comments,
		&createdAt, &updatedAt, &state,
	); err != nil {
		return nil, err
	}

	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	r.SyncState = domain.SyncState(state)
	return &r, nil
}
