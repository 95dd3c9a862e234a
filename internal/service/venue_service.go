package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/reviewsync/internal/domain"
	"github.com/vbonduro/reviewsync/internal/store"
)

// ErrInvalidReview is returned when a new review fails validation.
var ErrInvalidReview = errors.New("invalid review")

// venueRepository is the subset of store.VenueStore that VenueService requires.
type venueRepository interface {
	List(ctx context.Context) ([]*domain.Venue, error)
	GetByID(ctx context.Context, id int64) (*domain.Venue, error)
	Put(ctx context.Context, venues ...*domain.Venue) (int, error)
}

// reviewRepository is the subset of store.ReviewStore that VenueService requires.
type reviewRepository interface {
	ListByRestaurant(ctx context.Context, restaurantID int64) ([]*domain.Review, error)
	Put(ctx context.Context, reviews ...*domain.Review) (int, error)
}

// gateway is the read side of remote.Client.
type gateway interface {
	ListVenues(ctx context.Context) ([]*domain.Venue, error)
	GetVenue(ctx context.Context, id int64) (*domain.Venue, error)
	ListReviews(ctx context.Context, restaurantID int64) ([]*domain.Review, error)
}

// ReplayRequester queues deferred replay of a channel's pending mutations.
type ReplayRequester interface {
	Request(ch domain.Channel)
}

// VenueService serves reads from the local store, falling back to the server
// and populating the store on a miss. Writes land in the local store
// immediately and are handed to the replay coordinator for delivery.
type VenueService struct {
	venues  venueRepository
	reviews reviewRepository
	remote  gateway
	replay  ReplayRequester
	logger  *slog.Logger
	now     func() time.Time
	newGUID func() string
}

func NewVenueService(
	venues venueRepository,
	reviews reviewRepository,
	remote gateway,
	replay ReplayRequester,
	logger *slog.Logger,
) *VenueService {
	return &VenueService{
		venues:  venues,
		reviews: reviews,
		remote:  remote,
		replay:  replay,
		logger:  logger,
		now:     time.Now,
		newGUID: uuid.NewString,
	}
}

// GetVenues returns all venues, favorites first then by ascending id.
func (s *VenueService) GetVenues(ctx context.Context) ([]*domain.Venue, error) {
	venues, err := s.venues.List(ctx)
	if err == nil {
		sortVenues(venues)
		return venues, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	s.logger.Debug("venues not stored locally, fetching from server")
	venues, err = s.remote.ListVenues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch venues: %w", err)
	}
	sortVenues(venues)

	n, err := s.venues.Put(ctx, venues...)
	if err != nil {
		return nil, fmt.Errorf("failed to store venues: %w", err)
	}
	s.logger.Info("venues populated from server", "count", n)
	return venues, nil
}

func (s *VenueService) GetVenue(ctx context.Context, id int64) (*domain.Venue, error) {
	venue, err := s.venues.GetByID(ctx, id)
	if err == nil {
		return venue, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	s.logger.Debug("venue not stored locally, fetching from server", "venue_id", id)
	venue, err = s.remote.GetVenue(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch venue %d: %w", id, err)
	}
	if _, err := s.venues.Put(ctx, venue); err != nil {
		return nil, fmt.Errorf("failed to store venue %d: %w", id, err)
	}
	return venue, nil
}

// GetReviews returns a venue's reviews, newest first.
func (s *VenueService) GetReviews(ctx context.Context, restaurantID int64) ([]*domain.Review, error) {
	reviews, err := s.reviews.ListByRestaurant(ctx, restaurantID)
	if err == nil {
		sortReviews(reviews)
		return reviews, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	s.logger.Debug("reviews not stored locally, fetching from server", "venue_id", restaurantID)
	reviews, err = s.remote.ListReviews(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reviews for venue %d: %w", restaurantID, err)
	}
	if _, err := s.reviews.Put(ctx, reviews...); err != nil {
		return nil, fmt.Errorf("failed to store reviews for venue %d: %w", restaurantID, err)
	}
	sortReviews(reviews)
	return reviews, nil
}

// ToggleFavorite flips the favorite flag, stores the venue as pending and
// requests replay. The returned copy reflects the change; the server is not
// contacted.
func (s *VenueService) ToggleFavorite(ctx context.Context, venue *domain.Venue) (*domain.Venue, error) {
	updated := *venue
	updated.IsFavorite = !venue.IsFavorite
	updated.SyncState = domain.Pending

	if _, err := s.venues.Put(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to store favorite for venue %d: %w", venue.ID, err)
	}
	s.logger.Info("favorite toggled", "venue_id", updated.ID, "is_favorite", updated.IsFavorite)

	s.replay.Request(domain.ChannelFavorite)
	return &updated, nil
}

// AddReview stores a new pending review and requests replay. The review is
// returned at once so it can be shown before the server acknowledges it.
func (s *VenueService) AddReview(ctx context.Context, restaurantID int64, name string, rating int, comments string) (*domain.Review, error) {
	name = strings.TrimSpace(name)
	switch {
	case restaurantID <= 0:
		return nil, fmt.Errorf("%w: restaurant id %d", ErrInvalidReview, restaurantID)
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidReview)
	case !domain.ValidRating(rating):
		return nil, fmt.Errorf("%w: rating must be between %d and %d", ErrInvalidReview, domain.MinRating, domain.MaxRating)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	review := &domain.Review{
		GUID:         s.newGUID(),
		RestaurantID: restaurantID,
		Name:         name,
		Rating:       rating,
		Comments:     strings.TrimSpace(comments),
		CreatedAt:    now,
		UpdatedAt:    now,
		SyncState:    domain.Pending,
	}

	if _, err := s.reviews.Put(ctx, review); err != nil {
		return nil, fmt.Errorf("failed to store review: %w", err)
	}
	s.logger.Info("review added", "venue_id", restaurantID, "guid", review.GUID)

	s.replay.Request(domain.ChannelReview)
	return review, nil
}

// FilterVenues narrows the listing by cuisine and neighborhood. An empty value
// or "all" matches everything.
func (s *VenueService) FilterVenues(ctx context.Context, cuisine, neighborhood string) ([]*domain.Venue, error) {
	venues, err := s.GetVenues(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*domain.Venue, 0, len(venues))
	for _, v := range venues {
		if !matches(cuisine, v.CuisineType) || !matches(neighborhood, v.Neighborhood) {
			continue
		}
		results = append(results, v)
	}
	return results, nil
}

// Cuisines returns the distinct cuisine types in listing order.
func (s *VenueService) Cuisines(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, func(v *domain.Venue) string { return v.CuisineType })
}

// Neighborhoods returns the distinct neighborhoods in listing order.
func (s *VenueService) Neighborhoods(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, func(v *domain.Venue) string { return v.Neighborhood })
}

func (s *VenueService) distinct(ctx context.Context, field func(*domain.Venue) string) ([]string, error) {
	venues, err := s.GetVenues(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	values := make([]string, 0)
	for _, v := range venues {
		value := field(v)
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		values = append(values, value)
	}
	return values, nil
}

func matches(filter, value string) bool {
	return filter == "" || filter == "all" || filter == value
}

func sortVenues(venues []*domain.Venue) {
	sort.SliceStable(venues, func(i, j int) bool {
		if venues[i].IsFavorite != venues[j].IsFavorite {
			return venues[i].IsFavorite
		}
		return venues[i].ID < venues[j].ID
	})
}

func sortReviews(reviews []*domain.Review) {
	sort.SliceStable(reviews, func(i, j int) bool {
		if !reviews[i].CreatedAt.Equal(reviews[j].CreatedAt) {
			return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
		}
		return reviews[i].GUID < reviews[j].GUID
	})
}
