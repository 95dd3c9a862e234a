package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/reviewsync/internal/db"
	"github.com/vbonduro/reviewsync/internal/domain"
	"github.com/vbonduro/reviewsync/internal/remote"
	"github.com/vbonduro/reviewsync/internal/store"
)

// stubGateway serves fixed data and can be switched offline.
type stubGateway struct {
	mu      sync.Mutex
	venues  []*domain.Venue
	reviews map[int64][]*domain.Review
	offline bool
	calls   int
}

func (g *stubGateway) setOffline(offline bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offline = offline
}

func (g *stubGateway) begin() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.offline {
		return &remote.NetworkError{Op: "stub", Err: errors.New("offline")}
	}
	return nil
}

func (g *stubGateway) ListVenues(_ context.Context) ([]*domain.Venue, error) {
	if err := g.begin(); err != nil {
		return nil, err
	}
	out := make([]*domain.Venue, 0, len(g.venues))
	for _, v := range g.venues {
		c := *v
		out = append(out, &c)
	}
	return out, nil
}

func (g *stubGateway) GetVenue(_ context.Context, id int64) (*domain.Venue, error) {
	if err := g.begin(); err != nil {
		return nil, err
	}
	for _, v := range g.venues {
		if v.ID == id {
			c := *v
			return &c, nil
		}
	}
	return nil, &remote.NetworkError{Op: "get venue", StatusCode: 404}
}

func (g *stubGateway) ListReviews(_ context.Context, restaurantID int64) ([]*domain.Review, error) {
	if err := g.begin(); err != nil {
		return nil, err
	}
	out := make([]*domain.Review, 0)
	for _, r := range g.reviews[restaurantID] {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

// recordingReplay captures replay requests.
type recordingReplay struct {
	mu       sync.Mutex
	requests []domain.Channel
}

func (r *recordingReplay) Request(ch domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, ch)
}

func (r *recordingReplay) Requests() []domain.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Channel(nil), r.requests...)
}

func serverVenues() []*domain.Venue {
	ts := time.Date(2017, 10, 26, 12, 0, 0, 0, time.UTC)
	mk := func(id int64, name, cuisine, hood string, fav bool) *domain.Venue {
		return &domain.Venue{
			ID: id, Name: name, CuisineType: cuisine, Neighborhood: hood,
			LatLng:         domain.LatLng{Lat: 40.7, Lng: -73.9},
			OperatingHours: map[string]string{"Monday": "5:30 pm - 11:00 pm"},
			CreatedAt:      ts, UpdatedAt: ts, IsFavorite: fav, SyncState: domain.Synced,
		}
	}
	return []*domain.Venue{
		mk(3, "Kang Ho Dong Baekjeong", "Asian", "Manhattan", false),
		mk(1, "Mission Chinese Food", "Asian", "Manhattan", false),
		mk(4, "Katz's Delicatessen", "American", "Manhattan", true),
		mk(2, "Emily", "Pizza", "Brooklyn", false),
	}
}

type testEnv struct {
	db      *sql.DB
	svc     *VenueService
	gateway *stubGateway
	replay  *recordingReplay
	venues  *store.VenueStore
	reviews *store.ReviewStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })

	env := &testEnv{
		db:      d,
		gateway: &stubGateway{venues: serverVenues(), reviews: map[int64][]*domain.Review{}},
		replay:  &recordingReplay{},
		venues:  store.NewVenueStore(d),
		reviews: store.NewReviewStore(d),
	}
	env.svc = NewVenueService(env.venues, env.reviews, env.gateway, env.replay, slog.Default())
	return env
}

func ids(venues []*domain.Venue) []int64 {
	out := make([]int64, 0, len(venues))
	for _, v := range venues {
		out = append(out, v.ID)
	}
	return out
}

func TestGetVenues_ReadThroughThenOffline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	online, err := env.svc.GetVenues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 1, 2, 3}, ids(online))

	env.gateway.setOffline(true)

	offline, err := env.svc.GetVenues(ctx)
	require.NoError(t, err)
	assert.Equal(t, online, offline)
	assert.Equal(t, 1, env.gateway.calls)
}

func TestGetVenues_OfflineAndEmptyFails(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.setOffline(true)

	_, err := env.svc.GetVenues(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrNetwork)
}

func TestGetVenue_ReadThrough(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, err := env.svc.GetVenue(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Emily", v.Name)

	env.gateway.setOffline(true)
	again, err := env.svc.GetVenue(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, v, again)

	_, err = env.svc.GetVenue(ctx, 99)
	assert.ErrorIs(t, err, remote.ErrNetwork)
}

func TestGetReviews_ReadThroughNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.gateway.reviews[1] = []*domain.Review{
		{ServerID: 10, RestaurantID: 1, Name: "Steve", Rating: 4, CreatedAt: base, UpdatedAt: base},
		{ServerID: 11, RestaurantID: 1, Name: "Morgan", Rating: 5, CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)},
	}

	reviews, err := env.svc.GetReviews(ctx, 1)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, int64(11), reviews[0].ServerID)
	assert.NotEmpty(t, reviews[0].GUID)

	env.gateway.setOffline(true)
	again, err := env.svc.GetReviews(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, reviews, again)
}

func TestToggleFavorite_TwiceOfflineRestoresValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.GetVenues(ctx)
	require.NoError(t, err)
	env.gateway.setOffline(true)

	original, err := env.svc.GetVenue(ctx, 1)
	require.NoError(t, err)

	on, err := env.svc.ToggleFavorite(ctx, original)
	require.NoError(t, err)
	assert.True(t, on.IsFavorite)
	assert.False(t, on.IsSynced())
	assert.False(t, original.IsFavorite, "caller's copy is not mutated")

	off, err := env.svc.ToggleFavorite(ctx, on)
	require.NoError(t, err)

	stored, err := env.venues.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, original.IsFavorite, stored.IsFavorite)
	assert.Equal(t, off.IsFavorite, stored.IsFavorite)
	assert.False(t, stored.IsSynced())

	assert.Equal(t, []domain.Channel{domain.ChannelFavorite, domain.ChannelFavorite}, env.replay.Requests())
}

func TestToggleFavorite_ReorderedByFavoriteAtReadTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	venues, err := env.svc.GetVenues(ctx)
	require.NoError(t, err)

	var emily *domain.Venue
	for _, v := range venues {
		if v.ID == 2 {
			emily = v
		}
	}
	require.NotNil(t, emily)
	_, err = env.svc.ToggleFavorite(ctx, emily)
	require.NoError(t, err)

	venues, err = env.svc.GetVenues(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 1, 3}, ids(venues))
}

func TestAddReview_OfflineIsPending(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.setOffline(true)
	ctx := context.Background()

	review, err := env.svc.AddReview(ctx, 7, "Ann", 5, "Great")
	require.NoError(t, err)
	assert.Zero(t, review.ServerID)
	assert.NotEmpty(t, review.GUID)
	assert.Equal(t, int64(7), review.RestaurantID)
	assert.Equal(t, domain.Pending, review.SyncState)

	pending, err := env.reviews.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, review.GUID, pending[0].GUID)

	// Renders from the local store without the network.
	reviews, err := env.svc.GetReviews(ctx, 7)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, review, reviews[0])

	assert.Equal(t, []domain.Channel{domain.ChannelReview}, env.replay.Requests())
	assert.Zero(t, env.gateway.calls)
}

func TestAddReview_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		restaurantID int64
		author       string
		rating       int
	}{
		{name: "missing restaurant", restaurantID: 0, author: "Ann", rating: 3},
		{name: "blank name", restaurantID: 1, author: "   ", rating: 3},
		{name: "rating too low", restaurantID: 1, author: "Ann", rating: 0},
		{name: "rating too high", restaurantID: 1, author: "Ann", rating: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.AddReview(ctx, tt.restaurantID, tt.author, tt.rating, "")
			assert.ErrorIs(t, err, ErrInvalidReview)
		})
	}
	assert.Empty(t, env.replay.Requests())
}

func TestFilterVenuesAndFacets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	asian, err := env.svc.FilterVenues(ctx, "Asian", "all")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(asian))

	brooklyn, err := env.svc.FilterVenues(ctx, "", "Brooklyn")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(brooklyn))

	none, err := env.svc.FilterVenues(ctx, "Pizza", "Manhattan")
	require.NoError(t, err)
	assert.Empty(t, none)

	cuisines, err := env.svc.Cuisines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"American", "Asian", "Pizza"}, cuisines)

	hoods, err := env.svc.Neighborhoods(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Manhattan", "Brooklyn"}, hoods)
}

// gatedVenues delays the first Put until the second has landed, so two
// writes complete in the reverse of their issue order.
type gatedVenues struct {
	*store.VenueStore
	mu      sync.Mutex
	puts    int
	release chan struct{}
}

func (g *gatedVenues) Put(ctx context.Context, venues ...*domain.Venue) (int, error) {
	g.mu.Lock()
	g.puts++
	first := g.puts == 1
	g.mu.Unlock()
	if first {
		<-g.release
		return g.VenueStore.Put(ctx, venues...)
	}
	defer close(g.release)
	return g.VenueStore.Put(ctx, venues...)
}

func TestToggleFavorite_ConcurrentWritesLastPutWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.GetVenues(ctx)
	require.NoError(t, err)

	gated := &gatedVenues{VenueStore: env.venues, release: make(chan struct{})}
	svc := NewVenueService(gated, env.reviews, env.gateway, env.replay, slog.Default())

	notFavorite, err := env.venues.GetByID(ctx, 1)
	require.NoError(t, err)
	favorite := *notFavorite
	favorite.IsFavorite = true

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Issued first (sets true), lands last.
		_, err := svc.ToggleFavorite(ctx, notFavorite)
		assert.NoError(t, err)
	}()

	// Wait until the first write is parked at the gate.
	require.Eventually(t, func() bool {
		gated.mu.Lock()
		defer gated.mu.Unlock()
		return gated.puts == 1
	}, time.Second, time.Millisecond)

	_, err = svc.ToggleFavorite(ctx, &favorite)
	require.NoError(t, err)
	wg.Wait()

	stored, err := env.venues.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, stored.IsFavorite)
	assert.False(t, stored.IsSynced())
}
