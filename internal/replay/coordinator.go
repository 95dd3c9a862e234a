// Package replay delivers mutations that were applied locally but not yet
// accepted by the server. It has no timers: replay runs when a caller asks
// for it, typically on a "connectivity restored" signal.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/reviewsync/internal/domain"
	"github.com/vbonduro/reviewsync/internal/remote"
)

type venueRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Venue, error)
	ListPending(ctx context.Context) ([]*domain.Venue, error)
	MarkSynced(ctx context.Context, id int64, favorite bool) (bool, error)
}

type reviewRepository interface {
	GetByGUID(ctx context.Context, guid string) (*domain.Review, error)
	ListPending(ctx context.Context) ([]*domain.Review, error)
	Put(ctx context.Context, reviews ...*domain.Review) (int, error)
}

// gateway is the write side of remote.Client.
type gateway interface {
	SetFavorite(ctx context.Context, venueID int64, favorite bool) error
	CreateReview(ctx context.Context, payload remote.ReviewPayload) (*remote.CreatedReview, error)
}

type Options struct {
	// QueueSize bounds the number of distinct channels waiting for Run.
	QueueSize int
	// Concurrency bounds the records replayed at once within one pass.
	Concurrency int
}

// Result summarises one replay pass. Attempted counts the pending records
// found; each ends up in exactly one of Synced, Skipped or Failed.
type Result struct {
	Channel   domain.Channel `json:"channel"`
	Attempted int            `json:"attempted"`
	Synced    int            `json:"synced"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
}

type Coordinator struct {
	venues  venueRepository
	reviews reviewRepository
	remote  gateway
	logger  *slog.Logger
	limit   int

	queue chan domain.Channel

	mu       sync.Mutex
	queued   map[domain.Channel]bool
	inFlight map[string]struct{}
	// stuck holds reviews the server accepted but that could not be recorded
	// locally; they are never resubmitted by this process.
	stuck map[string]struct{}
}

func NewCoordinator(venues venueRepository, reviews reviewRepository, remote gateway, logger *slog.Logger, opts Options) *Coordinator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = len(domain.Channels)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Coordinator{
		venues:   venues,
		reviews:  reviews,
		remote:   remote,
		logger:   logger,
		limit:    opts.Concurrency,
		queue:    make(chan domain.Channel, opts.QueueSize),
		queued:   make(map[domain.Channel]bool),
		inFlight: make(map[string]struct{}),
		stuck:    make(map[string]struct{}),
	}
}

// Request queues a replay of ch for Run without blocking. A channel already
// waiting in the queue is not queued twice.
func (c *Coordinator) Request(ch domain.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queued[ch] {
		return
	}
	select {
	case c.queue <- ch:
		c.queued[ch] = true
	default:
		c.logger.Warn("replay queue full, dropping request", "channel", ch)
	}
}

// Run replays queued channels until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-c.queue:
			c.mu.Lock()
			delete(c.queued, ch)
			c.mu.Unlock()

			if _, err := c.Replay(ctx, ch); err != nil {
				c.logger.Warn("replay incomplete", "channel", ch, "error", err)
			}
		}
	}
}

// Replay walks the pending records of ch and delivers each to the server.
// Records are independent: a failure leaves that record pending and is
// reported in the returned error, which aggregates every per-record failure.
// The Result is non-nil whenever the pending set could be read.
func (c *Coordinator) Replay(ctx context.Context, ch domain.Channel) (*Result, error) {
	res := &Result{Channel: ch}

	var tasks []func(context.Context) outcome
	switch ch {
	case domain.ChannelFavorite:
		venues, err := c.venues.ListPending(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending favorites: %w", err)
		}
		for _, v := range venues {
			id := v.ID
			tasks = append(tasks, func(ctx context.Context) outcome { return c.replayFavorite(ctx, id) })
		}
	case domain.ChannelReview:
		reviews, err := c.reviews.ListPending(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending reviews: %w", err)
		}
		for _, r := range reviews {
			guid := r.GUID
			tasks = append(tasks, func(ctx context.Context) outcome { return c.replayReview(ctx, guid) })
		}
	default:
		return nil, fmt.Errorf("unknown replay channel %q", ch)
	}

	res.Attempted = len(tasks)
	if len(tasks) == 0 {
		return res, nil
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
		g    errgroup.Group
	)
	g.SetLimit(c.limit)
	for _, task := range tasks {
		g.Go(func() error {
			o := task(ctx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case o.err != nil:
				res.Failed++
				errs = multierror.Append(errs, o.err)
			case o.synced:
				res.Synced++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("replay finished",
		"channel", ch,
		"attempted", res.Attempted,
		"synced", res.Synced,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, errs.ErrorOrNil()
}

type outcome struct {
	synced bool
	err    error
}

var skipped = outcome{}

func (c *Coordinator) replayFavorite(ctx context.Context, id int64) outcome {
	key := "favorite:" + strconv.FormatInt(id, 10)
	if !c.acquire(key) {
		return skipped
	}
	defer c.release(key)

	// The listing may be stale by now; act on the current row.
	venue, err := c.venues.GetByID(ctx, id)
	if err != nil {
		return outcome{err: fmt.Errorf("venue %d: %w", id, err)}
	}
	if venue.IsSynced() {
		return skipped
	}

	if err := c.remote.SetFavorite(ctx, id, venue.IsFavorite); err != nil {
		c.logger.Debug("favorite replay failed", "venue_id", id, "error", err)
		return outcome{err: fmt.Errorf("venue %d: %w", id, err)}
	}

	ok, err := c.venues.MarkSynced(context.WithoutCancel(ctx), id, venue.IsFavorite)
	if err != nil {
		return outcome{err: fmt.Errorf("venue %d: %w", id, err)}
	}
	if !ok {
		c.logger.Info("favorite changed during replay, requeueing", "venue_id", id)
		c.Request(domain.ChannelFavorite)
		return skipped
	}
	c.logger.Debug("favorite replayed", "venue_id", id, "is_favorite", venue.IsFavorite)
	return outcome{synced: true}
}

func (c *Coordinator) replayReview(ctx context.Context, guid string) outcome {
	key := "review:" + guid
	if !c.acquire(key) {
		return skipped
	}
	defer c.release(key)

	review, err := c.reviews.GetByGUID(ctx, guid)
	if err != nil {
		return outcome{err: fmt.Errorf("review %s: %w", guid, err)}
	}
	if review.IsSynced() {
		return skipped
	}

	created, err := c.remote.CreateReview(ctx, remote.PayloadFor(review))
	if err != nil {
		c.logger.Debug("review replay failed", "guid", guid, "error", err)
		return outcome{err: fmt.Errorf("review %s: %w", guid, err)}
	}

	createdAt, updatedAt := created.CreatedAt, created.UpdatedAt
	if createdAt.IsZero() {
		createdAt = review.CreatedAt
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	review.MarkSynced(created.ID, createdAt.UTC(), updatedAt.UTC())

	// The server holds the review now; recording that must outlive the
	// caller, or the next run would submit it again.
	if _, err := c.reviews.Put(context.WithoutCancel(ctx), review); err != nil {
		c.mu.Lock()
		c.stuck[key] = struct{}{}
		c.mu.Unlock()
		c.logger.Error("review accepted by server but not recorded locally",
			"guid", guid, "server_id", created.ID, "error", err)
		return outcome{err: fmt.Errorf("review %s: %w", guid, err)}
	}
	c.logger.Debug("review replayed", "guid", guid, "server_id", created.ID)
	return outcome{synced: true}
}

// acquire marks key in flight and reports whether the caller owns it.
func (c *Coordinator) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	if _, ok := c.stuck[key]; ok {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}
