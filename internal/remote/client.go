package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vbonduro/reviewsync/internal/domain"
)

// ErrNetwork matches every *NetworkError through errors.Is.
var ErrNetwork = errors.New("network error")

// NetworkError reports a failed call to the server: either the transport
// failed (StatusCode 0) or the server answered with a non-2xx status.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// Client is a thin wrapper over the server's REST surface. It performs exactly
// one HTTP call per operation and never retries.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient returns a Client for the server at baseURL. A nil httpClient uses
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

func (c *Client) ListVenues(ctx context.Context) ([]*domain.Venue, error) {
	var body []venueJSON
	if err := c.do(ctx, "list venues", http.MethodGet, "/restaurants", nil, &body); err != nil {
		return nil, err
	}
	venues := make([]*domain.Venue, 0, len(body))
	for i := range body {
		venues = append(venues, body[i].toDomain())
	}
	return venues, nil
}

func (c *Client) GetVenue(ctx context.Context, id int64) (*domain.Venue, error) {
	var body venueJSON
	if err := c.do(ctx, "get venue", http.MethodGet, fmt.Sprintf("/restaurants/%d", id), nil, &body); err != nil {
		return nil, err
	}
	return body.toDomain(), nil
}

func (c *Client) ListReviews(ctx context.Context, restaurantID int64) ([]*domain.Review, error) {
	q := url.Values{}
	q.Set("restaurant_id", strconv.FormatInt(restaurantID, 10))

	var body []reviewJSON
	if err := c.do(ctx, "list reviews", http.MethodGet, "/reviews/?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}
	reviews := make([]*domain.Review, 0, len(body))
	for i := range body {
		// A malformed record must not keep the venue's other reviews from
		// being stored.
		if body[i].ID == 0 || !domain.ValidRating(int(body[i].Rating)) {
			continue
		}
		reviews = append(reviews, body[i].toDomain())
	}
	return reviews, nil
}

// CreateReview submits a new review. It is not idempotent: every successful
// call creates a server-side record.
func (c *Client) CreateReview(ctx context.Context, payload ReviewPayload) (*CreatedReview, error) {
	var body reviewJSON
	if err := c.do(ctx, "create review", http.MethodPost, "/reviews/", payload, &body); err != nil {
		return nil, err
	}
	if body.ID == 0 {
		return nil, &NetworkError{Op: "create review", Err: errors.New("server response has no id")}
	}
	return &CreatedReview{
		ID:        int64(body.ID),
		CreatedAt: time.Time(body.CreatedAt),
		UpdatedAt: time.Time(body.UpdatedAt),
	}, nil
}

func (c *Client) SetFavorite(ctx context.Context, venueID int64, favorite bool) error {
	q := url.Values{}
	q.Set("is_favorite", strconv.FormatBool(favorite))
	return c.do(ctx, "set favorite", http.MethodPut, fmt.Sprintf("/restaurants/%d?%s", venueID, q.Encode()), nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &NetworkError{Op: op, StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
