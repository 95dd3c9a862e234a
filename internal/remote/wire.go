package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vbonduro/reviewsync/internal/domain"
)

// The server is loose with types: flags arrive as "true"/"false", numbers
// as strings, timestamps as either ISO 8601 or epoch milliseconds.

type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}
	var s string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		*b = true
	case "false", "0", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %q", s)
	}
	return nil
}

type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	if s == "" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if ferr != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		v = int64(f)
	}
	*n = flexInt(v)
	return nil
}

type flexTime time.Time

func (t *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = flexTime{}
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s", data)
		}
		*t = flexTime(time.UnixMilli(ms).UTC())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = flexTime{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = flexTime(time.UnixMilli(ms).UTC())
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*t = flexTime(parsed.UTC())
	return nil
}

type venueJSON struct {
	ID             flexInt           `json:"id"`
	Name           string            `json:"name"`
	Neighborhood   string            `json:"neighborhood"`
	Address        string            `json:"address"`
	CuisineType    string            `json:"cuisine_type"`
	LatLng         domain.LatLng     `json:"latlng"`
	Photograph     string            `json:"photograph"`
	OperatingHours map[string]string `json:"operating_hours"`
	CreatedAt      flexTime          `json:"createdAt"`
	UpdatedAt      flexTime          `json:"updatedAt"`
	IsFavorite     flexBool          `json:"is_favorite"`
}

func (v *venueJSON) toDomain() *domain.Venue {
	return &domain.Venue{
		ID:             int64(v.ID),
		Name:           v.Name,
		Neighborhood:   v.Neighborhood,
		Address:        v.Address,
		CuisineType:    v.CuisineType,
		LatLng:         v.LatLng,
		Photograph:     v.Photograph,
		OperatingHours: v.OperatingHours,
		CreatedAt:      time.Time(v.CreatedAt),
		UpdatedAt:      time.Time(v.UpdatedAt),
		IsFavorite:     bool(v.IsFavorite),
		SyncState:      domain.Synced,
	}
}

type reviewJSON struct {
	ID           flexInt  `json:"id"`
	RestaurantID flexInt  `json:"restaurant_id"`
	Name         string   `json:"name"`
	Rating       flexInt  `json:"rating"`
	Comments     string   `json:"comments"`
	CreatedAt    flexTime `json:"createdAt"`
	UpdatedAt    flexTime `json:"updatedAt"`
}

// toDomain leaves GUID empty; the store assigns one for server records.
func (r *reviewJSON) toDomain() *domain.Review {
	return &domain.Review{
		ServerID:     int64(r.ID),
		RestaurantID: int64(r.RestaurantID),
		Name:         r.Name,
		Rating:       int(r.Rating),
		Comments:     r.Comments,
		CreatedAt:    time.Time(r.CreatedAt),
		UpdatedAt:    time.Time(r.UpdatedAt),
		SyncState:    domain.Synced,
	}
}

// ReviewPayload is the body of POST /reviews/. It carries no id: the server
// never sees one for an unsynced review.
type ReviewPayload struct {
	RestaurantID int64  `json:"restaurant_id"`
	Name         string `json:"name"`
	Rating       int    `json:"rating"`
	Comments     string `json:"comments"`
}

func PayloadFor(r *domain.Review) ReviewPayload {
	return ReviewPayload{
		RestaurantID: r.RestaurantID,
		Name:         r.Name,
		Rating:       r.Rating,
		Comments:     r.Comments,
	}
}

// CreatedReview is the server's acknowledgement of a new review.
type CreatedReview struct {
	ID        int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
