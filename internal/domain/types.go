package domain

import (
	"fmt"
	"time"
)

// SyncState tags a locally stored record with whether its last mutation has
// been acknowledged by the server.
type SyncState string

const (
	Synced  SyncState = "synced"
	Pending SyncState = "pending"
)

// Channel names an independent stream of deferred mutations.
type Channel string

const (
	ChannelFavorite Channel = "favorite"
	ChannelReview   Channel = "review"
)

// Channels lists every replay channel in the order they are replayed.
var Channels = []Channel{ChannelReview, ChannelFavorite}

func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelFavorite, ChannelReview:
		return Channel(s), nil
	default:
		return "", fmt.Errorf("unknown sync channel %q", s)
	}
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Venue struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Neighborhood   string            `json:"neighborhood"`
	Address        string            `json:"address"`
	CuisineType    string            `json:"cuisine_type"`
	LatLng         LatLng            `json:"latlng"`
	Photograph     string            `json:"photograph"`
	OperatingHours map[string]string `json:"operating_hours"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	IsFavorite     bool              `json:"is_favorite"`
	SyncState      SyncState         `json:"sync_state"`
}

func (v *Venue) IsSynced() bool {
	return v.SyncState != Pending
}

// PhotoPath returns the shell-relative image path for the venue. A missing
// photograph reference falls back to the venue id.
func (v *Venue) PhotoPath(width int, compressed bool) string {
	suffix := ""
	if compressed {
		suffix = "-compressed"
	}
	name := v.Photograph
	if name == "" {
		name = fmt.Sprintf("%d", v.ID)
	}
	return fmt.Sprintf("/img/%d%s/%s.jpg", width, suffix, name)
}

type Review struct {
	GUID         string    `json:"guid"`
	ServerID     int64     `json:"id"`
	RestaurantID int64     `json:"restaurant_id"`
	Name         string    `json:"name"`
	Rating       int       `json:"rating"`
	Comments     string    `json:"comments"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	SyncState    SyncState `json:"sync_state"`
}

func (r *Review) IsSynced() bool {
	return r.SyncState == Synced && r.ServerID != 0
}

// MarkSynced records the server's acknowledgement, moving the review out of
// the pending set. The GUID never changes.
func (r *Review) MarkSynced(serverID int64, createdAt, updatedAt time.Time) {
	r.ServerID = serverID
	r.CreatedAt = createdAt
	r.UpdatedAt = updatedAt
	r.SyncState = Synced
}

const (
	MinRating = 1
	MaxRating = 5
)

func ValidRating(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}
