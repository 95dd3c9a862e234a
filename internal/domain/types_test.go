package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannel(t *testing.T) {
	ch, err := ParseChannel("favorite")
	require.NoError(t, err)
	assert.Equal(t, ChannelFavorite, ch)

	ch, err = ParseChannel("review")
	require.NoError(t, err)
	assert.Equal(t, ChannelReview, ch)

	_, err = ParseChannel("photos")
	assert.Error(t, err)
}

func TestReviewMarkSynced(t *testing.T) {
	r := &Review{GUID: "abc", RestaurantID: 7, SyncState: Pending}
	assert.False(t, r.IsSynced())

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.MarkSynced(42, created, created)

	assert.True(t, r.IsSynced())
	assert.Equal(t, int64(42), r.ServerID)
	assert.Equal(t, "abc", r.GUID)
	assert.Equal(t, created, r.CreatedAt)
}

func TestVenuePhotoPath(t *testing.T) {
	v := &Venue{ID: 3, Photograph: "3"}
	assert.Equal(t, "/img/800/3.jpg", v.PhotoPath(800, false))
	assert.Equal(t, "/img/400-compressed/3.jpg", v.PhotoPath(400, true))

	// Some server records omit the photograph; the id stands in.
	v = &Venue{ID: 10}
	assert.Equal(t, "/img/800/10.jpg", v.PhotoPath(800, false))
}

func TestValidRating(t *testing.T) {
	assert.False(t, ValidRating(0))
	assert.True(t, ValidRating(1))
	assert.True(t, ValidRating(5))
	assert.False(t, ValidRating(6))
}
