package patchtools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type order struct {
	ID       int64             `json:"id"`
	Status   string            `json:"status"`
	Total    *float64          `json:"total,omitempty"`
	Paid     bool              `json:"paid"`
	PlacedAt *time.Time        `json:"placed_at"`
	Tags     map[string]string `json:"tags"`
	Note     *string           `json:"note"`
	ignored  string
}

func TestFromMapAndPopulate(t *testing.T) {
	placed := time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)
	data, err := FromMap(map[string]interface{}{
		"id":        int64(7),
		"status":    "active",
		"total":     12.5,
		"paid":      true,
		"placed_at": placed,
		"tags":      map[string]string{"channel": "web"},
		"note":      nil,
		"unknown":   "skipped",
	})
	require.NoError(t, err)
	assert.Equal(t, "id", data[0].Field)

	var o order
	require.NoError(t, PopulateStruct(data, &o))
	assert.Equal(t, int64(7), o.ID)
	assert.Equal(t, "active", o.Status)
	require.NotNil(t, o.Total)
	assert.Equal(t, 12.5, *o.Total)
	assert.True(t, o.Paid)
	require.NotNil(t, o.PlacedAt)
	assert.True(t, placed.Equal(*o.PlacedAt))
	assert.Equal(t, map[string]string{"channel": "web"}, o.Tags)
	assert.Nil(t, o.Note)
	assert.Empty(t, o.ignored)
}

func TestPopulateStructErrors(t *testing.T) {
	var o order
	err := PopulateStruct([]Data{{Field: "id", Value: "seven"}}, &o)
	assert.ErrorContains(t, err, "invalid int value for field id")

	err = PopulateStruct(nil, o)
	assert.Error(t, err)
}
