package datachangelog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func sampleTimeline() []versioning.TimelineEntry {
	when := time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC)
	return []versioning.TimelineEntry{
		{
			Version:     2,
			Action:      versioning.ActionUpdated,
			When:        &when,
			WhenDisplay: "01/15/2024 07:30:00 AM",
			ActorID:     "42",
			Who:         "Ada Lovelace",
			Changes:     []versioning.Change{{Field: "status", Old: "new", New: "active"}},
		},
		{
			Version: 1,
			Action:  versioning.ActionCreated,
			ActorID: versioning.SystemActor,
			Who:     versioning.SystemDisplayName,
		},
	}
}

func TestTimelineToProto(t *testing.T) {
	list, err := TimelineToProto(sampleTimeline())
	require.NoError(t, err)
	require.Len(t, list.Values, 2)

	first := list.Values[0].GetStructValue()
	require.NotNil(t, first)
	assert.Equal(t, float64(2), first.Fields["version"].GetNumberValue())
	assert.Equal(t, "updated", first.Fields["action"].GetStringValue())
	assert.Equal(t, "2024-01-15T12:30:00Z", first.Fields["when"].GetStringValue())
	assert.Equal(t, "Ada Lovelace", first.Fields["who"].GetStringValue())

	changes := first.Fields["changes"].GetListValue()
	require.NotNil(t, changes)
	require.Len(t, changes.Values, 1)
	change := changes.Values[0].GetStructValue()
	assert.Equal(t, "status", change.Fields["field"].GetStringValue())
	assert.Equal(t, "active", change.Fields["new"].GetStringValue())

	second := list.Values[1].GetStructValue()
	_, isNull := second.Fields["when"].GetKind().(*structpb.Value_NullValue)
	assert.True(t, isNull)
}

func TestMarshalTimeline(t *testing.T) {
	raw, err := MarshalTimeline(sampleTimeline())
	require.NoError(t, err)

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "01/15/2024 07:30:00 AM", decoded[0]["when_display"])
	assert.Equal(t, "42", decoded[0]["actor_id"])
	assert.Nil(t, decoded[1]["when"])
	assert.Equal(t, versioning.SystemDisplayName, decoded[1]["who"])
}

func TestRecordsToProto(t *testing.T) {
	list, err := RecordsToProto([]versioning.HistoryRecord{{
		Entity:     "orders",
		EntityID:   7,
		Version:    1,
		Actor:      "42",
		ActionType: versioning.ActionCreated,
		Values:     map[string]interface{}{"total": 12.5},
	}})
	require.NoError(t, err)
	require.Len(t, list.Values, 1)
	assert.NotNil(t, list.Values[0].GetStructValue())
}
