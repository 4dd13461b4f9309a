package versioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func directory(names map[string]string, calls *int) DisplayNameFunc {
	return func(ctx context.Context, actorID string) (string, error) {
		*calls++
		name, ok := names[actorID]
		if !ok {
			return "", errors.New("no such user")
		}
		return name, nil
	}
}

func TestTimelineEntries(t *testing.T) {
	calls := 0
	engine, _ := newTestEngine(t, WithDisplayNames(directory(map[string]string{"u-1": "Ada Lovelace"}, &calls)))
	ctx := context.Background()
	id := createOrder(t, engine, "u-1", Row{"status": "new", "total": 10.0})
	updateOrder(t, engine, "u-1", id, Row{"status": "active"})

	timeline, err := engine.GetHistory(ctx, "orders", id, "")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, 1, calls)

	created := timeline[0]
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, ActionCreated, created.Action)
	assert.Equal(t, "u-1", created.ActorID)
	assert.Equal(t, "Ada Lovelace", created.Who)
	require.NotNil(t, created.When)
	assert.Equal(t, "America/New_York", created.When.Location().String())
	assert.Equal(t, "01/15/2024 12:30:00 PM", created.WhenDisplay)

	var fields []string
	for _, c := range created.Changes {
		fields = append(fields, c.Field)
		assert.Nil(t, c.Old)
	}
	assert.Equal(t, []string{"status", "total", "customer_id", "placed_at", "notes"}, fields)
	assert.Equal(t, "new", created.Changes[0].New)

	updated := timeline[1]
	assert.Equal(t, ActionUpdated, updated.Action)
	assert.Equal(t, "01/15/2024 12:31:00 PM", updated.WhenDisplay)
	assert.Equal(t, []Change{{Field: "status", Old: "new", New: "active"}}, updated.Changes)
}

func TestTimelineActorFallbacks(t *testing.T) {
	calls := 0
	engine, _ := newTestEngine(t, WithDisplayNames(directory(map[string]string{}, &calls)))
	ctx := context.Background()
	id := createOrder(t, engine, SystemActor, Row{"status": "new"})
	updateOrder(t, engine, "ghost", id, Row{"status": "active"})
	updateOrder(t, engine, "ghost", id, Row{"status": "shipped"})

	timeline, err := engine.GetHistory(ctx, "orders", id, "UTC")
	require.NoError(t, err)
	require.Len(t, timeline, 3)

	assert.Equal(t, SystemDisplayName, timeline[0].Who)
	assert.Equal(t, SystemDisplayName, timeline[1].Who)
	assert.Equal(t, "ghost", timeline[2].ActorID)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "01/15/2024 05:30:00 PM", timeline[0].WhenDisplay)
}

func TestTimelineWithoutResolverShowsActorID(t *testing.T) {
	engine, _ := newTestEngine(t, WithTimelineOptions(WithSystemDisplayName("Scheduler")))
	id := createOrder(t, engine, "u-5", Row{"status": "new"})
	updateOrder(t, engine, SystemActor, id, Row{"status": "active"})

	timeline, err := engine.GetHistory(context.Background(), "orders", id, "")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, "u-5", timeline[0].Who)
	assert.Equal(t, "Scheduler", timeline[1].Who)
}

func TestTimelineUnknownTimezone(t *testing.T) {
	engine, _ := newTestEngine(t)
	id := createOrder(t, engine, "u-1", Row{"status": "new"})

	timeline, err := engine.GetHistory(context.Background(), "orders", id, "Mars/Olympus_Mons")
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Nil(t, timeline[0].When)
	assert.Empty(t, timeline[0].WhenDisplay)
	assert.NotEmpty(t, timeline[0].Changes)
}

func TestTimelineIgnoredFieldsAndTimestamps(t *testing.T) {
	engine, _ := newTestEngine(t, WithTimelineOptions(WithIgnoredFields("NOTES"), WithDisplayLayout(time.RFC3339)))
	placed := time.Date(2024, 7, 4, 16, 0, 0, 0, time.UTC)
	id := createOrder(t, engine, "u-1", Row{"status": "new", "notes": "internal"})
	updateOrder(t, engine, "u-1", id, Row{"notes": "still internal", "placed_at": placed})

	timeline, err := engine.GetHistory(context.Background(), "orders", id, "America/New_York")
	require.NoError(t, err)
	require.Len(t, timeline, 2)

	for _, c := range timeline[0].Changes {
		assert.NotEqual(t, "notes", c.Field)
	}
	assert.Equal(t, "2024-01-15T12:30:00-05:00", timeline[0].WhenDisplay)

	require.Len(t, timeline[1].Changes, 1)
	change := timeline[1].Changes[0]
	assert.Equal(t, "placed_at", change.Field)
	assert.Nil(t, change.Old)
	local, ok := change.New.(time.Time)
	require.True(t, ok)
	assert.Equal(t, "America/New_York", local.Location().String())
	assert.Equal(t, 12, local.Hour())
}

func TestTimelineEmptyAndUnknown(t *testing.T) {
	engine, _ := newTestEngine(t)

	timeline, err := engine.GetHistory(context.Background(), "orders", 404, "")
	require.NoError(t, err)
	assert.Empty(t, timeline)

	_, err = engine.GetHistory(context.Background(), "invoices", 1, "")
	assert.ErrorIs(t, err, ErrUnknownEntityType)
}

type staticReader struct {
	records []HistoryRecord
}

func (r staticReader) History(ctx context.Context, et *EntityType, id int64) ([]HistoryRecord, error) {
	return r.records, nil
}

func (r staticReader) SearchHistory(ctx context.Context, et *EntityType, filters map[string]interface{}) ([]HistoryRecord, error) {
	return r.records, nil
}

func TestTimelineZeroTimestamp(t *testing.T) {
	m := trackerMirror(t)
	reader := staticReader{records: []HistoryRecord{
		{Entity: "orders", EntityID: 1, Version: 2, Actor: SystemActor, ActionType: ActionUpdated, Values: map[string]interface{}{"status": "active", "legacy_code": "A1"}},
		{Entity: "orders", EntityID: 1, Version: 1, Actor: SystemActor, ActionType: ActionUnknown, Values: map[string]interface{}{"status": "new", "legacy_code": "A1"}},
	}}
	b := NewTimelineBuilder(reader, m, NewDeltaEngine(), nil)

	timeline, err := b.Build(context.Background(), "orders", 1, "")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, int64(1), timeline[0].Version)
	assert.Nil(t, timeline[0].When)
	assert.Empty(t, timeline[0].WhenDisplay)

	last := timeline[0].Changes[len(timeline[0].Changes)-1]
	assert.Equal(t, "legacy_code", last.Field)
	assert.Equal(t, []Change{{Field: "status", Old: "new", New: "active"}}, timeline[1].Changes)
}

func TestTimelineDefaultTimezoneOption(t *testing.T) {
	engine, _ := newTestEngine(t, WithTimelineOptions(WithDefaultTimezone("Asia/Jakarta")))
	id := createOrder(t, engine, "u-1", Row{"status": "new"})

	timeline, err := engine.GetHistory(context.Background(), "orders", id, "")
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, "01/16/2024 12:30:00 AM", timeline[0].WhenDisplay)
}
