package versioning

import "context"

// Backend is the durable transactional store the engine runs on
type Backend interface {
	HistoryReader
	Begin(ctx context.Context) (BackendTx, error)
}

// BackendTx is one storage transaction. Implementations report stale versions and duplicate history
// identities as ErrWriteConflict, at the latest on Commit.
type BackendTx interface {
	// Load returns the live row of an entity and its version
	Load(ctx context.Context, et *EntityType, id int64) (Row, int64, error)
	// Insert stores a new live row with version 0 and returns the stored row including generated columns
	Insert(ctx context.Context, et *EntityType, values Row) (Row, error)
	// Update writes values and moves the version from expected to next
	Update(ctx context.Context, et *EntityType, id int64, expected, next int64, values Row) error
	// Delete removes the live row if it is still at version expected
	Delete(ctx context.Context, et *EntityType, id int64, expected int64) error
	// InsertHistory appends a history record to the shadow tables of et
	InsertHistory(ctx context.Context, et *EntityType, rec HistoryRecord) error
	Commit() error
	Rollback() error
}

// HistoryReader reads persisted history outside of write sessions
type HistoryReader interface {
	// History returns the records of one identity ordered by version ascending
	History(ctx context.Context, et *EntityType, id int64) ([]HistoryRecord, error)
	// SearchHistory returns records of et's shadow hierarchy whose values equal every filter
	SearchHistory(ctx context.Context, et *EntityType, filters map[string]interface{}) ([]HistoryRecord, error)
}

// HistorySink receives history records after they are durably committed
type HistorySink interface {
	Publish(ctx context.Context, records []HistoryRecord) error
}
