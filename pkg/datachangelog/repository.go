package datachangelog

import (
	"context"
	"time"
)

// Repository stores and searches history documents
type Repository interface {
	// SaveBatch persists documents, replacing any with the same id
	SaveBatch(ctx context.Context, docs []HistoryDocument) error

	// Search returns the documents matching query ordered by entity id and version
	Search(ctx context.Context, query *HistoryQuery) ([]HistoryDocument, error)

	// Close flushes pending writes and releases resources
	Close() error

	// Health checks if the repository is reachable
	Health(ctx context.Context) error
}

// BatchWriterStatus represents the status of the async bulk writer
type BatchWriterStatus struct {
	IsRunning      bool      `json:"is_running"`
	QueueSize      int       `json:"queue_size"`
	ProcessedCount int64     `json:"processed_count"`
	FailedCount    int64     `json:"failed_count"`
	LastFlushTime  time.Time `json:"last_flush_time"`
	LastError      string    `json:"last_error,omitempty"`
}
