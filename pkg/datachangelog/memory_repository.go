package datachangelog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
)

// MemoryRepository keeps history documents in process.
// Documents are stored as JSON so reads decode them the way the Elasticsearch repository does.
type MemoryRepository struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	delta *versioning.DeltaEngine
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs:  make(map[string][]byte),
		delta: versioning.NewDeltaEngine(),
	}
}

// SaveBatch stores docs, replacing documents with the same id
func (m *MemoryRepository) SaveBatch(ctx context.Context, docs []HistoryDocument) error {
	encoded := make(map[string][]byte, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document of %s %d version %d has no id", doc.Entity, doc.EntityID, doc.Version)
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document %s: %w", doc.ID, err)
		}
		encoded[doc.ID] = raw
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, raw := range encoded {
		m.docs[id] = raw
	}
	return nil
}

// Search returns the documents matching query ordered by entity id and version
func (m *MemoryRepository) Search(ctx context.Context, query *HistoryQuery) ([]HistoryDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []HistoryDocument
	for id, raw := range m.docs {
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
		}
		if m.matchesQuery(doc, query) {
			results = append(results, doc)
		}
	}

	sortDocuments(results)
	if query.Limit > 0 && len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// Close drops every document
func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs = make(map[string][]byte)
	return nil
}

// Health always succeeds
func (m *MemoryRepository) Health(ctx context.Context) error {
	return nil
}

// Count returns the number of stored documents
func (m *MemoryRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.docs)
}

func (m *MemoryRepository) matchesQuery(doc HistoryDocument, query *HistoryQuery) bool {
	if query.Root != "" && doc.Root != query.Root {
		return false
	}

	if query.EntityID != nil && doc.EntityID != *query.EntityID {
		return false
	}

	for field, want := range query.Fields {
		var got interface{}
		switch field {
		case versioning.MetaVersion:
			got = doc.Version
		case versioning.MetaActor:
			got = doc.Actor
		case versioning.MetaActionType:
			got = doc.ActionType
		case versioning.MetaChangedAt:
			got = doc.ChangedAt.UTC().Format(time.RFC3339Nano)
		default:
			name, ok := strings.CutPrefix(field, "values.")
			if !ok {
				return false
			}
			v, ok := doc.Values[name]
			if !ok {
				return false
			}
			got = plainJSON(v)
		}
		if !m.delta.ValuesEqual(got, plainJSON(want)) {
			return false
		}
	}

	return true
}

func decodeDocument(raw []byte) (HistoryDocument, error) {
	var doc HistoryDocument
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	err := dec.Decode(&doc)
	return doc, err
}

func sortDocuments(docs []HistoryDocument) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].EntityID != docs[j].EntityID {
			return docs[i].EntityID < docs[j].EntityID
		}
		return docs[i].Version < docs[j].Version
	})
}
