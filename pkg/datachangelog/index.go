package datachangelog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/rs/zerolog"
)

// ErrMaskedField is returned when a search filters on a field that is masked in the index
var ErrMaskedField = errors.New("field is masked in the history index")

// HistoryIndex publishes committed history records to a Repository and answers history searches from it.
// It implements versioning.HistorySink and versioning.HistorySearcher.
type HistoryIndex struct {
	repo      Repository
	mirror    *versioning.SchemaMirror
	sanitizer *Sanitizer
	log       zerolog.Logger
}

// NewHistoryIndex creates an index over repo. Entity types are resolved through mirror.
func NewHistoryIndex(repo Repository, mirror *versioning.SchemaMirror, sanitizer *Sanitizer, log zerolog.Logger) *HistoryIndex {
	if sanitizer == nil {
		sanitizer = NewSanitizer(nil)
	}
	return &HistoryIndex{
		repo:      repo,
		mirror:    mirror,
		sanitizer: sanitizer,
		log:       log,
	}
}

// Repository returns the underlying document store
func (x *HistoryIndex) Repository() Repository { return x.repo }

// Publish converts records to masked documents and saves them in one batch
func (x *HistoryIndex) Publish(ctx context.Context, records []versioning.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]HistoryDocument, 0, len(records))
	for _, rec := range records {
		et, err := x.mirror.Lookup(rec.Entity)
		if err != nil {
			return fmt.Errorf("failed to index %s %d version %d: %w", rec.Entity, rec.EntityID, rec.Version, err)
		}
		doc := newHistoryDocument(et.Root().Shadow().Table, rec)
		for k, v := range doc.Values {
			doc.Values[k] = documentValue(v)
		}
		x.sanitizer.SanitizeDocument(&doc)
		docs = append(docs, doc)
	}

	if err := x.repo.SaveBatch(ctx, docs); err != nil {
		return fmt.Errorf("failed to index %d history records: %w", len(docs), err)
	}
	x.log.Debug().Int("documents", len(docs)).Msg("history records indexed")
	return nil
}

// History returns the indexed records of one identity ordered by version
func (x *HistoryIndex) History(ctx context.Context, et *versioning.EntityType, id int64) ([]versioning.HistoryRecord, error) {
	query := &HistoryQuery{Root: et.Root().Shadow().Table, EntityID: &id}
	return x.search(ctx, query)
}

// SearchHistory returns the indexed records of et's hierarchy whose fields equal filters
func (x *HistoryIndex) SearchHistory(ctx context.Context, et *versioning.EntityType, filters map[string]interface{}) ([]versioning.HistoryRecord, error) {
	query := &HistoryQuery{
		Root:   et.Root().Shadow().Table,
		Fields: make(map[string]interface{}, len(filters)),
	}
	for name, want := range filters {
		if versioning.IsMetadataField(name) {
			query.Fields[name] = documentValue(want)
			continue
		}
		if x.sanitizer.IsSensitive(name) {
			return nil, fmt.Errorf("%s: %w", name, ErrMaskedField)
		}
		query.Fields["values."+name] = documentValue(want)
	}
	return x.search(ctx, query)
}

func (x *HistoryIndex) search(ctx context.Context, query *HistoryQuery) ([]versioning.HistoryRecord, error) {
	docs, err := x.repo.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	types := make(map[string]map[string]versioning.FieldType)
	records := make([]versioning.HistoryRecord, 0, len(docs))
	for _, doc := range docs {
		colTypes, ok := types[doc.Entity]
		if !ok {
			et, err := x.mirror.Lookup(doc.Entity)
			if err != nil {
				x.log.Warn().Err(err).Str("entity", doc.Entity).Str("document", doc.ID).Msg("indexed history of unregistered type skipped")
				continue
			}
			colTypes = columnTypes(et)
			types[doc.Entity] = colTypes
		}
		records = append(records, doc.record(colTypes))
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].EntityID != records[j].EntityID {
			return records[i].EntityID < records[j].EntityID
		}
		return records[i].Version < records[j].Version
	})
	return records, nil
}

func (d HistoryDocument) record(types map[string]versioning.FieldType) versioning.HistoryRecord {
	values := make(map[string]interface{}, len(d.Values))
	for k, v := range d.Values {
		values[k] = snapshotValue(types[k], v)
	}
	return versioning.HistoryRecord{
		Entity:     d.Entity,
		EntityID:   d.EntityID,
		Version:    d.Version,
		ChangedAt:  d.ChangedAt,
		Actor:      d.Actor,
		ActionType: versioning.ActionType(d.ActionType),
		Values:     values,
	}
}
