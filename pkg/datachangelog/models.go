package datachangelog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
)

// documentNamespace seeds the deterministic ids of history documents
var documentNamespace = uuid.MustParse("6f1c4f37-5a0e-4d43-9a53-0c3b5f1f7e21")

// HistoryDocument is one history record as stored in the history index
type HistoryDocument struct {
	ID         string                 `json:"id"`
	Root       string                 `json:"root"`   // shadow table of the hierarchy root
	Entity     string                 `json:"entity"` // concrete entity type
	EntityID   int64                  `json:"entity_id"`
	Version    int64                  `json:"version"`
	ActionType string                 `json:"action_type"`
	Actor      string                 `json:"actor"`
	ChangedAt  time.Time              `json:"changed_at"`
	Values     map[string]interface{} `json:"values"`
	Masked     []string               `json:"masked,omitempty"` // fields whose values were masked
}

// DocumentID returns the id of the (root, entity id, version) record. Re-publishing a record overwrites it.
func DocumentID(root string, entityID, version int64) string {
	return uuid.NewSHA1(documentNamespace, []byte(fmt.Sprintf("%s/%d/%d", root, entityID, version))).String()
}

func newHistoryDocument(root string, rec versioning.HistoryRecord) HistoryDocument {
	values := make(map[string]interface{}, len(rec.Values))
	for k, v := range rec.Values {
		values[k] = v
	}
	return HistoryDocument{
		ID:         DocumentID(root, rec.EntityID, rec.Version),
		Root:       root,
		Entity:     rec.Entity,
		EntityID:   rec.EntityID,
		Version:    rec.Version,
		ActionType: string(rec.ActionType),
		Actor:      rec.Actor,
		ChangedAt:  rec.ChangedAt.UTC(),
		Values:     values,
	}
}

// HistoryQuery selects history documents of one hierarchy
type HistoryQuery struct {
	Root     string
	EntityID *int64
	// Fields maps metadata names (version, actor, action_type, changed_at) or "values.<field>" to the expected value
	Fields map[string]interface{}
	Limit  int
}
