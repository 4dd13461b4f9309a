package datachangelog

import (
	"encoding/json"
	"fmt"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// TimelineToProto converts a timeline into a protobuf list for gRPC responses.
// Timestamps become RFC 3339 strings and numbers become doubles.
func TimelineToProto(entries []versioning.TimelineEntry) (*structpb.ListValue, error) {
	return toListValue(entries)
}

// RecordsToProto converts raw history records into a protobuf list
func RecordsToProto(records []versioning.HistoryRecord) (*structpb.ListValue, error) {
	return toListValue(records)
}

// MarshalTimeline renders a timeline with protojson, field names as declared
func MarshalTimeline(entries []versioning.TimelineEntry) ([]byte, error) {
	list, err := TimelineToProto(entries)
	if err != nil {
		return nil, err
	}
	return protojson.MarshalOptions{UseProtoNames: true}.Marshal(list)
}

func toListValue(v interface{}) (*structpb.ListValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}

	var items []interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	list, err := structpb.NewList(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	return list, nil
}
