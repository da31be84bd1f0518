package memory

import (
	"encoding/json"
	"fmt"

	"crmcore/pkg/domain"
)

// SnapshotBuckets lists, in write order, the buckets a snapshot is stored as
// by the SQL drivers. Each bucket is one JSON document.
var SnapshotBuckets = []string{"contacts", "companies", "activities", "pipelines", "deals", "counters"}

type counters struct {
	NextID      domain.EntityID `json:"next_id"`
	NextStageID domain.EntityID `json:"next_stage_id"`
}

func (s *Snapshot) bucket(name string) (any, bool) {
	switch name {
	case "contacts":
		return &s.Contacts, true
	case "companies":
		return &s.Companies, true
	case "activities":
		return &s.Activities, true
	case "pipelines":
		return &s.Pipelines, true
	case "deals":
		return &s.Deals, true
	}
	return nil, false
}

// EncodeBuckets marshals every bucket of the snapshot.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(SnapshotBuckets))
	for _, name := range SnapshotBuckets {
		var v any = counters{NextID: s.NextID, NextStageID: s.NextStageID}
		if target, ok := s.bucket(name); ok {
			v = target
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = raw
	}
	return out, nil
}

// DecodeBucket loads one stored bucket into the snapshot. Unknown buckets and
// empty payloads are ignored.
func (s *Snapshot) DecodeBucket(name string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if name == "counters" {
		var c counters
		if err := json.Unmarshal(payload, &c); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		s.NextID, s.NextStageID = c.NextID, c.NextStageID
		return nil
	}
	target, ok := s.bucket(name)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
