package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/remote"
	"github.com/felixgeelhaar/stride/pkg/store"
)

// Document is the on-disk state file. Records are kept in wire form.
type Document struct {
	Revision   int             `json:"revision"`
	KeyAreas   json.RawMessage `json:"key_areas"`
	Goals      json.RawMessage `json:"goals"`
	Milestones json.RawMessage `json:"milestones"`
	Tasks      json.RawMessage `json:"tasks"`
	Activities json.RawMessage `json:"activities"`
}

const documentSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["revision", "key_areas", "goals", "milestones", "tasks", "activities"],
  "properties": {
    "revision": { "type": "integer", "minimum": 0 },
    "key_areas": { "type": "array", "items": { "$ref": "#/definitions/record" } },
    "goals": { "type": "array", "items": { "$ref": "#/definitions/record" } },
    "milestones": {
      "type": "array",
      "items": {
        "allOf": [
          { "$ref": "#/definitions/record" },
          { "required": ["goal_id"], "properties": { "weight": { "type": "number" } } }
        ]
      }
    },
    "tasks": {
      "type": "array",
      "items": {
        "allOf": [
          { "$ref": "#/definitions/record" },
          { "required": ["key_area_id"] }
        ]
      }
    },
    "activities": { "type": "array", "items": { "$ref": "#/definitions/record" } }
  },
  "definitions": {
    "record": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "version": { "type": "integer", "minimum": 0 }
      }
    }
  }
}`

var documentSchemaLoader = gojsonschema.NewStringLoader(documentSchemaJSON)

// ParseDocument validates data against the state schema and decodes it.
func ParseDocument(data []byte) (*Document, error) {
	result, err := gojsonschema.Validate(documentSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("state file is invalid: %s", strings.Join(msgs, "; "))
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &doc, nil
}

// NewDocument encodes a snapshot.
func NewDocument(snap store.Snapshot, revision int) (*Document, error) {
	doc := &Document{Revision: revision}
	var err error
	if doc.KeyAreas, err = remote.EncodeList(entities(snap.KeyAreas)); err != nil {
		return nil, err
	}
	if doc.Goals, err = remote.EncodeList(entities(snap.Goals)); err != nil {
		return nil, err
	}
	if doc.Milestones, err = remote.EncodeList(entities(snap.Milestones)); err != nil {
		return nil, err
	}
	if doc.Tasks, err = remote.EncodeList(entities(snap.Tasks)); err != nil {
		return nil, err
	}
	if doc.Activities, err = remote.EncodeList(entities(snap.Activities)); err != nil {
		return nil, err
	}
	return doc, nil
}

// Store decodes the document into a fresh store.
func (d *Document) Store() (*store.Store, error) {
	var all []tracking.Entity
	sections := []struct {
		kind tracking.EntityKind
		raw  json.RawMessage
	}{
		{tracking.KindKeyArea, d.KeyAreas},
		{tracking.KindGoal, d.Goals},
		{tracking.KindMilestone, d.Milestones},
		{tracking.KindTask, d.Tasks},
		{tracking.KindActivity, d.Activities},
	}
	for _, s := range sections {
		if len(s.raw) == 0 {
			continue
		}
		list, err := remote.DecodeList(s.kind, s.raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s records: %w", s.kind, err)
		}
		all = append(all, list...)
	}

	st := store.New()
	if err := st.Replace(all); err != nil {
		return nil, err
	}
	return st, nil
}

func entities[T tracking.Entity](list []T) []tracking.Entity {
	out := make([]tracking.Entity, len(list))
	for i, e := range list {
		out[i] = e
	}
	return out
}
