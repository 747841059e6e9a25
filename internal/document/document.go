// Package document models content-store documents as untyped JSON trees and
// provides the id, path and reference conventions shared by the sync engine.
package document

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	KeyID        = "_id"
	KeyRev       = "_rev"
	KeyType      = "_type"
	KeyKey       = "_key"
	KeyRef       = "_ref"
	KeyWeak      = "_weak"
	KeyCreatedAt = "_createdAt"
	KeyUpdatedAt = "_updatedAt"

	// KeyStrengthenOnPublish marks a weak reference the store should turn into
	// a strong one once the referenced draft is published.
	KeyStrengthenOnPublish = "_strengthenOnPublish"

	// MetadataKey holds sync-engine metadata on main documents and PTDs.
	MetadataKey = "phraseMetadata"
)

// Document is a single content-store document.
type Document map[string]any

func (d Document) ID() string   { return d.String(KeyID) }
func (d Document) Rev() string  { return d.String(KeyRev) }
func (d Document) Type() string { return d.String(KeyType) }

// String returns the string stored under key, or "" when absent.
func (d Document) String(key string) string {
	if d == nil {
		return ""
	}
	s, _ := d[key].(string)
	return s
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(DeepCopy(map[string]any(d)).(map[string]any))
}

// IsSystemKey reports whether key is managed by the content store or the
// engine rather than by editors.
func IsSystemKey(key string) bool {
	switch key {
	case KeyID, KeyRev, KeyType, KeyCreatedAt, KeyUpdatedAt, MetadataKey:
		return true
	}
	return false
}

// Ref is the stored shape of a reference to another document.
type Ref struct {
	Ref  string `json:"_ref"`
	Type string `json:"_type,omitempty"`
	Weak bool   `json:"_weak,omitempty"`
}

// NewRef returns a strong reference to id.
func NewRef(id string) Ref { return Ref{Ref: id, Type: "reference"} }

// NewWeakRef returns a weak reference to id.
func NewWeakRef(id string) Ref { return Ref{Ref: id, Type: "reference", Weak: true} }

// DeepCopy copies maps and slices recursively. Scalars are shared.
func DeepCopy(v any) any {
	switch typed := v.(type) {
	case Document:
		return DeepCopy(map[string]any(typed))
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = DeepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = DeepCopy(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}

// Normalize round-trips a value through JSON so that nested structs, typed
// slices and integers take the same shape a store read would produce.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return out, nil
}

// FromValue converts a JSON-shaped value (struct, map) into a Document.
func FromValue(v any) (Document, error) {
	normalized, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("value of type %T is not an object", v)
	}
	return Document(m), nil
}

// Decode unmarshals the document into out.
func (d Document) Decode(out any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal document %q: %w", d.ID(), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document %q: %w", d.ID(), err)
	}
	return nil
}

// Snapshot serializes a document without engine metadata, for storing the
// state of a source document at request time.
func Snapshot(d Document) (string, error) {
	clean := make(map[string]any, len(d))
	for k, v := range d {
		if k == MetadataKey {
			continue
		}
		clean[k] = v
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(raw), nil
}

func ParseSnapshot(snapshot string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(snapshot), &doc); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return doc, nil
}

// SortByID orders documents by id, in place.
func SortByID(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID() < docs[j].ID() })
}
