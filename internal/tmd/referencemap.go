package tmd

import (
	"encoding/json"
	"fmt"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
)

type ResolutionKind int

const (
	ResolutionResolved ResolutionKind = iota
	ResolutionUntranslatable
	ResolutionDocNotFound
)

const (
	untranslatableValue = "untranslatable"
	docNotFoundValue    = "doc-not-found"
)

type RefState string

const (
	RefStateDraft     RefState = "draft"
	RefStatePublished RefState = "published"
	RefStateBoth      RefState = "both"
)

// StateOf derives the state from which variants of a document exist.
func StateOf(hasDraft, hasPublished bool) RefState {
	switch {
	case hasDraft && hasPublished:
		return RefStateBoth
	case hasDraft:
		return RefStateDraft
	default:
		return RefStatePublished
	}
}

// Resolution is the cached outcome of translating one referenced id. It is
// stored as the string "untranslatable", the string "doc-not-found", or an
// object for resolved references. TargetID may be empty when the referenced
// type is translatable but no translation exists yet.
type Resolution struct {
	Kind     ResolutionKind
	TargetID string
	Type     string
	State    RefState
}

func Untranslatable() Resolution { return Resolution{Kind: ResolutionUntranslatable} }
func DocNotFound() Resolution    { return Resolution{Kind: ResolutionDocNotFound} }

func Resolved(targetID, typ string, state RefState) Resolution {
	return Resolution{Kind: ResolutionResolved, TargetID: targetID, Type: typ, State: state}
}

type resolvedJSON struct {
	TargetLanguageDocID *string  `json:"targetLanguageDocId"`
	Type                string   `json:"_type"`
	State               RefState `json:"state"`
}

func (r Resolution) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ResolutionUntranslatable:
		return json.Marshal(untranslatableValue)
	case ResolutionDocNotFound:
		return json.Marshal(docNotFoundValue)
	}
	out := resolvedJSON{Type: r.Type, State: r.State}
	if r.TargetID != "" {
		id := r.TargetID
		out.TargetLanguageDocID = &id
	}
	return json.Marshal(out)
}

func (r *Resolution) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case untranslatableValue:
			*r = Untranslatable()
		case docNotFoundValue:
			*r = DocNotFound()
		default:
			return fmt.Errorf("unknown reference resolution %q", s)
		}
		return nil
	}
	var obj resolvedJSON
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("decode reference resolution: %w", err)
	}
	*r = Resolved("", obj.Type, obj.State)
	if obj.TargetLanguageDocID != nil {
		r.TargetID = *obj.TargetLanguageDocID
	}
	return nil
}

// ReferenceMap caches resolutions keyed by published source id.
type ReferenceMap map[string]Resolution

// Missing returns the ids that need resolving. Entries recorded as
// doc-not-found are retried, so documents created later are picked up.
func (m ReferenceMap) Missing(ids []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, id := range ids {
		key := document.UndraftID(id)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if res, ok := m[key]; ok && res.Kind != ResolutionDocNotFound {
			continue
		}
		out = append(out, key)
	}
	return out
}

// Merge returns a new map with other's entries added. Existing resolved
// entries are never replaced; doc-not-found entries may be upgraded.
func (m ReferenceMap) Merge(other ReferenceMap) ReferenceMap {
	out := make(ReferenceMap, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		if existing, ok := out[k]; ok && existing.Kind != ResolutionDocNotFound {
			continue
		}
		out[k] = v
	}
	return out
}

// Inject rewrites references inside v to their translated counterparts.
// References to draft-only translations become weak with a strengthen hint.
// Unresolved references keep pointing at the source document.
func (m ReferenceMap) Inject(v any) any {
	return document.RewriteReferences(v, func(ref map[string]any) map[string]any {
		id, _ := ref[document.KeyRef].(string)
		res, ok := m[document.UndraftID(id)]
		if !ok || res.Kind != ResolutionResolved || res.TargetID == "" {
			return nil
		}
		ref[document.KeyRef] = document.UndraftID(res.TargetID)
		if res.State == RefStateDraft {
			ref[document.KeyWeak] = true
			ref[document.KeyStrengthenOnPublish] = map[string]any{"type": res.Type}
		} else {
			delete(ref, document.KeyWeak)
			delete(ref, document.KeyStrengthenOnPublish)
		}
		return ref
	})
}
