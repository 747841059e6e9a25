// Package merge reconciles translated working copies back into target
// documents. Only translated paths are taken from the working copy and
// every write is locked to the revision that was read.
package merge

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
)

// ErrUnplacedValue marks a translated value whose path does not exist in
// the target document.
var ErrUnplacedValue = errors.New("translated value has no place in target")

type OpKind int

const (
	OpSet OpKind = iota
	OpUnset
)

// Op is one field-level change between two documents.
type Op struct {
	Kind  OpKind
	Path  document.Path
	Value any
}

// KeepStaticValues returns original with the values at paths replaced by
// those in changed. Everything else, including system fields, engine
// metadata and the owned top-level fields, comes from original. Paths
// missing from changed are removed.
//
// Values that cannot be placed in original, such as a keyed element the
// target no longer has, are skipped and reported in the returned error; the
// document still carries every other path.
func KeepStaticValues(original, changed document.Document, paths []document.Path, owned ...string) (document.Document, error) {
	result := original.Clone()
	if result == nil {
		result = document.Document{}
	}
	static := func(k string) bool { return document.IsSystemKey(k) || slices.Contains(owned, k) }

	var errs []error
	for _, p := range paths {
		if p.IsRoot() {
			for k := range result {
				if !static(k) {
					delete(result, k)
				}
			}
			for k, v := range changed {
				if !static(k) {
					result[k] = document.DeepCopy(v)
				}
			}
			continue
		}
		if len(p) > 0 && p[0].Kind == document.SegmentField && slices.Contains(owned, p[0].Field) {
			continue
		}
		v, ok := document.Get(changed, p)
		if !ok {
			document.Unset(result, p)
			continue
		}
		if err := document.Set(result, p, document.DeepCopy(v)); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrUnplacedValue, p, err))
		}
	}
	return result, errors.Join(errs...)
}

// Diff computes the operations turning original into next. System fields
// are ignored. Arrays whose elements carry the same _key sequence are
// diffed element by element; other arrays are replaced wholesale.
func Diff(original, next document.Document) []Op {
	var ops []Op
	diffObject(nil, original, next, true, &ops)
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Path.String() < ops[j].Path.String() })
	return ops
}

func diffObject(path document.Path, a, b map[string]any, top bool, ops *[]Op) {
	for k := range a {
		if top && document.IsSystemKey(k) {
			continue
		}
		if _, ok := b[k]; !ok {
			*ops = append(*ops, Op{Kind: OpUnset, Path: path.Append(document.Field(k))})
		}
	}
	for k, bv := range b {
		if top && document.IsSystemKey(k) {
			continue
		}
		child := path.Append(document.Field(k))
		av, ok := a[k]
		if !ok {
			*ops = append(*ops, Op{Kind: OpSet, Path: child, Value: document.DeepCopy(bv)})
			continue
		}
		diffValue(child, av, bv, ops)
	}
}

func diffValue(path document.Path, a, b any, ops *[]Op) {
	am, aIsMap := asObject(a)
	bm, bIsMap := asObject(b)
	if aIsMap && bIsMap {
		diffObject(path, am, bm, false, ops)
		return
	}

	aa, aIsArr := a.([]any)
	ba, bIsArr := b.([]any)
	if aIsArr && bIsArr {
		aKeys, bKeys := arrayKeys(aa), arrayKeys(ba)
		if aKeys != nil && bKeys != nil && reflect.DeepEqual(aKeys, bKeys) {
			for i, key := range aKeys {
				diffValue(path.Append(document.Key(key)), aa[i], ba[i], ops)
			}
			return
		}
	}

	if !reflect.DeepEqual(a, b) {
		*ops = append(*ops, Op{Kind: OpSet, Path: path, Value: document.DeepCopy(b)})
	}
}

// arrayKeys returns the _key of every element, or nil when any element is
// not a keyed object or keys repeat.
func arrayKeys(arr []any) []string {
	if len(arr) == 0 {
		return nil
	}
	keys := make([]string, 0, len(arr))
	seen := make(map[string]struct{}, len(arr))
	for _, item := range arr {
		m, ok := asObject(item)
		if !ok {
			return nil
		}
		k, _ := m[document.KeyKey].(string)
		if k == "" {
			return nil
		}
		if _, dup := seen[k]; dup {
			return nil
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func asObject(v any) (map[string]any, bool) {
	switch typed := v.(type) {
	case map[string]any:
		return typed, true
	case document.Document:
		return map[string]any(typed), true
	}
	return nil, false
}

// PatchFor turns ops into a patch locked to rev.
func PatchFor(id, rev string, ops []Op) contentstore.Patch {
	p := contentstore.Patch{ID: id, IfRevisionID: rev}
	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			if p.Set == nil {
				p.Set = map[string]any{}
			}
			p.Set[op.Path.String()] = op.Value
		case OpUnset:
			p.Unset = append(p.Unset, op.Path.String())
		}
	}
	return p
}

// MergeTranslatedContent returns the revision-locked patch that applies the
// translated values at allowedPaths to target. The boolean is false when the
// target already matches. A non-nil error lists the values that were left
// out of the patch; see KeepStaticValues.
func MergeTranslatedContent(target, translated document.Document, allowedPaths []document.Path, owned ...string) (contentstore.Patch, bool, error) {
	next, err := KeepStaticValues(target, translated, allowedPaths, owned...)
	ops := Diff(target, next)
	if len(ops) == 0 {
		return contentstore.Patch{}, false, err
	}
	return PatchFor(target.ID(), target.Rev(), ops), true, err
}
