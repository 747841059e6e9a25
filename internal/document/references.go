package document

import "sort"

// ParseReferences walks v and returns the distinct ids of every reference
// object ({"_ref": id}) it contains. Object fields are visited in key order
// so the result is stable.
func ParseReferences(v any) []string {
	seen := map[string]struct{}{}
	var out []string
	collectRefs(v, seen, &out)
	return out
}

// ParseReferencesAtPaths restricts the scan to the values addressed by paths.
// A root path scans the whole document.
func ParseReferencesAtPaths(doc Document, paths []Path) []string {
	if len(paths) == 0 {
		return ParseReferences(map[string]any(doc))
	}
	seen := map[string]struct{}{}
	var out []string
	for _, p := range paths {
		if p.IsRoot() {
			collectRefs(map[string]any(doc), seen, &out)
			continue
		}
		if v, ok := Get(doc, p); ok {
			collectRefs(v, seen, &out)
		}
	}
	return out
}

func collectRefs(v any, seen map[string]struct{}, out *[]string) {
	switch typed := v.(type) {
	case Document:
		collectRefs(map[string]any(typed), seen, out)
	case map[string]any:
		if ref, ok := typed[KeyRef].(string); ok && ref != "" {
			if _, dup := seen[ref]; !dup {
				seen[ref] = struct{}{}
				*out = append(*out, ref)
			}
		}
		keys := make([]string, 0, len(typed))
		for k := range typed {
			if k == KeyRef || k == MetadataKey {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectRefs(typed[k], seen, out)
		}
	case []any:
		for _, child := range typed {
			collectRefs(child, seen, out)
		}
	}
}

// RewriteReferences returns a copy of v in which every reference object has
// been passed through rewrite. Returning nil keeps the reference unchanged.
func RewriteReferences(v any, rewrite func(ref map[string]any) map[string]any) any {
	switch typed := v.(type) {
	case Document:
		return RewriteReferences(map[string]any(typed), rewrite)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, child := range typed {
			out[k] = RewriteReferences(child, rewrite)
		}
		if _, ok := typed[KeyRef].(string); ok {
			if replaced := rewrite(out); replaced != nil {
				return replaced
			}
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, child := range typed {
			out[i] = RewriteReferences(child, rewrite)
		}
		return out
	default:
		return v
	}
}
