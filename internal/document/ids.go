package document

import "strings"

const (
	DraftPrefix = "drafts."

	PtdIDPrefix = "phrase-translation--"
	TmdType     = "phrase.tmd"
	PtdMetaType = "phrase.ptd.meta"
)

func IsDraft(id string) bool { return strings.HasPrefix(id, DraftPrefix) }

func UndraftID(id string) string { return strings.TrimPrefix(id, DraftPrefix) }

func DraftID(id string) string { return DraftPrefix + UndraftID(id) }

// VariantIDs returns the published and draft ids of a document, in that order.
func VariantIDs(id string) []string {
	return []string{UndraftID(id), DraftID(id)}
}

// MakeKeyFriendly turns arbitrary strings into values usable as array _keys.
func MakeKeyFriendly(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

// TranslationKey identifies one translation request for a (paths, revision)
// pair. Paths are kept in the given order.
func TranslationKey(paths []Path, rev string) string {
	parts := make([]string, 0, len(paths)+1)
	for _, p := range paths {
		parts = append(parts, MakeKeyFriendly(p.String()))
	}
	parts = append(parts, MakeKeyFriendly(rev))
	return strings.Join(parts, "__")
}

// PtdID is fully determined by the source document coordinates and the target
// language. Draft sources produce draft PTDs.
func PtdID(sourceID, sourceRev string, paths []Path, vendorLang string) string {
	id := PtdIDPrefix + vendorLang + "--" + TranslationKey(paths, sourceRev)
	if IsDraft(sourceID) {
		return DraftID(id)
	}
	return id
}

func IsPtdID(id string) bool {
	return strings.HasPrefix(UndraftID(id), PtdIDPrefix)
}

func TmdID(translationKey string) string {
	return TmdType + "." + translationKey
}

func IsTmdID(id string) bool {
	return strings.HasPrefix(id, TmdType+".")
}
