package tmd

import (
	"sort"

	"github.com/tinloof/sanity-plugin-phrase/internal/language"
)

func IsCommitted(t *TMD) bool { return t != nil && t.Status == StatusCommitted }

// IsReadyToCommit reports whether vendor jobs exist and nothing was merged yet.
func IsReadyToCommit(t *TMD) bool { return t != nil && t.Status == StatusCompleted }

func IsCancelled(t *TMD) bool {
	return t != nil && (t.Status == StatusCancelled || t.Status == StatusDeleted)
}

// LangInTMD reports whether t targets the content-store language lang.
func LangInTMD(t *TMD, lang string) bool {
	_, ok := t.Target(lang)
	return ok
}

// HasUnfinished reports whether any TMD targeting lang is still in flight.
func HasUnfinished(tmds []*TMD, lang string) bool {
	for _, t := range tmds {
		if t.Status.IsUnfinished() && LangInTMD(t, lang) {
			return true
		}
	}
	return false
}

// AllUnfinished returns the in-flight TMDs targeting any of langs.
func AllUnfinished(tmds []*TMD, langs []string) []*TMD {
	var out []*TMD
	for _, t := range tmds {
		if !t.Status.IsUnfinished() {
			continue
		}
		for _, lang := range langs {
			if LangInTMD(t, lang) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// LangsInTMDs lists every target language across tmds, deduplicated.
func LangsInTMDs(tmds []*TMD) []language.CrossSystem {
	seen := map[string]struct{}{}
	var out []language.CrossSystem
	for _, t := range tmds {
		for _, target := range t.Targets {
			if _, dup := seen[target.Lang.Store]; dup {
				continue
			}
			seen[target.Lang.Store] = struct{}{}
			out = append(out, target.Lang)
		}
	}
	return out
}

// LatestCommitted returns the most recently committed TMD targeting lang.
func LatestCommitted(tmds []*TMD, lang string) (*TMD, bool) {
	committed := CommittedFor(tmds, lang)
	if len(committed) == 0 {
		return nil, false
	}
	return committed[0], true
}

// CommittedFor returns the committed TMDs targeting lang, newest first.
func CommittedFor(tmds []*TMD, lang string) []*TMD {
	var committed []*TMD
	for _, t := range tmds {
		if IsCommitted(t) && LangInTMD(t, lang) {
			committed = append(committed, t)
		}
	}
	sort.SliceStable(committed, func(i, j int) bool {
		return committedDate(committed[i]) > committedDate(committed[j])
	})
	return committed
}

func committedDate(t *TMD) string {
	if t.CommittedAt != "" {
		return t.CommittedAt
	}
	return t.CreatedAt
}

// TranslationDate is the date reported for a committed translation.
func TranslationDate(t *TMD) string { return committedDate(t) }
