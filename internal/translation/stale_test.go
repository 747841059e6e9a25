package translation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

func seedTMD(t *testing.T, record *tmd.TMD) document.Document {
	t.Helper()
	doc, err := record.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument returned error: %v", err)
	}
	return doc
}

func committedTMD(t *testing.T, snapshotOf document.Document) *tmd.TMD {
	t.Helper()
	snapshot, err := document.Snapshot(snapshotOf)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	return &tmd.TMD{
		ID:             document.TmdID("title__r1"),
		Status:         tmd.StatusCommitted,
		TranslationKey: "title__r1",
		SourceDoc:      document.NewWeakRef("post-1"),
		SourceDocRev:   "r1",
		SourceSnapshot: snapshot,
		SourceLang:     language.Pair("en"),
		Paths:          []string{"title"},
		CommittedAt:    "2026-03-01T10:00:00Z",
		Targets: []tmd.Target{{
			Key:       "pt",
			Lang:      language.Pair("pt"),
			TargetDoc: document.NewWeakRef("post-1-pt"),
			Jobs:      []tmd.JobInfo{},
		}},
	}
}

func TestStaleTranslations(t *testing.T) {
	t.Parallel()

	ongoing := &tmd.TMD{
		ID:             document.TmdID("title__r2"),
		Status:         tmd.StatusCompleted,
		TranslationKey: "title__r2",
		SourceDoc:      document.NewWeakRef("post-1"),
		SourceLang:     language.Pair("en"),
		Paths:          []string{"title"},
		Targets:        []tmd.Target{{Key: "es", Lang: language.Pair("es"), TargetDoc: document.NewWeakRef("post-1-es"), Jobs: []tmd.JobInfo{}}},
	}

	cases := []struct {
		name   string
		edit   func(document.Document)
		lang   string
		status StaleStatus
		paths  []string
	}{
		{name: "untracked edit", edit: func(d document.Document) { d["excerpt"] = "Changed" }, lang: "pt", status: StaleFresh},
		{name: "tracked edit", edit: func(d document.Document) { d["title"] = "Hello again" }, lang: "pt", status: StaleStale, paths: []string{"title"}},
		{name: "never translated", lang: "de", status: StaleUntranslated},
		{name: "in flight", lang: "es", status: StaleOngoing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			source := seedPost()
			current := source.Clone()
			current["_rev"] = "r2"
			if tc.edit != nil {
				tc.edit(current)
			}
			store := contentstore.NewMemoryStore(current, seedTMD(t, committedTMD(t, source)), seedTMD(t, ongoing))
			manager := newTestManager(store, nil)

			resp, err := manager.StaleTranslations(ctx, StaleRequest{SourceIDs: []string{"post-1"}, TargetLangs: []string{tc.lang}})
			if err != nil {
				t.Fatalf("StaleTranslations returned error: %v", err)
			}
			if len(resp) != 1 || len(resp[0].Targets) != 1 {
				t.Fatalf("unexpected response shape: %+v", resp)
			}
			if resp[0].SourceDoc.Rev != "r2" || resp[0].SourceDoc.Lang != "en" {
				t.Fatalf("unexpected source: %+v", resp[0].SourceDoc)
			}
			got := resp[0].Targets[0]
			if got.Error != nil {
				t.Fatalf("unexpected target error: %+v", got.Error)
			}
			if got.Status != tc.status {
				t.Fatalf("unexpected status: got %s want %s", got.Status, tc.status)
			}
			if diff := cmp.Diff(tc.paths, got.ChangedPaths); diff != "" {
				t.Fatalf("unexpected changed paths (-want +got):\n%s", diff)
			}
			if tc.status == StaleStale && got.TranslationDate != "2026-03-01T10:00:00Z" {
				t.Fatalf("unexpected translation date: %q", got.TranslationDate)
			}
		})
	}
}

func TestStaleTranslationsAcrossPathSets(t *testing.T) {
	t.Parallel()

	committedFor := func(t *testing.T, source document.Document, key string, paths []string, at string) document.Document {
		record := committedTMD(t, source)
		record.ID = document.TmdID(key)
		record.TranslationKey = key
		record.Paths = paths
		record.CommittedAt = at
		return seedTMD(t, record)
	}

	cases := []struct {
		name   string
		older  []string
		newer  []string
		edit   func(document.Document)
		status StaleStatus
		paths  []string
		date   string
	}{
		{name: "untouched", older: []string{"excerpt"}, newer: []string{"title"}, status: StaleFresh},
		{name: "path of older translation", older: []string{"excerpt"}, newer: []string{"title"}, edit: func(d document.Document) { d["excerpt"] = "Changed" }, status: StaleStale, paths: []string{"excerpt"}, date: "2026-02-01T10:00:00Z"},
		{name: "paths of both", older: []string{"excerpt"}, newer: []string{"title"}, edit: func(d document.Document) { d["excerpt"] = "Changed"; d["title"] = "Changed" }, status: StaleStale, paths: []string{"excerpt", "title"}, date: "2026-02-01T10:00:00Z"},
		{name: "older path retranslated by root", older: []string{"title"}, newer: []string{document.RootPathString}, edit: func(d document.Document) { d["title"] = "Changed" }, status: StaleStale, paths: []string{"title"}, date: "2026-03-01T10:00:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			source := seedPost()
			current := source.Clone()
			current["_rev"] = "r3"
			if tc.edit != nil {
				tc.edit(current)
			}
			store := contentstore.NewMemoryStore(
				current,
				committedFor(t, source, "older__r1", tc.older, "2026-02-01T10:00:00Z"),
				committedFor(t, source, "newer__r1", tc.newer, "2026-03-01T10:00:00Z"),
			)
			manager := newTestManager(store, nil)

			resp, err := manager.StaleTranslations(ctx, StaleRequest{SourceIDs: []string{"post-1"}, TargetLangs: []string{"pt"}})
			if err != nil {
				t.Fatalf("StaleTranslations returned error: %v", err)
			}
			got := resp[0].Targets[0]
			if got.Error != nil {
				t.Fatalf("unexpected target error: %+v", got.Error)
			}
			if got.Status != tc.status {
				t.Fatalf("unexpected status: got %s want %s", got.Status, tc.status)
			}
			if diff := cmp.Diff(tc.paths, got.ChangedPaths); diff != "" {
				t.Fatalf("unexpected changed paths (-want +got):\n%s", diff)
			}
			if got.TranslationDate != tc.date {
				t.Fatalf("unexpected translation date: got %q want %q", got.TranslationDate, tc.date)
			}
		})
	}
}

func TestStaleTranslationsPerSourceResults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := contentstore.NewMemoryStore(
		seedPost(),
		document.Document{"_id": "settings", "_type": "siteSettings", "language": "en"},
	)
	manager := newTestManager(store, nil)

	resp, err := manager.StaleTranslations(ctx, StaleRequest{SourceIDs: []string{"settings", "ghost"}, TargetLangs: []string{"pt", "es"}})
	if err != nil {
		t.Fatalf("StaleTranslations returned error: %v", err)
	}
	for _, target := range resp[0].Targets {
		if target.Status != StaleUntranslatable {
			t.Fatalf("unexpected status for settings: %+v", target)
		}
	}
	for _, target := range resp[1].Targets {
		if target.Error == nil || target.Error.Tag != "NotFoundError" {
			t.Fatalf("unexpected result for missing source: %+v", target)
		}
	}

	if _, err := manager.StaleTranslations(ctx, StaleRequest{SourceIDs: []string{"post-1"}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unexpected error without langs: %v", err)
	}
}

func TestChangedPaths(t *testing.T) {
	t.Parallel()

	before := document.Document{
		"_id":   "post-1",
		"_rev":  "r1",
		"title": "Hello",
		"seo":   map[string]any{"description": "Old", "slug": "hello"},
	}
	after := before.Clone()
	after["_rev"] = "r2"
	after["seo"] = map[string]any{"description": "New", "slug": "hello"}

	cases := []struct {
		name    string
		tracked []string
		want    []string
	}{
		{name: "parent of change", tracked: []string{"seo"}, want: []string{"seo"}},
		{name: "exact change", tracked: []string{"seo.description", "seo.slug"}, want: []string{"seo.description"}},
		{name: "unrelated", tracked: []string{"title"}},
		{name: "root reports fields", tracked: nil, want: []string{"seo"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			paths, err := document.ParsePaths(tc.tracked)
			if err != nil {
				t.Fatalf("ParsePaths returned error: %v", err)
			}
			if diff := cmp.Diff(tc.want, ChangedPaths(before, after, paths)); diff != "" {
				t.Fatalf("unexpected paths (-want +got):\n%s", diff)
			}
		})
	}
}
