package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

func paths(raw ...string) []document.Path {
	out := make([]document.Path, len(raw))
	for i, r := range raw {
		out[i] = document.MustParsePath(r)
	}
	return out
}

func TestKeepStaticValuesOnlyTouchesPaths(t *testing.T) {
	t.Parallel()

	target := document.Document{
		"_id":     "post-pt",
		"_rev":    "r7",
		"_type":   "post",
		"title":   "Hello",
		"excerpt": "Editor wrote this",
		"slug":    map[string]any{"current": "ola"},
		"body": []any{
			map[string]any{"_key": "b1", "text": "one"},
			map[string]any{"_key": "b2", "text": "two"},
		},
		document.MetadataKey: map[string]any{"translations": []any{}},
	}
	translated := document.Document{
		"_id":     "phrase-translation--pt--x",
		"_type":   "post",
		"title":   "Olá",
		"excerpt": "stale copy",
		"slug":    map[string]any{"current": "drifted"},
		"body": []any{
			map[string]any{"_key": "b1", "text": "um"},
			map[string]any{"_key": "b2", "text": "dois"},
		},
		document.MetadataKey: map[string]any{"_type": "phrase.ptd.meta"},
	}

	next, err := KeepStaticValues(target, translated, paths("title", `body[_key=="b2"].text`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if next.String("title") != "Olá" {
		t.Fatalf("translated path not applied: %v", next["title"])
	}
	if v, _ := document.Get(next, document.MustParsePath(`body[_key=="b2"].text`)); v != "dois" {
		t.Fatalf("nested translated path not applied: %v", v)
	}

	// everything outside the allowed paths equals the target
	restricted := func(d document.Document) document.Document {
		c := d.Clone()
		delete(c, "title")
		document.Unset(c, document.MustParsePath(`body[_key=="b2"].text`))
		return c
	}
	if diff := cmp.Diff(restricted(target), restricted(next)); diff != "" {
		t.Fatalf("static values changed (-want +got):\n%s", diff)
	}
}

func TestKeepStaticValuesRootPath(t *testing.T) {
	t.Parallel()

	target := document.Document{"_id": "post-pt", "_rev": "r1", "_type": "post", "title": "Hello", "legacy": true}
	translated := document.Document{"_id": "ptd", "_type": "post", "title": "Olá"}

	next, err := KeepStaticValues(target, translated, []document.Path{document.RootPath()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := document.Document{"_id": "post-pt", "_rev": "r1", "_type": "post", "title": "Olá"}
	if diff := cmp.Diff(want, next); diff != "" {
		t.Fatalf("unexpected root merge (-want +got):\n%s", diff)
	}
}

func TestKeepStaticValuesKeepsOwnedFields(t *testing.T) {
	t.Parallel()

	target := document.Document{"_id": "post-pt", "_rev": "r1", "_type": "post", "language": "pt", "title": "Hello"}
	translated := document.Document{"_id": "ptd", "_type": "post", "language": "en", "title": "Olá", "excerpt": "Intro"}

	next, err := KeepStaticValues(target, translated, []document.Path{document.RootPath()}, "language")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := document.Document{"_id": "post-pt", "_rev": "r1", "_type": "post", "language": "pt", "title": "Olá", "excerpt": "Intro"}
	if diff := cmp.Diff(want, next); diff != "" {
		t.Fatalf("unexpected root merge (-want +got):\n%s", diff)
	}

	next, err = KeepStaticValues(target, translated, paths("language", "title"), "language")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := next.String("language"); got != "pt" {
		t.Fatalf("owned field merged: got %q want %q", got, "pt")
	}
}

func TestKeepStaticValuesReportsUnplacedValues(t *testing.T) {
	t.Parallel()

	target := document.Document{
		"_id":   "post-pt",
		"_rev":  "r1",
		"title": "Hello",
		"body":  []any{map[string]any{"_key": "b1", "text": "one"}},
	}
	translated := document.Document{
		"_id":   "ptd",
		"title": "Olá",
		"body": []any{
			map[string]any{"_key": "b1", "text": "um"},
			map[string]any{"_key": "b9", "text": "nove"},
		},
	}

	next, err := KeepStaticValues(target, translated, paths("title", `body[_key=="b1"].text`, `body[_key=="b9"].text`))
	if !errors.Is(err, ErrUnplacedValue) {
		t.Fatalf("unexpected error: got %v want %v", err, ErrUnplacedValue)
	}
	if next.String("title") != "Olá" {
		t.Fatalf("placeable values must still be applied: %v", next["title"])
	}
	if v, _ := document.Get(next, document.MustParsePath(`body[_key=="b1"].text`)); v != "um" {
		t.Fatalf("unexpected b1 text: %v", v)
	}

	patch, changed, err := MergeTranslatedContent(target, translated, paths("title", `body[_key=="b9"].text`))
	if !changed || !errors.Is(err, ErrUnplacedValue) {
		t.Fatalf("unexpected merge: changed=%v err=%v", changed, err)
	}
	if diff := cmp.Diff(map[string]any{"title": "Olá"}, patch.Set); diff != "" {
		t.Fatalf("unexpected patch set (-want +got):\n%s", diff)
	}
}

func TestDiffProducesKeyedOps(t *testing.T) {
	t.Parallel()

	original := document.Document{
		"_id":   "a",
		"_rev":  "r1",
		"title": "Hello",
		"gone":  "x",
		"body": []any{
			map[string]any{"_key": "b1", "text": "one"},
			map[string]any{"_key": "b2", "text": "two"},
		},
		"tags": []any{"a", "b"},
	}
	next := original.Clone()
	next["_rev"] = "ignored"
	next["title"] = "Olá"
	delete(next, "gone")
	_ = document.Set(next, document.MustParsePath(`body[_key=="b2"].text`), "dois")
	next["tags"] = []any{"b"}

	ops := Diff(original, next)
	var got []string
	for _, op := range ops {
		prefix := "set "
		if op.Kind == OpUnset {
			prefix = "unset "
		}
		got = append(got, prefix+op.Path.String())
	}
	want := []string{`set body[_key=="b2"].text`, "unset gone", "set tags", "set title"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected ops (-want +got):\n%s", diff)
	}
}

func TestMergeTranslatedContentNoop(t *testing.T) {
	t.Parallel()

	target := document.Document{"_id": "post-pt", "_rev": "r1", "title": "Olá", "excerpt": "x"}
	translated := document.Document{"_id": "ptd", "title": "Olá", "excerpt": "y"}

	if _, changed, _ := MergeTranslatedContent(target, translated, paths("title")); changed {
		t.Fatalf("expected no-op merge")
	}

	translated["title"] = "Oi"
	patch, changed, err := MergeTranslatedContent(target, translated, paths("title"))
	if !changed || err != nil {
		t.Fatalf("expected a patch")
	}
	want := contentstore.Patch{ID: "post-pt", IfRevisionID: "r1", Set: map[string]any{"title": "Oi"}}
	if diff := cmp.Diff(want, patch); diff != "" {
		t.Fatalf("unexpected patch (-want +got):\n%s", diff)
	}
}

func commitFixture(t *testing.T) *contentstore.MemoryStore {
	t.Helper()

	record := &tmd.TMD{
		ID:             "phrase.tmd.title__r1",
		Status:         tmd.StatusCompleted,
		TranslationKey: "title__r1",
		SourceDoc:      document.NewRef("post-1"),
		SourceDocRev:   "r1",
		SourceLang:     language.Pair("en"),
		Paths:          []string{"title"},
		Targets: []tmd.Target{
			{Key: "pt", Lang: language.Pair("pt"), TargetDoc: document.NewRef("post-pt"), PTD: &document.Ref{Ref: "phrase-translation--pt--title__r1", Weak: true}},
			{Key: "es", Lang: language.Pair("es"), TargetDoc: document.NewRef("post-es"), PTD: &document.Ref{Ref: "phrase-translation--es--title__r1", Weak: true}},
		},
	}
	tmdDoc, err := record.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument: %v", err)
	}
	tmdDoc["_rev"] = "t1"

	ptd := func(lang, title string) document.Document {
		doc, err := tmd.NewPTD("phrase-translation--"+lang+"--title__r1",
			document.Document{"_id": "post-" + lang, "_type": "post", "title": title, "excerpt": "stale"},
			tmd.PTDMetadata{
				SourceDoc:  document.NewRef("post-1"),
				TargetDoc:  document.NewRef("post-" + lang),
				TMD:        document.NewWeakRef(record.ID),
				TargetLang: language.Pair(lang),
			})
		if err != nil {
			t.Fatalf("NewPTD: %v", err)
		}
		return doc
	}

	return contentstore.NewMemoryStore(
		tmdDoc,
		document.Document{"_id": "post-1", "_rev": "r1", "_type": "post", "title": "Hello", "excerpt": "Intro"},
		document.Document{"_id": "post-pt", "_rev": "p1", "_type": "post", "title": "Hello", "excerpt": "Intro pt"},
		document.Document{"_id": "drafts.post-pt", "_rev": "p2", "_type": "post", "title": "Hello", "excerpt": "Draft intro pt"},
		document.Document{"_id": "post-es", "_rev": "e1", "_type": "post", "title": "Hello", "excerpt": "Intro es"},
		ptd("pt", "Olá"),
		ptd("es", "Hola"),
	)
}

func TestCommitTMDMergesAllTargets(t *testing.T) {
	t.Parallel()

	store := commitFixture(t)
	engine := NewEngine(store, zerolog.Nop())
	ctx := context.Background()

	res, err := engine.CommitTMD(ctx, "phrase.tmd.title__r1")
	if err != nil {
		t.Fatalf("CommitTMD returned error: %v", err)
	}
	if res.Status != tmd.StatusCommitted {
		t.Fatalf("unexpected status: %s", res.Status)
	}
	if len(res.DeletedPTDs) != 2 || len(res.ModifiedDocs) != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	for id, want := range map[string][2]string{
		"post-pt":        {"Olá", "Intro pt"},
		"drafts.post-pt": {"Olá", "Draft intro pt"},
		"post-es":        {"Hola", "Intro es"},
	} {
		doc, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if doc.String("title") != want[0] || doc.String("excerpt") != want[1] {
			t.Fatalf("unexpected %s after merge: %v", id, doc)
		}
	}
	if _, err := store.Get(ctx, "phrase-translation--pt--title__r1"); !errors.Is(err, contentstore.ErrNotFound) {
		t.Fatalf("ptd should be deleted, got %v", err)
	}

	stored, _ := store.Get(ctx, "phrase.tmd.title__r1")
	record, _ := tmd.FromDocument(stored)
	if record.Status != tmd.StatusCommitted || record.Targets[0].PTD != nil {
		t.Fatalf("unexpected stored tmd: %+v", record)
	}

	if _, err := engine.CommitTMD(ctx, "phrase.tmd.title__r1"); !errors.Is(err, ErrNotReadyToCommit) {
		t.Fatalf("second commit must be rejected, got %v", err)
	}
}

func TestCommitTMDFailsCleanlyOnConcurrentEdit(t *testing.T) {
	t.Parallel()

	store := commitFixture(t)
	engine := NewEngine(store, zerolog.Nop())
	ctx := context.Background()

	store.BeforeCommit = func(tx *contentstore.Transaction) {
		for _, id := range tx.IDs() {
			if id != "post-es" {
				continue
			}
			store.Put(document.Document{"_id": "post-es", "_rev": "e2", "_type": "post", "title": "Editor title", "excerpt": "Intro es"})
		}
	}

	res, err := engine.CommitTMD(ctx, "phrase.tmd.title__r1")
	if !errors.Is(err, ErrIncompleteCommit) {
		t.Fatalf("expected incomplete commit, got %v", err)
	}
	var esOutcome TargetOutcome
	for _, outcome := range res.Targets {
		if outcome.Lang == "es" {
			esOutcome = outcome
		}
	}
	if !errors.Is(esOutcome.Err, contentstore.ErrRevisionMismatch) {
		t.Fatalf("unexpected es outcome: %+v", esOutcome)
	}

	es, _ := store.Get(ctx, "post-es")
	if es.String("title") != "Editor title" || es.Rev() != "e2" {
		t.Fatalf("conflicting edit was overwritten: %v", es)
	}
	if _, err := store.Get(ctx, "phrase-translation--es--title__r1"); err != nil {
		t.Fatalf("es ptd must survive a failed merge: %v", err)
	}
	pt, _ := store.Get(ctx, "post-pt")
	if pt.String("title") != "Olá" {
		t.Fatalf("pt target should still merge: %v", pt)
	}
	stored, _ := store.Get(ctx, "phrase.tmd.title__r1")
	if stored.String("status") != string(tmd.StatusCompleted) {
		t.Fatalf("tmd must stay COMPLETED, got %v", stored["status"])
	}

	store.BeforeCommit = nil
	res, err = engine.CommitTMD(ctx, "phrase.tmd.title__r1")
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if res.Status != tmd.StatusCommitted {
		t.Fatalf("unexpected retry status: %s", res.Status)
	}
	for _, outcome := range res.Targets {
		if outcome.Lang == "pt" && !outcome.AlreadyMerged {
			t.Fatalf("pt should be reported as already merged: %+v", outcome)
		}
	}
	es, _ = store.Get(ctx, "post-es")
	if es.String("title") != "Hola" {
		t.Fatalf("retry should merge es: %v", es)
	}
}

func TestMergePTDKeepsPTD(t *testing.T) {
	t.Parallel()

	store := commitFixture(t)
	engine := NewEngine(store, zerolog.Nop())
	ctx := context.Background()

	outcome, err := engine.MergePTD(ctx, "phrase-translation--es--title__r1")
	if err != nil {
		t.Fatalf("MergePTD returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"post-es"}, outcome.ModifiedDocs); diff != "" {
		t.Fatalf("unexpected modified docs (-want +got):\n%s", diff)
	}
	if _, err := store.Get(ctx, "phrase-translation--es--title__r1"); err != nil {
		t.Fatalf("MergePTD must keep the ptd: %v", err)
	}

	again, err := engine.MergePTD(ctx, "phrase-translation--es--title__r1")
	if err != nil {
		t.Fatalf("second MergePTD returned error: %v", err)
	}
	if len(again.ModifiedDocs) != 0 {
		t.Fatalf("second merge should be a no-op: %+v", again)
	}
}
