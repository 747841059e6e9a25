package tmd

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/globaltime"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := [][2]Status{
		{StatusCreating, StatusCompleted},
		{StatusCreating, StatusFailedPersisting},
		{StatusCompleted, StatusCommitted},
		{StatusCreating, StatusDeleted},
		{StatusCompleted, StatusCancelled},
		{StatusFailedPersisting, StatusDeleted},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	rejected := [][2]Status{
		{StatusCreating, StatusCommitted},
		{StatusCompleted, StatusFailedPersisting},
		{StatusFailedPersisting, StatusCompleted},
		{StatusCommitted, StatusDeleted},
		{StatusDeleted, StatusCancelled},
		{StatusCancelled, StatusCreating},
	}
	for _, pair := range rejected {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}
}

func TestTransitionStampsCommitDate(t *testing.T) {
	globaltime.SetMockTime(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	record := &TMD{ID: "phrase.tmd.k", Status: StatusCreating}
	if err := record.Transition(StatusCommitted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := record.Transition(StatusCompleted); err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}
	if err := record.Transition(StatusCommitted); err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}
	if record.CommittedAt != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected commit date: %q", record.CommittedAt)
	}
}

func sampleTMD() *TMD {
	return &TMD{
		ID:             "phrase.tmd.title__r1",
		Status:         StatusCompleted,
		TranslationKey: "title__r1",
		SourceDoc:      document.NewRef("post-1"),
		SourceDocRev:   "r1",
		SourceLang:     language.Pair("en"),
		Paths:          []string{"title"},
		Targets: []Target{
			{
				Key:       "pt_BR",
				Lang:      language.Pair("pt_BR"),
				TargetDoc: document.NewRef("post-pt"),
				PTD:       &document.Ref{Ref: "phrase-translation--pt-BR--title__r1", Weak: true},
				Jobs:      []JobInfo{{Key: "job-1", Type: JobType, UID: "job-1", Status: "NEW"}},
				ReferenceMap: ReferenceMap{
					"author-1": Resolved("author-pt", "author", RefStateDraft),
					"tag-1":    Untranslatable(),
				},
			},
		},
	}
}

func TestDocumentConversionRoundTrip(t *testing.T) {
	t.Parallel()

	record := sampleTMD()
	doc, err := record.ToDocument()
	if err != nil {
		t.Fatalf("ToDocument returned error: %v", err)
	}
	if doc.Type() != document.TmdType {
		t.Fatalf("unexpected type: %q", doc.Type())
	}
	if v, _ := document.Get(doc, document.MustParsePath(`targets[_key=="pt_BR"].referenceMap["tag-1"]`)); v != "untranslatable" {
		t.Fatalf("unexpected stored resolution: %v", v)
	}

	back, err := FromDocument(doc)
	if err != nil {
		t.Fatalf("FromDocument returned error: %v", err)
	}
	if diff := cmp.Diff(record, back); diff != "" {
		t.Fatalf("unexpected round trip (-want +got):\n%s", diff)
	}

	if _, err := FromDocument(document.Document{"_id": "x", "_type": "post"}); err == nil {
		t.Fatalf("expected error for non-TMD document")
	}
}

func TestTargetLookups(t *testing.T) {
	t.Parallel()

	record := sampleTMD()
	if _, ok := record.Target("pt-br"); !ok {
		t.Fatalf("expected store lookup to ignore separators")
	}
	if _, ok := record.TargetByVendorLang("pt-BR"); !ok {
		t.Fatalf("expected vendor lookup to match")
	}
	if _, ok := record.TargetByPTD("drafts.phrase-translation--pt-BR--title__r1"); !ok {
		t.Fatalf("expected ptd lookup to match draft variant")
	}
	if _, ok := record.TargetByJob("job-1"); !ok {
		t.Fatalf("expected job lookup to match")
	}
	want := []string{"post-1", "drafts.post-1", "post-pt", "drafts.post-pt"}
	if diff := cmp.Diff(want, record.MainDocIDs()); diff != "" {
		t.Fatalf("unexpected main doc ids (-want +got):\n%s", diff)
	}
	if got := TargetPath("pt_BR", "jobs"); got != `targets[_key=="pt_BR"].jobs` {
		t.Fatalf("unexpected target path: %q", got)
	}
}

func TestReferenceMapJSON(t *testing.T) {
	t.Parallel()

	m := ReferenceMap{
		"a": Resolved("a-pt", "author", RefStateBoth),
		"b": Resolved("", "author", RefStatePublished),
		"c": DocNotFound(),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back ReferenceMap
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(m, back); diff != "" {
		t.Fatalf("unexpected round trip (-want +got):\n%s", diff)
	}

	var bad Resolution
	if err := json.Unmarshal([]byte(`"maybe"`), &bad); err == nil {
		t.Fatalf("expected error for unknown resolution")
	}
}

func TestReferenceMapMissingAndMerge(t *testing.T) {
	t.Parallel()

	cached := ReferenceMap{
		"a": Resolved("a-pt", "author", RefStatePublished),
		"b": DocNotFound(),
	}
	missing := cached.Missing([]string{"a", "drafts.b", "c", "c"})
	if diff := cmp.Diff([]string{"b", "c"}, missing); diff != "" {
		t.Fatalf("unexpected missing ids (-want +got):\n%s", diff)
	}

	merged := cached.Merge(ReferenceMap{
		"a": Untranslatable(),
		"b": Resolved("b-pt", "author", RefStateDraft),
		"c": Untranslatable(),
	})
	if merged["a"].TargetID != "a-pt" {
		t.Fatalf("resolved entry must not be replaced: %+v", merged["a"])
	}
	if merged["b"].TargetID != "b-pt" {
		t.Fatalf("doc-not-found entry should be upgraded: %+v", merged["b"])
	}
	if merged["c"].Kind != ResolutionUntranslatable {
		t.Fatalf("new entry missing: %+v", merged["c"])
	}
	if len(cached) != 2 {
		t.Fatalf("merge must not mutate the receiver")
	}
}

func TestReferenceMapInject(t *testing.T) {
	t.Parallel()

	m := ReferenceMap{
		"author-1": Resolved("drafts.author-pt", "author", RefStateDraft),
		"cat-1":    Resolved("cat-pt", "category", RefStateBoth),
		"tag-1":    Untranslatable(),
	}
	in := map[string]any{
		"author":   map[string]any{"_type": "reference", "_ref": "author-1"},
		"category": map[string]any{"_type": "reference", "_ref": "drafts.cat-1", "_weak": true},
		"tags":     []any{map[string]any{"_key": "t", "_ref": "tag-1"}},
	}
	want := map[string]any{
		"author": map[string]any{
			"_type": "reference", "_ref": "author-pt", "_weak": true,
			"_strengthenOnPublish": map[string]any{"type": "author"},
		},
		"category": map[string]any{"_type": "reference", "_ref": "cat-pt"},
		"tags":     []any{map[string]any{"_key": "t", "_ref": "tag-1"}},
	}
	if diff := cmp.Diff(want, m.Inject(in)); diff != "" {
		t.Fatalf("unexpected injection (-want +got):\n%s", diff)
	}
}

func TestPTDHelpers(t *testing.T) {
	t.Parallel()

	target := document.Document{"_id": "post-pt", "_rev": "r5", "_type": "post", "title": "Olá"}
	ptd, err := NewPTD("phrase-translation--pt--title__r1", target, PTDMetadata{
		SourceDoc:  document.NewRef("post-1"),
		TargetDoc:  document.NewRef("post-pt"),
		TMD:        document.NewWeakRef("phrase.tmd.title__r1"),
		TargetLang: language.Pair("pt"),
	})
	if err != nil {
		t.Fatalf("NewPTD returned error: %v", err)
	}
	if ptd.Rev() != "" || ptd.ID() != "phrase-translation--pt--title__r1" {
		t.Fatalf("unexpected ptd identity: %v", ptd)
	}
	if !IsPTD(ptd) || IsPTD(target) {
		t.Fatalf("unexpected IsPTD result")
	}
	meta, err := PTDMetadataOf(ptd)
	if err != nil {
		t.Fatalf("PTDMetadataOf returned error: %v", err)
	}
	if meta.TargetLang.Vendor != "pt" || meta.TMD.Ref != "phrase.tmd.title__r1" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if target.Rev() != "r5" {
		t.Fatalf("NewPTD mutated the target document")
	}
}

func TestCollectionHelpers(t *testing.T) {
	t.Parallel()

	committedOld := &TMD{ID: "old", Status: StatusCommitted, CommittedAt: "2024-01-01T00:00:00Z", Targets: []Target{{Lang: language.Pair("pt")}}}
	committedNew := &TMD{ID: "new", Status: StatusCommitted, CommittedAt: "2024-02-01T00:00:00Z", Targets: []Target{{Lang: language.Pair("pt")}}}
	ongoing := &TMD{ID: "ongoing", Status: StatusCreating, Targets: []Target{{Lang: language.Pair("es")}}}
	all := []*TMD{committedOld, ongoing, committedNew}

	if !HasUnfinished(all, "es") || HasUnfinished(all, "pt") {
		t.Fatalf("unexpected HasUnfinished result")
	}
	if got := AllUnfinished(all, []string{"pt", "es"}); len(got) != 1 || got[0].ID != "ongoing" {
		t.Fatalf("unexpected unfinished tmds: %v", got)
	}
	committed := CommittedFor(all, "pt")
	if len(committed) != 2 || committed[0].ID != "new" || committed[1].ID != "old" {
		t.Fatalf("unexpected committed order: %v", committed)
	}
	if latest, ok := LatestCommitted(all, "pt"); !ok || latest.ID != "new" {
		t.Fatalf("unexpected latest committed: %v", latest)
	}
	if got := CommittedFor(all, "es"); len(got) != 0 {
		t.Fatalf("no committed translation exists for es: %v", got)
	}
	if got := LangsInTMDs(all); len(got) != 2 {
		t.Fatalf("unexpected langs: %v", got)
	}
}

func TestMainDocHelpers(t *testing.T) {
	t.Parallel()

	record := sampleTMD()
	entry := MainDocEntry(record, "2024-01-01T00:00:00Z")
	value, err := document.Normalize(entry)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	doc := document.Document{"_id": "post-1", document.MetadataKey: map[string]any{"translations": []any{value}}}

	status, ok := MainDocStatus(doc, record.TranslationKey)
	if !ok || status != StatusCompleted {
		t.Fatalf("unexpected main doc status: %v %v", status, ok)
	}
	if _, ok := MainDocStatus(doc, "other"); ok {
		t.Fatalf("expected missing entry")
	}
}
