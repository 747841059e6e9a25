package translation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/i18n"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
	"github.com/tinloof/sanity-plugin-phrase/internal/phrase"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

// createdFixture runs a create for post-1 into pt and es and returns the
// manager, store, vendor and result.
func createdFixture(t *testing.T) (*Manager, *contentstore.MemoryStore, *fakeVendor, CreateResult) {
	t.Helper()
	store := contentstore.NewMemoryStore(seedPost())
	vendor := newFakeVendor()
	manager := newTestManager(store, vendor)
	created, err := manager.CreateTranslations(context.Background(), CreateRequest{
		SourceID:    "post-1",
		TargetLangs: []string{"pt", "es"},
		Paths:       []string{"title"},
	})
	if err != nil {
		t.Fatalf("CreateTranslations returned error: %v", err)
	}
	return manager, store, vendor, created
}

func webhookJob(projectUID, jobUID, lang string) phrase.JobInWebhook {
	job := phrase.JobInWebhook{UID: jobUID, FileName: "[Sanity.io] title__r1.json", TargetLang: lang}
	job.Project.UID = projectUID
	return job
}

func TestBroadcastProjectStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, store, _, created := createdFixture(t)

	record, err := manager.FindTMDByProject(ctx, created.ProjectUID)
	if err != nil {
		t.Fatalf("FindTMDByProject returned error: %v", err)
	}
	if record.ID != created.TMDID {
		t.Fatalf("unexpected tmd: got %s want %s", record.ID, created.TMDID)
	}

	patched, err := manager.BroadcastProjectStatus(ctx, record, tmd.StatusCancelled)
	if err != nil {
		t.Fatalf("BroadcastProjectStatus returned error: %v", err)
	}
	// source plus both target drafts
	if len(patched) != 3 {
		t.Fatalf("unexpected patched docs: %v", patched)
	}
	source, _ := store.Get(ctx, "post-1")
	if status, _ := tmd.MainDocStatus(source, record.TranslationKey); status != tmd.StatusCancelled {
		t.Fatalf("unexpected main doc status: %q", status)
	}
	if loadTMD(t, store, record.ID).Status != tmd.StatusCompleted {
		t.Fatalf("tmd status must not change")
	}

	again, err := manager.BroadcastProjectStatus(ctx, record, tmd.StatusCancelled)
	if err != nil || len(again) != 0 {
		t.Fatalf("replay should patch nothing: %v %v", again, err)
	}

	if _, err := manager.FindTMDByProject(ctx, "other"); !errors.Is(err, ErrTMDNotFound) {
		t.Fatalf("unexpected error for foreign project: %v", err)
	}
}

func TestPTDsForJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, _, _, created := createdFixture(t)

	foreign := webhookJob(created.ProjectUID, "x", "pt")
	foreign.FileName = "brochure.docx"
	jobs := []phrase.JobInWebhook{
		webhookJob(created.ProjectUID, created.ProjectUID+"-job-pt", "pt"),
		webhookJob(created.ProjectUID, "unknown-uid", "pt"),
		webhookJob(created.ProjectUID, "unknown-es", "es"),
		webhookJob("someone-else", "job-1", "pt"),
		foreign,
	}
	got, err := manager.PTDsForJobs(ctx, jobs)
	if err != nil {
		t.Fatalf("PTDsForJobs returned error: %v", err)
	}
	var ids []string
	for _, jp := range got {
		ids = append(ids, jp.PTDID)
	}
	want := []string{"phrase-translation--pt--title__r1", "phrase-translation--es--title__r1"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("unexpected ptds (-want +got):\n%s", diff)
	}
}

func TestMarkPTDsDeletedIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, store, vendor, created := createdFixture(t)

	jobs := []phrase.JobInWebhook{webhookJob(created.ProjectUID, created.ProjectUID+"-job-pt", "pt")}
	marked, skipped, err := manager.MarkPTDsDeleted(ctx, jobs)
	if err != nil {
		t.Fatalf("MarkPTDsDeleted returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"phrase-translation--pt--title__r1"}, marked); diff != "" || len(skipped) != 0 {
		t.Fatalf("unexpected first pass: marked %v skipped %v", marked, skipped)
	}

	marked, skipped, err = manager.MarkPTDsDeleted(ctx, jobs)
	if err != nil {
		t.Fatalf("MarkPTDsDeleted replay returned error: %v", err)
	}
	if len(marked) != 0 || len(skipped) != 1 {
		t.Fatalf("unexpected replay: marked %v skipped %v", marked, skipped)
	}

	// deleted ptds are left out of refreshes
	vendor.translate(t, "pt", "Olá")
	result, err := manager.RefreshPTDs(ctx, []string{"phrase-translation--pt--title__r1"})
	if err != nil {
		t.Fatalf("RefreshPTDs returned error: %v", err)
	}
	if len(result.PTDs) != 0 || vendor.downloads != 0 {
		t.Fatalf("deleted ptd was refreshed: %+v", result.PTDs)
	}
	ptd, _ := store.Get(ctx, "phrase-translation--pt--title__r1")
	if ptd.String("title") != "Hello" {
		t.Fatalf("deleted ptd content changed: %v", ptd["title"])
	}
}

func TestRefreshJobsWaitsForContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	manager, store, vendor, created := createdFixture(t)

	// no target file yet
	jobs := []phrase.JobInWebhook{webhookJob(created.ProjectUID, created.ProjectUID+"-job-es", "es")}
	result, err := manager.RefreshJobs(ctx, jobs)
	if err != nil {
		t.Fatalf("RefreshJobs returned error: %v", err)
	}
	if result.Failed() != 1 || result.PTDs[0].Updated {
		t.Fatalf("unexpected refresh without file: %+v", result.PTDs)
	}

	vendor.translate(t, "es", "Hola")
	result, err = manager.RefreshJobs(ctx, jobs)
	if err != nil {
		t.Fatalf("RefreshJobs returned error: %v", err)
	}
	got := result.PTDs[0]
	if got.Err() != nil || !got.Updated || !got.ReadyToMerge || got.Lang != "es" {
		t.Fatalf("unexpected refresh: %+v (%v)", got, got.Err())
	}
	if got.JobsMetadata == nil || len(got.Jobs) != 1 {
		t.Fatalf("missing job state: %+v", got)
	}

	merged, err := manager.MergePTD(ctx, got.PTDID)
	if err != nil {
		t.Fatalf("MergePTD returned error: %v", err)
	}
	if len(merged.ModifiedDocs) != 1 {
		t.Fatalf("unexpected merge: %+v", merged)
	}
	target, _ := store.Get(ctx, merged.ModifiedDocs[0])
	if target.String("title") != "Hola" {
		t.Fatalf("unexpected merged title: %v", target["title"])
	}
}

func TestReferenceMapFor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	record := &tmd.TMD{
		ID:             document.TmdID("title__r1"),
		Status:         tmd.StatusCompleted,
		TranslationKey: "title__r1",
		SourceDoc:      document.NewWeakRef("post-1"),
		Paths:          []string{"title"},
		Targets: []tmd.Target{{
			Key:          "pt",
			Lang:         language.Pair("pt"),
			TargetDoc:    document.NewWeakRef("post-1-pt"),
			Jobs:         []tmd.JobInfo{},
			ReferenceMap: tmd.ReferenceMap{"tag-1": tmd.Untranslatable()},
		}},
	}
	store := contentstore.NewMemoryStore(
		seedTMD(t, record),
		document.Document{"_id": "author-1", "_type": "author", "language": "en"},
		document.Document{"_id": "drafts.author-1-pt", "_type": "author", "language": "pt"},
		document.Document{
			"_id":   "meta-1",
			"_type": i18n.MetadataDocType,
			"translations": []any{
				map[string]any{"_key": "en", "value": map[string]any{"_ref": "author-1", "_type": "reference", "_weak": true}},
				map[string]any{"_key": "pt", "value": map[string]any{"_ref": "author-1-pt", "_type": "reference", "_weak": true}},
			},
		},
	)
	manager := newTestManager(store, nil)

	got := manager.referenceMapFor(ctx, record, &record.Targets[0], []string{"author-1", "missing-1", "tag-1"})
	want := tmd.ReferenceMap{
		"author-1":  tmd.Resolved("author-1-pt", "author", tmd.RefStateDraft),
		"missing-1": tmd.DocNotFound(),
		"tag-1":     tmd.Untranslatable(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected reference map (-want +got):\n%s", diff)
	}

	stored := loadTMD(t, store, record.ID)
	if diff := cmp.Diff(want, stored.Targets[0].ReferenceMap); diff != "" {
		t.Fatalf("unexpected persisted map (-want +got):\n%s", diff)
	}

	// doc-not-found entries are looked up again
	store.Put(document.Document{"_id": "missing-1", "_type": "tag"})
	got = manager.referenceMapFor(ctx, stored, &stored.Targets[0], []string{"missing-1"})
	if got["missing-1"] != tmd.Untranslatable() {
		t.Fatalf("unexpected retried entry: %+v", got["missing-1"])
	}
}
