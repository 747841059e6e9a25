package translation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/globaltime"
	"github.com/tinloof/sanity-plugin-phrase/internal/i18n"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
	"github.com/tinloof/sanity-plugin-phrase/internal/phrase"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
	"github.com/tinloof/sanity-plugin-phrase/internal/transcode"
)

// CreateRequest asks for one source document to be translated.
type CreateRequest struct {
	// SourceID may be a draft id, in which case the draft is translated and
	// the PTDs are drafts too.
	SourceID    string   `json:"sourceDocId"`
	SourceLang  string   `json:"sourceLang,omitempty"`
	TargetLangs []string `json:"targetLangs"`
	Paths       []string `json:"paths,omitempty"`
	DateDue     string   `json:"dateDue,omitempty"`
	TemplateUID string   `json:"templateUid,omitempty"`
}

type CreatedTarget struct {
	Lang        language.CrossSystem `json:"lang"`
	TargetDocID string               `json:"targetDocId"`
	PTDID       string               `json:"ptdId"`
	JobUIDs     []string             `json:"jobUids,omitempty"`
}

// CreateResult describes a persisted translation request.
type CreateResult struct {
	TMDID          string          `json:"tmdId"`
	TranslationKey string          `json:"translationKey"`
	Status         tmd.Status      `json:"status"`
	ProjectUID     string          `json:"projectUid,omitempty"`
	ProjectURL     string          `json:"projectUrl,omitempty"`
	ProjectName    string          `json:"projectName"`
	Targets        []CreatedTarget `json:"targets"`
	// ReferencedDocs lists translatable documents referenced from the
	// translated paths.
	ReferencedDocs []string `json:"referencedDocs,omitempty"`
}

type request struct {
	CreateRequest
	source      document.Document
	sourceLang  language.CrossSystem
	targetLangs []language.CrossSystem
	paths       []document.Path
	templateUID string
}

type freshDocuments struct {
	source document.Document
	pairs  []i18n.DocPair
	byLang map[string]i18n.DocPair
}

// CreateTranslations runs one request pipeline. The TMD is persisted in
// CREATING before the vendor is called; afterwards it is COMPLETED with the
// created jobs, or FAILED_PERSISTING with whatever the vendor returned.
func (m *Manager) CreateTranslations(ctx context.Context, in CreateRequest) (CreateResult, error) {
	if err := m.readyWithVendor(); err != nil {
		return CreateResult{}, err
	}

	req, err := m.prepareRequest(ctx, in)
	if err != nil {
		return CreateResult{}, err
	}
	fresh, err := m.freshDocuments(ctx, req)
	if err != nil {
		return CreateResult{}, err
	}
	if err := m.ensureNoOngoing(ctx, req, fresh); err != nil {
		return CreateResult{}, err
	}

	record, err := m.persistCreating(ctx, req, fresh)
	if err != nil {
		return CreateResult{}, err
	}
	result := m.resultFor(record)
	result.ReferencedDocs = m.referencedDocs(ctx, fresh.source, req.paths)

	logger := m.logger.With().Str("tmd_id", record.ID).Logger()
	project, jobs, err := m.createInVendor(ctx, req, fresh, record)
	if err != nil {
		m.markFailed(ctx, record, project, jobs, "vendor", err)
		return m.resultFor(record), fmt.Errorf("create vendor project for %s: %w", record.ID, err)
	}
	logger.Info().Str("project_uid", project.UID).Int("jobs", len(jobs)).Msg("vendor project created")

	if err := m.markCompleted(ctx, record, project, jobs); err != nil {
		m.markFailed(ctx, record, project, jobs, "persist", err)
		return m.resultFor(record), fmt.Errorf("persist vendor jobs for %s: %w", record.ID, err)
	}

	refs := result.ReferencedDocs
	result = m.resultFor(record)
	result.ReferencedDocs = refs
	logger.Info().Str("status", string(record.Status)).Msg("translation created")
	return result, nil
}

func (m *Manager) prepareRequest(ctx context.Context, in CreateRequest) (*request, error) {
	in.SourceID = strings.TrimSpace(in.SourceID)
	if in.SourceID == "" {
		return nil, fmt.Errorf("%w: sourceDocId is required", ErrInvalidRequest)
	}
	templateUID := strings.TrimSpace(in.TemplateUID)
	if templateUID == "" {
		templateUID = m.opts.TemplateUID
	}
	if templateUID == "" {
		return nil, fmt.Errorf("%w: no project template configured", ErrInvalidRequest)
	}

	paths, err := document.ParsePaths(in.Paths)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	source, err := m.store.Get(ctx, in.SourceID)
	if err != nil {
		if isNotFound(err) {
			return nil, adapterError(AdapterSourceDocMissing, err)
		}
		return nil, fmt.Errorf("load source document %s: %w", in.SourceID, err)
	}
	if !m.isTranslatable(source.Type()) {
		return nil, fmt.Errorf("%w: %q", ErrUntranslatableType, source.Type())
	}

	sourceLang := strings.TrimSpace(in.SourceLang)
	if sourceLang == "" {
		sourceLang = m.adapter.DocumentLang(source)
	}
	if sourceLang == "" {
		sourceLang = m.opts.SourceLang
	}
	if sourceLang == "" {
		return nil, fmt.Errorf("%w: source language is unknown", ErrInvalidRequest)
	}

	seen := map[string]struct{}{}
	var targets []language.CrossSystem
	for _, raw := range in.TargetLangs {
		lang := strings.TrimSpace(raw)
		if lang == "" || language.Equal(lang, sourceLang) {
			continue
		}
		key := language.Canonical(lang)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, m.crossSystem(lang))
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: at least one target language different from %s is required", ErrInvalidRequest, sourceLang)
	}

	return &request{
		CreateRequest: in,
		source:        source,
		sourceLang:    m.crossSystem(sourceLang),
		targetLangs:   targets,
		paths:         paths,
		templateUID:   templateUID,
	}, nil
}

// freshDocuments asks the adapter for the source and target documents and
// checks that the set is usable.
func (m *Manager) freshDocuments(ctx context.Context, req *request) (freshDocuments, error) {
	pairs, err := m.adapter.GetOrCreateTranslatedDocuments(ctx, i18n.Request{
		SourceID:    req.SourceID,
		SourceType:  req.source.Type(),
		SourceLang:  req.sourceLang,
		TargetLangs: req.targetLangs,
	})
	if err != nil {
		if errors.Is(err, i18n.ErrSourceNotFound) || errors.Is(err, i18n.ErrNoSourcePair) {
			return freshDocuments{}, adapterError(AdapterSourceDocMissing, err)
		}
		return freshDocuments{}, adapterError(AdapterFailed, err)
	}

	fresh := freshDocuments{pairs: pairs, byLang: map[string]i18n.DocPair{}}
	for _, pair := range pairs {
		if pair.IsEmpty() {
			return freshDocuments{}, adapterError(AdapterBrokenDoc, fmt.Errorf("pair for %q has no document", pair.Lang))
		}
		for _, doc := range pair.Docs() {
			if doc.ID() == req.SourceID {
				fresh.source = doc
			}
		}
		fresh.byLang[language.Canonical(pair.Lang)] = pair
	}
	for _, lang := range req.targetLangs {
		if _, ok := fresh.byLang[language.Canonical(lang.Store)]; !ok {
			return freshDocuments{}, adapterError(AdapterMissingLang, fmt.Errorf("no document for %s", lang.Store))
		}
	}
	if fresh.source == nil {
		return freshDocuments{}, adapterError(AdapterSourceDocMissing, fmt.Errorf("%s missing from adapter result", req.SourceID))
	}
	return fresh, nil
}

func (f freshDocuments) ids() []string {
	var out []string
	for _, pair := range f.pairs {
		for _, doc := range pair.Docs() {
			out = append(out, doc.ID())
		}
	}
	return out
}

// ensureNoOngoing rejects a request when an unfinished TMD for the same source
// and path set already targets one of the requested languages.
func (m *Manager) ensureNoOngoing(ctx context.Context, req *request, fresh freshDocuments) error {
	tmds, err := m.TMDsFor(ctx, fresh.ids()...)
	if err != nil {
		return adapterError(AdapterFailedFetchingTMDs, err)
	}
	key := document.TranslationKey(req.paths, fresh.source.Rev())
	wantPaths := strings.Join(document.PathStrings(req.paths), "\x00")
	for _, record := range tmds {
		if !record.Status.IsUnfinished() {
			continue
		}
		if record.TranslationKey == key {
			return fmt.Errorf("%w: %s", ErrTranslationExists, record.ID)
		}
		if document.UndraftID(record.SourceDoc.Ref) != document.UndraftID(req.SourceID) || strings.Join(record.Paths, "\x00") != wantPaths {
			continue
		}
		for _, lang := range req.targetLangs {
			if tmd.LangInTMD(record, lang.Store) {
				return fmt.Errorf("%w: %s targets %s", ErrTranslationExists, record.ID, lang.Store)
			}
		}
	}
	return nil
}

func (m *Manager) persistCreating(ctx context.Context, req *request, fresh freshDocuments) (*tmd.TMD, error) {
	source := fresh.source
	rev := source.Rev()
	key := document.TranslationKey(req.paths, rev)
	snapshot, err := document.Snapshot(source)
	if err != nil {
		return nil, err
	}
	now := globaltime.Stamp()

	record := &tmd.TMD{
		ID:             document.TmdID(key),
		Type:           document.TmdType,
		CreatedAt:      now,
		Status:         tmd.StatusCreating,
		TranslationKey: key,
		SourceDoc:      document.NewWeakRef(document.UndraftID(source.ID())),
		SourceDocRev:   rev,
		SourceSnapshot: snapshot,
		SourceLang:     req.sourceLang,
		Paths:          document.PathStrings(req.paths),
		ProjectName:    projectName(source),
	}

	tx := contentstore.NewTransaction()
	var ptds []document.Document
	for _, lang := range req.targetLangs {
		pair := fresh.byLang[language.Canonical(lang.Store)]
		targetDoc := pair.Prefer(document.IsDraft(req.SourceID))
		ptdID := document.PtdID(req.SourceID, rev, req.paths, lang.Vendor)
		ptdRef := document.NewWeakRef(ptdID)
		record.Targets = append(record.Targets, tmd.Target{
			Key:       lang.Store,
			Type:      tmd.TargetType,
			Lang:      lang,
			TargetDoc: document.NewWeakRef(pair.PublishedID()),
			PTD:       &ptdRef,
			Jobs:      []tmd.JobInfo{},
		})
		ptd, err := tmd.NewPTD(ptdID, targetDoc, tmd.PTDMetadata{
			SourceDoc:  document.NewWeakRef(source.ID()),
			TargetDoc:  document.NewWeakRef(targetDoc.ID()),
			TMD:        document.NewWeakRef(record.ID),
			TargetLang: lang,
		})
		if err != nil {
			return nil, err
		}
		ptds = append(ptds, ptd)
	}

	recordDoc, err := record.ToDocument()
	if err != nil {
		return nil, fmt.Errorf("encode tmd: %w", err)
	}
	existing, err := m.store.Get(ctx, record.ID)
	switch {
	case err == nil:
		previous := existing.String("status")
		if previous == string(tmd.StatusCommitted) {
			return nil, fmt.Errorf("%w: %s already committed", ErrTranslationExists, record.ID)
		}
		// a cancelled or deleted request with the same key is replaced, as
		// long as nobody touched it since it was read
		m.logger.Info().Str("tmd_id", record.ID).Str("previous_status", previous).Msg("replacing finished tmd")
		tx.Patch(contentstore.Patch{ID: record.ID, IfRevisionID: existing.Rev()})
		tx.CreateOrReplace(recordDoc)
	case isNotFound(err):
		tx.Create(recordDoc)
	default:
		return nil, adapterError(AdapterFailedFetchingTMDs, err)
	}
	for _, ptd := range ptds {
		tx.CreateIfNotExists(ptd)
	}

	entry := tmd.MainDocEntry(record, now)
	for _, id := range fresh.ids() {
		tx.Patch(mainDocEntryPatch(id, entry))
	}

	result, err := m.store.Commit(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("persist translation %s: %w", record.ID, err)
	}
	record.Rev = result.Revision(record.ID)
	return record, nil
}

// mainDocEntryPatch replaces the translation entry with the same key on a
// main document.
func mainDocEntryPatch(id string, entry tmd.MainDocTranslation) contentstore.Patch {
	return contentstore.Patch{
		ID: id,
		SetIfMissing: map[string]any{
			document.MetadataKey + "._type": tmd.MainMetaType,
			tmd.MainDocTranslationsPath:     []any{},
		},
		Unset: []string{tmd.MainDocTranslationsPath + "[_key==" + strconv.Quote(entry.Key) + "]"},
		Insert: &contentstore.Insert{
			Position: contentstore.InsertAfter,
			At:       tmd.MainDocTranslationsPath + "[-1]",
			Items:    []any{entry},
		},
	}
}

func (m *Manager) createInVendor(ctx context.Context, req *request, fresh freshDocuments, record *tmd.TMD) (phrase.Project, []phrase.JobPart, error) {
	content, err := transcode.BuildContent(fresh.source, req.paths, m.owned...).Marshal()
	if err != nil {
		return phrase.Project{}, nil, err
	}
	vendorLangs := make([]string, 0, len(req.targetLangs))
	for _, lang := range req.targetLangs {
		vendorLangs = append(vendorLangs, lang.Vendor)
	}

	project, err := m.vendor.CreateProject(ctx, req.templateUID, phrase.ProjectInput{
		Name:        record.ProjectName,
		SourceLang:  req.sourceLang.Vendor,
		TargetLangs: vendorLangs,
		DateDue:     req.DateDue,
	})
	if err != nil {
		return project, nil, err
	}
	jobs, err := m.vendor.CreateJobs(ctx, project.UID, fileName(record), vendorLangs, content)
	if err != nil {
		return project, jobs, err
	}
	if len(jobs) == 0 {
		return project, jobs, fmt.Errorf("vendor created no jobs for project %s", project.UID)
	}
	return project, jobs, nil
}

func (m *Manager) markCompleted(ctx context.Context, record *tmd.TMD, project phrase.Project, jobs []phrase.JobPart) error {
	byLang := map[string][]tmd.JobInfo{}
	for _, job := range jobs {
		target, ok := record.TargetByVendorLang(job.TargetLang)
		if !ok {
			m.logger.Warn().Str("tmd_id", record.ID).Str("job_uid", job.UID).Str("lang", job.TargetLang).Msg("job for unknown target language")
			continue
		}
		byLang[target.Key] = append(byLang[target.Key], phrase.JobInfo(job))
	}

	next := *record
	next.Targets = append([]tmd.Target(nil), record.Targets...)
	if err := next.Transition(tmd.StatusCompleted); err != nil {
		return err
	}
	next.ProjectUID = project.UID
	patch := contentstore.Patch{
		ID:           record.ID,
		IfRevisionID: record.Rev,
		Set: map[string]any{
			"status":           next.Status,
			"phraseProjectUid": project.UID,
		},
	}
	for i := range next.Targets {
		infos := byLang[next.Targets[i].Key]
		if infos == nil {
			infos = []tmd.JobInfo{}
		}
		next.Targets[i].Jobs = infos
		patch.Set[tmd.TargetPath(next.Targets[i].Key, "jobs")] = infos
	}

	tx := contentstore.NewTransaction().Patch(patch)
	if err := m.addMainDocStatus(ctx, tx, record, next.Status); err != nil {
		return err
	}
	result, err := m.store.Commit(ctx, tx)
	if err != nil {
		return err
	}
	next.Rev = result.Revision(record.ID)
	*record = next
	return nil
}

// markFailed records FAILED_PERSISTING with whatever the vendor returned.
// Failures here are logged only; the caller already reports the cause.
func (m *Manager) markFailed(ctx context.Context, record *tmd.TMD, project phrase.Project, jobs []phrase.JobPart, stage string, cause error) {
	logger := m.logger.With().Str("tmd_id", record.ID).Str("stage", stage).Logger()
	logger.Error().Err(cause).Str("project_uid", project.UID).Msg("translation creation failed")

	next := *record
	if err := next.Transition(tmd.StatusFailedPersisting); err != nil {
		logger.Error().Err(err).Msg("cannot mark translation failed")
		return
	}
	failed := &tmd.FailedState{
		Error:       cause.Error(),
		ProjectUID:  project.UID,
		RecordedAt:  globaltime.Stamp(),
		FailedStage: stage,
	}
	for _, job := range jobs {
		failed.JobUIDs = append(failed.JobUIDs, job.UID)
	}
	next.FailedState = failed
	next.ProjectUID = project.UID

	set := map[string]any{"status": next.Status, "failedState": failed}
	if project.UID != "" {
		set["phraseProjectUid"] = project.UID
	}
	tx := contentstore.NewTransaction().Patch(contentstore.Patch{ID: record.ID, Set: set})
	if err := m.addMainDocStatus(ctx, tx, record, next.Status); err != nil {
		logger.Error().Err(err).Msg("cannot load main documents")
	}
	if _, err := m.store.Commit(ctx, tx); err != nil {
		logger.Error().Err(err).Msg("cannot persist failed state")
		return
	}
	*record = next
}

// addMainDocStatus patches the status of the TMD's entry on every main
// document variant that carries one.
func (m *Manager) addMainDocStatus(ctx context.Context, tx *contentstore.Transaction, record *tmd.TMD, status tmd.Status) error {
	docs, err := m.store.GetMany(ctx, record.MainDocIDs())
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if _, ok := tmd.MainDocStatus(doc, record.TranslationKey); !ok {
			continue
		}
		tx.Patch(contentstore.Patch{
			ID:  doc.ID(),
			Set: map[string]any{tmd.MainDocStatusPath(record.TranslationKey): status},
		})
	}
	return nil
}

func (m *Manager) referencedDocs(ctx context.Context, source document.Document, paths []document.Path) []string {
	result, err := m.resolver.Resolve(ctx, source, paths)
	if err != nil {
		m.logger.Warn().Err(err).Str("doc_id", source.ID()).Msg("reference resolution failed")
		return nil
	}
	for id, err := range result.Errors {
		m.logger.Warn().Err(err).Str("doc_id", id).Msg("reference fetch failed")
	}
	return result.IDs()
}

func (m *Manager) resultFor(record *tmd.TMD) CreateResult {
	result := CreateResult{
		TMDID:          record.ID,
		TranslationKey: record.TranslationKey,
		Status:         record.Status,
		ProjectUID:     record.ProjectUID,
		ProjectName:    record.ProjectName,
	}
	if record.ProjectUID != "" && m.vendor != nil {
		result.ProjectURL = phrase.ProjectURL(m.vendor.Region(), record.ProjectUID)
	}
	for _, target := range record.Targets {
		created := CreatedTarget{Lang: target.Lang, TargetDocID: target.TargetDoc.Ref}
		if target.PTD != nil {
			created.PTDID = target.PTD.Ref
		}
		for _, job := range target.Jobs {
			created.JobUIDs = append(created.JobUIDs, job.UID)
		}
		result.Targets = append(result.Targets, created)
	}
	return result
}

func projectName(source document.Document) string {
	title := strings.TrimSpace(source.String("title"))
	if title == "" {
		title = document.UndraftID(source.ID())
	}
	return fmt.Sprintf("%s %s (%s)", phrase.FilenamePrefix, title, source.Type())
}

func fileName(record *tmd.TMD) string {
	return fmt.Sprintf("%s %s.json", phrase.FilenamePrefix, record.TranslationKey)
}

// BatchOutcome summarizes a batch of create requests.
type BatchOutcome string

const (
	BatchNoOp         BatchOutcome = "no-op"
	BatchAllSucceeded BatchOutcome = "all-succeeded"
	BatchAllFailed    BatchOutcome = "all-failed"
	BatchPartial      BatchOutcome = "partial"
)

type ItemResult struct {
	Request CreateRequest `json:"request"`
	Status  int           `json:"status"`
	Result  *CreateResult `json:"result,omitempty"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

type BatchResult struct {
	Outcome   BatchOutcome `json:"outcome"`
	Status    int          `json:"status"`
	Message   string       `json:"message"`
	Successes []ItemResult `json:"successes"`
	Errors    []ItemResult `json:"errors,omitempty"`
}

// CreateMultipleTranslations runs every request through CreateTranslations
// with bounded concurrency. A failing request never stops the others.
func (m *Manager) CreateMultipleTranslations(ctx context.Context, reqs []CreateRequest) BatchResult {
	if len(reqs) == 0 {
		return BatchResult{Outcome: BatchNoOp, Status: http.StatusOK, Message: "No translations to create", Successes: []ItemResult{}}
	}

	items := make([]ItemResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			result, err := m.CreateTranslations(gctx, req)
			item := ItemResult{Request: req, Status: StatusForError(err)}
			if err != nil {
				item.Error = NewErrorPayload(err)
			} else {
				item.Result = &result
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Successes: []ItemResult{}}
	for _, item := range items {
		if item.Error != nil {
			out.Errors = append(out.Errors, item)
			continue
		}
		out.Successes = append(out.Successes, item)
	}
	switch {
	case len(out.Successes) == 0:
		out.Outcome, out.Status, out.Message = BatchAllFailed, http.StatusInternalServerError, "All translations failed"
	case len(out.Errors) == 0:
		out.Outcome, out.Status, out.Message = BatchAllSucceeded, http.StatusOK, "All translations created"
	default:
		out.Outcome, out.Status = BatchPartial, http.StatusMultiStatus
		out.Message = fmt.Sprintf("%d translations created and %d failed", len(out.Successes), len(out.Errors))
	}
	m.logger.Info().Str("outcome", string(out.Outcome)).Int("succeeded", len(out.Successes)).Int("failed", len(out.Errors)).Msg("batch translation finished")
	return out
}
