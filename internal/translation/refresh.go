package translation

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/globaltime"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
	"github.com/tinloof/sanity-plugin-phrase/internal/merge"
	"github.com/tinloof/sanity-plugin-phrase/internal/phrase"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
	"github.com/tinloof/sanity-plugin-phrase/internal/transcode"
)

// RefreshedPTD reports the refresh of one PTD.
type RefreshedPTD struct {
	PTDID        string              `json:"ptdId"`
	TMDID        string              `json:"tmdId,omitempty"`
	Lang         string              `json:"lang,omitempty"`
	Jobs         []tmd.JobInfo       `json:"jobs,omitempty"`
	JobsMetadata *phrase.JobsMetadata `json:"jobsMetadata,omitempty"`
	// Updated is set when translated content was written to the PTD.
	Updated      bool          `json:"updated"`
	ReadyToMerge bool          `json:"readyToMerge"`
	Error        *ErrorPayload `json:"error,omitempty"`

	err error
}

// Err returns the failure of this PTD, if any.
func (r RefreshedPTD) Err() error { return r.err }

type RefreshResult struct {
	PTDs []RefreshedPTD `json:"ptds"`
}

// Failed counts PTDs whose refresh failed.
func (r RefreshResult) Failed() int {
	n := 0
	for _, ptd := range r.PTDs {
		if ptd.err != nil {
			n++
		}
	}
	return n
}

type ptdGroup struct {
	tmdID string
	ptds  []document.Document
	index []int
}

// RefreshPTDByID refreshes a single PTD.
func (m *Manager) RefreshPTDByID(ctx context.Context, ptdID string) (RefreshedPTD, error) {
	result, err := m.RefreshPTDs(ctx, []string{ptdID})
	if err != nil {
		return RefreshedPTD{PTDID: ptdID}, err
	}
	if len(result.PTDs) == 0 {
		return RefreshedPTD{PTDID: ptdID}, fmt.Errorf("%w: %s", ErrPTDNotFound, ptdID)
	}
	return result.PTDs[0], result.PTDs[0].err
}

// RefreshPTDs pulls job state and translated content from the vendor into
// the given PTDs. PTDs are grouped by TMD; groups run concurrently and a
// failing group does not stop the others.
func (m *Manager) RefreshPTDs(ctx context.Context, ptdIDs []string) (RefreshResult, error) {
	if err := m.readyWithVendor(); err != nil {
		return RefreshResult{}, err
	}
	if len(ptdIDs) == 0 {
		return RefreshResult{PTDs: []RefreshedPTD{}}, nil
	}

	docs, err := m.store.GetMany(ctx, ptdIDs)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("load ptds: %w", err)
	}

	results := make([]RefreshedPTD, 0, len(docs))
	groups := map[string]*ptdGroup{}
	var order []string
	for _, doc := range docs {
		meta, err := tmd.PTDMetadataOf(doc)
		if err != nil {
			results = append(results, failedRefresh(RefreshedPTD{PTDID: doc.ID()}, err))
			continue
		}
		if meta.Deleted {
			m.logger.Debug().Str("ptd_id", doc.ID()).Msg("skipping deleted ptd")
			continue
		}
		results = append(results, RefreshedPTD{PTDID: doc.ID(), TMDID: meta.TMD.Ref, Lang: meta.TargetLang.Store})
		group, ok := groups[meta.TMD.Ref]
		if !ok {
			group = &ptdGroup{tmdID: meta.TMD.Ref}
			groups[meta.TMD.Ref] = group
			order = append(order, meta.TMD.Ref)
		}
		group.ptds = append(group.ptds, doc)
		group.index = append(group.index, len(results)-1)
	}
	if len(docs) < len(ptdIDs) {
		m.logger.Warn().Int("requested", len(ptdIDs)).Int("found", len(docs)).Msg("some ptds do not exist")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for _, tmdID := range order {
		group := groups[tmdID]
		g.Go(func() error {
			m.refreshGroup(gctx, group, results)
			return nil
		})
	}
	_ = g.Wait()

	return RefreshResult{PTDs: results}, nil
}

// refreshGroup refreshes the PTDs of one TMD. Each goroutine writes only the
// result slots listed in its group.
func (m *Manager) refreshGroup(ctx context.Context, group *ptdGroup, results []RefreshedPTD) {
	fail := func(err error) {
		for _, i := range group.index {
			results[i] = failedRefresh(results[i], err)
		}
	}

	record, err := m.GetTMD(ctx, group.tmdID)
	if err != nil {
		fail(err)
		return
	}
	if record.ProjectUID == "" {
		fail(fmt.Errorf("%w: %s", ErrNoVendorProject, record.ID))
		return
	}
	parts, err := m.vendor.ListJobParts(ctx, record.ProjectUID)
	if err != nil {
		fail(fmt.Errorf("list jobs of %s: %w", record.ProjectUID, err))
		return
	}
	if err := m.updateJobs(ctx, record, parts); err != nil {
		// stale job infos are tolerable; content refresh still proceeds
		m.logger.Warn().Err(err).Str("tmd_id", record.ID).Msg("cannot store job infos")
	}

	for n, ptd := range group.ptds {
		i := group.index[n]
		out, err := m.refreshPTD(ctx, record, ptd)
		out.PTDID, out.TMDID = results[i].PTDID, results[i].TMDID
		if err != nil {
			out = failedRefresh(out, err)
		}
		results[i] = out
	}
}

// updateJobs stores the vendor's current jobs on every target of record.
func (m *Manager) updateJobs(ctx context.Context, record *tmd.TMD, parts []phrase.JobPart) error {
	patch := contentstore.Patch{ID: record.ID, Set: map[string]any{}}
	for i := range record.Targets {
		target := &record.Targets[i]
		jobs := []tmd.JobInfo{}
		for _, part := range parts {
			if language.Equal(part.TargetLang, target.Lang.Vendor) {
				jobs = append(jobs, phrase.JobInfo(part))
			}
		}
		target.Jobs = jobs
		patch.Set[tmd.TargetPath(target.Key, "jobs")] = jobs
	}
	if len(patch.Set) == 0 {
		return nil
	}
	result, err := m.store.Commit(ctx, contentstore.NewTransaction().Patch(patch))
	if err != nil {
		return err
	}
	record.Rev = result.Revision(record.ID)
	return nil
}

func (m *Manager) refreshPTD(ctx context.Context, record *tmd.TMD, ptd document.Document) (RefreshedPTD, error) {
	out := RefreshedPTD{PTDID: ptd.ID(), TMDID: record.ID}
	target, ok := record.TargetByPTD(ptd.ID())
	if !ok {
		meta, err := tmd.PTDMetadataOf(ptd)
		if err != nil {
			return out, err
		}
		target, ok = record.Target(meta.TargetLang.Store)
		if !ok {
			return out, fmt.Errorf("%s has no target for %s", record.ID, meta.TargetLang.Store)
		}
	}
	out.Lang = target.Lang.Store
	out.Jobs = target.Jobs
	jobsMeta := phrase.ExtractJobsMetadata(target.Jobs)
	out.JobsMetadata = &jobsMeta
	out.ReadyToMerge = phrase.JobsReadyToMerge(target.Jobs)

	job, ok := phrase.LastValidJobInWorkflow(target.Jobs)
	if !ok {
		return out, nil
	}
	payload, err := m.vendor.DownloadTargetFile(ctx, record.ProjectUID, job.UID)
	if err != nil {
		return out, fmt.Errorf("download target file of %s: %w", job.UID, err)
	}
	content, err := transcode.ExtractContent(payload)
	if err != nil {
		return out, err
	}
	decoded, err := content.Decoded()
	if err != nil {
		return out, err
	}

	var refs []string
	for _, key := range sortedKeys(decoded) {
		refs = append(refs, document.ParseReferences(decoded[key])...)
	}
	refMap := m.referenceMapFor(ctx, record, target, refs)

	next := ptd.Clone()
	for _, key := range sortedKeys(decoded) {
		value := refMap.Inject(decoded[key])
		if err := applyTranslated(next, key, value, m.owned); err != nil {
			m.logger.Warn().Err(err).Str("ptd_id", ptd.ID()).Str("path", key).Msg("skipping untranslatable path")
		}
	}
	next = m.adapter.InjectDocumentLang(next, target.Lang.Store)

	patch := merge.PatchFor(ptd.ID(), ptd.Rev(), merge.Diff(ptd, next))
	if patch.Set == nil {
		patch.Set = map[string]any{}
	}
	patch.Set[document.MetadataKey+".refreshedAt"] = globaltime.Stamp()
	if _, err := m.store.Commit(ctx, contentstore.NewTransaction().Patch(patch)); err != nil {
		return out, fmt.Errorf("update ptd %s: %w", ptd.ID(), err)
	}
	out.Updated = true
	m.logger.Info().Str("ptd_id", ptd.ID()).Str("job_uid", job.UID).Str("lang", out.Lang).Msg("ptd refreshed")
	return out, nil
}

// applyTranslated writes a decoded value into doc. The root path replaces
// every non-system field that the adapter does not own.
func applyTranslated(doc document.Document, rawPath string, value any, owned []string) error {
	p, err := document.ParsePath(rawPath)
	if err != nil {
		return err
	}
	static := func(k string) bool { return document.IsSystemKey(k) || slices.Contains(owned, k) }
	if !p.IsRoot() {
		if p[0].Kind == document.SegmentField && slices.Contains(owned, p[0].Field) {
			return fmt.Errorf("%s is maintained by the i18n adapter", p)
		}
		return document.Set(doc, p, value)
	}
	fields, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("root content is %T, want object", value)
	}
	for k := range doc {
		if !static(k) {
			delete(doc, k)
		}
	}
	for k, v := range fields {
		if !static(k) {
			doc[k] = v
		}
	}
	return nil
}

// referenceMapFor returns target's reference map extended with resolutions
// for refs that are not cached yet. New entries are persisted onto the TMD
// as a side effect; failures there only mean the next read misses again.
func (m *Manager) referenceMapFor(ctx context.Context, record *tmd.TMD, target *tmd.Target, refs []string) tmd.ReferenceMap {
	cached := target.ReferenceMap
	if cached == nil {
		cached = tmd.ReferenceMap{}
	}
	missing := cached.Missing(refs)
	if len(missing) == 0 {
		return cached
	}

	fresh, err := m.adapter.TranslatedReferences(ctx, missing, target.Lang.Store)
	if err != nil {
		m.logger.Warn().Err(err).Str("tmd_id", record.ID).Str("lang", target.Lang.Store).Msg("cannot resolve translated references")
		return cached
	}
	merged := cached.Merge(fresh)
	target.ReferenceMap = merged

	mapPath := document.MustParsePath(tmd.TargetPath(target.Key, "referenceMap"))
	patch := contentstore.Patch{
		ID:           record.ID,
		SetIfMissing: map[string]any{mapPath.String(): map[string]any{}},
		Set:          map[string]any{},
	}
	for id, res := range fresh {
		if merged[id] != res {
			continue
		}
		entryPath := mapPath.Append(document.Field(id)).String()
		if _, had := cached[id]; had {
			patch.Set[entryPath] = res
		} else {
			patch.SetIfMissing[entryPath] = res
		}
	}
	if _, err := m.store.Commit(ctx, contentstore.NewTransaction().Patch(patch)); err != nil {
		m.logger.Debug().Err(err).Str("tmd_id", record.ID).Msg("reference map not cached")
	}
	return merged
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func failedRefresh(r RefreshedPTD, err error) RefreshedPTD {
	r.err = err
	r.Error = NewErrorPayload(err)
	return r
}
