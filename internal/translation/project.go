package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/phrase"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

// FindTMDByProject returns the TMD created for a vendor project.
func (m *Manager) FindTMDByProject(ctx context.Context, projectUID string) (*tmd.TMD, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	projectUID = strings.TrimSpace(projectUID)
	if projectUID == "" {
		return nil, fmt.Errorf("%w: empty project uid", ErrTMDNotFound)
	}
	docs, err := m.store.Query(ctx, contentstore.Filter{
		Types:  []string{document.TmdType},
		Field:  "phraseProjectUid",
		Equals: projectUID,
	})
	if err != nil {
		return nil, fmt.Errorf("query tmd for project %s: %w", projectUID, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: project %s", ErrTMDNotFound, projectUID)
	}
	document.SortByID(docs)
	return tmd.FromDocument(docs[0])
}

// BroadcastProjectStatus writes status into the translation entry of every
// main document of record. The TMD's own status is left alone. It returns
// the ids that were patched.
func (m *Manager) BroadcastProjectStatus(ctx context.Context, record *tmd.TMD, status tmd.Status) ([]string, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	docs, err := m.store.GetMany(ctx, record.MainDocIDs())
	if err != nil {
		return nil, fmt.Errorf("load main documents of %s: %w", record.ID, err)
	}

	tx := contentstore.NewTransaction()
	var patched []string
	for _, doc := range docs {
		current, ok := tmd.MainDocStatus(doc, record.TranslationKey)
		if !ok || current == status {
			continue
		}
		tx.Patch(contentstore.Patch{
			ID:  doc.ID(),
			Set: map[string]any{tmd.MainDocStatusPath(record.TranslationKey): status},
		})
		patched = append(patched, doc.ID())
	}
	if tx.Len() == 0 {
		return []string{}, nil
	}
	if _, err := m.store.Commit(ctx, tx); err != nil {
		return nil, fmt.Errorf("update main document status of %s: %w", record.ID, err)
	}
	m.logger.Info().Str("tmd_id", record.ID).Str("status", string(status)).Int("documents", len(patched)).Msg("project status broadcast")
	return patched, nil
}

// JobPTD ties a webhook job to the PTD it feeds.
type JobPTD struct {
	JobUID string
	TMD    *tmd.TMD
	Lang   string
	PTDID  string
}

// PTDsForJobs locates the PTDs of webhook jobs through the TMD of their
// project. Jobs from projects this service did not create, or whose target
// has no PTD anymore, are skipped.
func (m *Manager) PTDsForJobs(ctx context.Context, jobs []phrase.JobInWebhook) ([]JobPTD, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	byProject := map[string]*tmd.TMD{}
	seen := map[string]struct{}{}
	var out []JobPTD
	for _, job := range jobs {
		if job.FileName != "" && !phrase.ComesFromSanity(job.FileName) {
			continue
		}
		record, ok := byProject[job.Project.UID]
		if !ok {
			found, err := m.FindTMDByProject(ctx, job.Project.UID)
			if err != nil && !isTMDNotFound(err) {
				return nil, err
			}
			record = found
			byProject[job.Project.UID] = record
		}
		if record == nil {
			m.logger.Debug().Str("project_uid", job.Project.UID).Str("job_uid", job.UID).Msg("no tmd for job")
			continue
		}

		target, ok := record.TargetByJob(job.UID)
		if !ok {
			target, ok = record.TargetByVendorLang(job.TargetLang)
		}
		if !ok || target.PTD == nil {
			continue
		}
		if _, dup := seen[target.PTD.Ref]; dup {
			continue
		}
		seen[target.PTD.Ref] = struct{}{}
		out = append(out, JobPTD{JobUID: job.UID, TMD: record, Lang: target.Lang.Store, PTDID: target.PTD.Ref})
	}
	return out, nil
}

// MarkPTDsDeleted flags the PTDs of deleted jobs. PTDs that are already gone
// or already flagged are reported as skipped, so replays write nothing.
func (m *Manager) MarkPTDsDeleted(ctx context.Context, jobs []phrase.JobInWebhook) (marked, skipped []string, err error) {
	targets, err := m.PTDsForJobs(ctx, jobs)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.PTDID)
	}
	docs, err := m.store.GetMany(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load ptds: %w", err)
	}
	existing := map[string]document.Document{}
	for _, doc := range docs {
		existing[doc.ID()] = doc
	}

	marked, skipped = []string{}, []string{}
	tx := contentstore.NewTransaction()
	for _, id := range ids {
		doc, ok := existing[id]
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		if meta, err := tmd.PTDMetadataOf(doc); err != nil || meta.Deleted {
			skipped = append(skipped, id)
			continue
		}
		tx.Patch(contentstore.Patch{ID: id, Set: map[string]any{document.MetadataKey + ".deleted": true}})
		marked = append(marked, id)
	}
	if tx.Len() > 0 {
		if _, err := m.store.Commit(ctx, tx); err != nil {
			return nil, nil, fmt.Errorf("mark ptds deleted: %w", err)
		}
	}
	return marked, skipped, nil
}

// RefreshJobs refreshes the PTDs fed by webhook jobs.
func (m *Manager) RefreshJobs(ctx context.Context, jobs []phrase.JobInWebhook) (RefreshResult, error) {
	targets, err := m.PTDsForJobs(ctx, jobs)
	if err != nil {
		return RefreshResult{}, err
	}
	if len(targets) == 0 {
		return RefreshResult{PTDs: []RefreshedPTD{}}, nil
	}
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.PTDID)
	}
	return m.RefreshPTDs(ctx, ids)
}

func isTMDNotFound(err error) bool {
	return errors.Is(err, ErrTMDNotFound)
}
