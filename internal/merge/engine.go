package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

var (
	ErrNotReadyToCommit = errors.New("translation is not ready to commit")
	ErrIncompleteCommit = errors.New("some targets failed to merge")
)

const targetMergeConcurrency = 2

// Engine merges PTDs into their target documents through the content store.
type Engine struct {
	store  contentstore.Store
	logger zerolog.Logger
	// owned fields belong to the i18n adapter and stay as the target has them
	owned []string
}

func NewEngine(store contentstore.Store, logger zerolog.Logger, owned ...string) *Engine {
	return &Engine{store: store, logger: logger, owned: owned}
}

// TargetOutcome reports what happened to one target language.
type TargetOutcome struct {
	Lang         string   `json:"lang"`
	PTDID        string   `json:"ptdId,omitempty"`
	ModifiedDocs []string `json:"modifiedDocs"`
	PTDDeleted   bool     `json:"ptdDeleted"`
	// AlreadyMerged is set when a previous commit attempt merged this target.
	AlreadyMerged bool  `json:"alreadyMerged,omitempty"`
	Err           error `json:"-"`
}

// CommitResult is returned by CommitTMD.
type CommitResult struct {
	TMDID        string          `json:"tmdId"`
	Status       tmd.Status      `json:"status"`
	ModifiedDocs []string        `json:"modifiedDocs"`
	DeletedPTDs  []string        `json:"deletedPtds"`
	Targets      []TargetOutcome `json:"targets"`
}

// MergePTD copies the translated paths of a PTD into both variants of its
// target document. The PTD is kept.
func (e *Engine) MergePTD(ctx context.Context, ptdID string) (TargetOutcome, error) {
	ptd, err := e.store.Get(ctx, ptdID)
	if err != nil {
		return TargetOutcome{PTDID: ptdID}, fmt.Errorf("load ptd: %w", err)
	}
	meta, err := tmd.PTDMetadataOf(ptd)
	if err != nil {
		return TargetOutcome{PTDID: ptdID}, err
	}
	record, err := e.loadTMD(ctx, meta.TMD.Ref)
	if err != nil {
		return TargetOutcome{PTDID: ptdID}, err
	}
	paths, err := record.ParsedPaths()
	if err != nil {
		return TargetOutcome{PTDID: ptdID}, fmt.Errorf("parse tmd paths: %w", err)
	}

	outcome := TargetOutcome{Lang: meta.TargetLang.Store, PTDID: ptdID}
	tx := contentstore.NewTransaction()
	modified, err := e.addTargetPatches(ctx, tx, ptd, meta.TargetDoc.Ref, paths)
	if err != nil {
		return outcome, err
	}
	if tx.Len() == 0 {
		return outcome, nil
	}
	if _, err := e.store.Commit(ctx, tx); err != nil {
		return outcome, fmt.Errorf("commit merge of %s: %w", ptdID, err)
	}
	outcome.ModifiedDocs = modified
	e.logger.Info().Str("ptd_id", ptdID).Strs("modified", modified).Msg("ptd merged")
	return outcome, nil
}

// CommitTMD merges every target's PTD, deletes the PTDs and marks the TMD
// COMMITTED once all targets are merged. Targets are merged concurrently and
// independently; a failing target does not stop the others.
func (e *Engine) CommitTMD(ctx context.Context, tmdID string) (CommitResult, error) {
	record, err := e.loadTMD(ctx, tmdID)
	if err != nil {
		return CommitResult{TMDID: tmdID}, err
	}
	result := CommitResult{TMDID: tmdID, Status: record.Status}
	if !tmd.IsReadyToCommit(record) {
		return result, fmt.Errorf("%w: %s is %s", ErrNotReadyToCommit, tmdID, record.Status)
	}
	paths, err := record.ParsedPaths()
	if err != nil {
		return result, fmt.Errorf("parse tmd paths: %w", err)
	}

	outcomes := make([]TargetOutcome, len(record.Targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(targetMergeConcurrency)
	for i, target := range record.Targets {
		g.Go(func() error {
			outcomes[i] = e.commitTarget(gctx, target, paths)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, outcome := range outcomes {
		result.ModifiedDocs = append(result.ModifiedDocs, outcome.ModifiedDocs...)
		if outcome.PTDDeleted {
			result.DeletedPTDs = append(result.DeletedPTDs, outcome.PTDID)
		}
		if outcome.Err != nil {
			failed++
			e.logger.Warn().Err(outcome.Err).Str("tmd_id", tmdID).Str("lang", outcome.Lang).Msg("target merge failed")
		}
	}
	result.Targets = outcomes
	if failed > 0 {
		return result, fmt.Errorf("%w: %d of %d targets of %s", ErrIncompleteCommit, failed, len(outcomes), tmdID)
	}

	if err := record.Transition(tmd.StatusCommitted); err != nil {
		return result, err
	}
	patch := contentstore.Patch{
		ID:           record.ID,
		IfRevisionID: record.Rev,
		Set: map[string]any{
			"status":      record.Status,
			"committedAt": record.CommittedAt,
		},
	}
	for _, target := range record.Targets {
		patch.Unset = append(patch.Unset, tmd.TargetPath(target.Key, "ptd"))
	}
	if _, err := e.store.Commit(ctx, contentstore.NewTransaction().Patch(patch)); err != nil {
		return result, fmt.Errorf("mark %s committed: %w", tmdID, err)
	}
	result.Status = record.Status
	e.logger.Info().Str("tmd_id", tmdID).Int("targets", len(outcomes)).Msg("translation committed")
	return result, nil
}

func (e *Engine) commitTarget(ctx context.Context, target tmd.Target, paths []document.Path) TargetOutcome {
	outcome := TargetOutcome{Lang: target.Lang.Store}
	if target.PTD == nil {
		outcome.AlreadyMerged = true
		return outcome
	}
	outcome.PTDID = target.PTD.Ref

	ptd, err := e.store.Get(ctx, target.PTD.Ref)
	if errors.Is(err, contentstore.ErrNotFound) {
		outcome.AlreadyMerged = true
		return outcome
	}
	if err != nil {
		outcome.Err = fmt.Errorf("load ptd: %w", err)
		return outcome
	}

	tx := contentstore.NewTransaction()
	modified, err := e.addTargetPatches(ctx, tx, ptd, target.TargetDoc.Ref, paths)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	tx.Delete(target.PTD.Ref)
	if _, err := e.store.Commit(ctx, tx); err != nil {
		outcome.Err = fmt.Errorf("commit merge of %s: %w", target.PTD.Ref, err)
		return outcome
	}
	outcome.ModifiedDocs = modified
	outcome.PTDDeleted = true
	return outcome
}

// addTargetPatches re-reads both variants of the target document and adds a
// revision-locked patch for each one that differs from the PTD.
func (e *Engine) addTargetPatches(ctx context.Context, tx *contentstore.Transaction, ptd document.Document, targetID string, paths []document.Path) ([]string, error) {
	variants, err := e.store.GetMany(ctx, document.VariantIDs(targetID))
	if err != nil {
		return nil, fmt.Errorf("load target %s: %w", targetID, err)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("load target %s: %w", targetID, contentstore.ErrNotFound)
	}

	var modified []string
	for _, variant := range variants {
		patch, changed, err := MergeTranslatedContent(variant, ptd, paths, e.owned...)
		if err != nil {
			e.logger.Warn().Err(err).Str("ptd_id", ptd.ID()).Str("target_id", variant.ID()).Msg("translated values skipped")
		}
		if !changed {
			continue
		}
		tx.Patch(patch)
		modified = append(modified, variant.ID())
	}
	return modified, nil
}

func (e *Engine) loadTMD(ctx context.Context, id string) (*tmd.TMD, error) {
	doc, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load tmd: %w", err)
	}
	return tmd.FromDocument(doc)
}
