// Package translation orchestrates translation requests: it creates vendor
// projects for source documents, keeps PTDs in sync with vendor jobs, commits
// finished translations and reports staleness.
package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/i18n"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
	"github.com/tinloof/sanity-plugin-phrase/internal/merge"
	"github.com/tinloof/sanity-plugin-phrase/internal/phrase"
	"github.com/tinloof/sanity-plugin-phrase/internal/references"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

const DefaultConcurrency = 2

// Vendor is the subset of the Phrase API the manager needs. *phrase.Client
// implements it.
type Vendor interface {
	CreateProject(ctx context.Context, templateUID string, in phrase.ProjectInput) (phrase.Project, error)
	CreateJobs(ctx context.Context, projectUID, filename string, targetLangs []string, content []byte) ([]phrase.JobPart, error)
	ListJobParts(ctx context.Context, projectUID string) ([]phrase.JobPart, error)
	DownloadTargetFile(ctx context.Context, projectUID, jobUID string) ([]byte, error)
	Region() phrase.Region
}

// Options configures a Manager.
type Options struct {
	TemplateUID       string
	SourceLang        string
	TranslatableTypes []string
	// Concurrency caps parallel request pipelines. Values above 2 are
	// lowered to 2.
	Concurrency       int
	ReferenceMaxDepth int
	DraftPrecedence   bool
}

// Manager coordinates the content store, the vendor and the i18n adapter.
type Manager struct {
	store    contentstore.Store
	vendor   Vendor
	adapter  i18n.Adapter
	resolver *references.Resolver
	merger   *merge.Engine
	opts     Options
	logger   zerolog.Logger
	// owned fields are maintained by the adapter on every language version
	owned []string
}

func NewManager(store contentstore.Store, vendor Vendor, adapter i18n.Adapter, opts Options, logger zerolog.Logger) *Manager {
	if opts.Concurrency <= 0 || opts.Concurrency > DefaultConcurrency {
		opts.Concurrency = DefaultConcurrency
	}
	var owned []string
	if adapter != nil {
		owned = adapter.OwnedFields()
	}
	return &Manager{
		store:   store,
		vendor:  vendor,
		adapter: adapter,
		resolver: references.NewResolver(store, references.Options{
			TranslatableTypes: opts.TranslatableTypes,
			MaxDepth:          opts.ReferenceMaxDepth,
			DraftPrecedence:   opts.DraftPrecedence,
			Concurrency:       opts.Concurrency,
		}, logger),
		merger: merge.NewEngine(store, logger, owned...),
		opts:   opts,
		logger: logger,
		owned:  owned,
	}
}

func (m *Manager) ready() error {
	if m == nil || m.store == nil || m.adapter == nil {
		return ErrManagerUninitialized
	}
	return nil
}

func (m *Manager) readyWithVendor() error {
	if err := m.ready(); err != nil {
		return err
	}
	if m.vendor == nil {
		return ErrVendorNotConfigured
	}
	return nil
}

// AdapterName reports which i18n strategy the manager uses.
func (m *Manager) AdapterName() string {
	if m == nil || m.adapter == nil {
		return ""
	}
	return m.adapter.Name()
}

func (m *Manager) isTranslatable(docType string) bool {
	if len(m.opts.TranslatableTypes) == 0 {
		return true
	}
	for _, t := range m.opts.TranslatableTypes {
		if t == docType {
			return true
		}
	}
	return false
}

func (m *Manager) crossSystem(storeLang string) language.CrossSystem {
	return i18n.CrossSystem(m.adapter.LangAdapter(), storeLang)
}

// GetTMD loads and decodes a TMD.
func (m *Manager) GetTMD(ctx context.Context, tmdID string) (*tmd.TMD, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	doc, err := m.store.Get(ctx, strings.TrimSpace(tmdID))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrTMDNotFound, tmdID)
		}
		return nil, fmt.Errorf("load tmd %s: %w", tmdID, err)
	}
	return tmd.FromDocument(doc)
}

// TMDsFor returns every TMD referencing any variant of the given documents.
func (m *Manager) TMDsFor(ctx context.Context, docIDs ...string) ([]*tmd.TMD, error) {
	var ids []string
	for _, id := range docIDs {
		ids = append(ids, document.VariantIDs(id)...)
	}
	docs, err := m.store.Query(ctx, contentstore.Filter{Types: []string{document.TmdType}, References: ids})
	if err != nil {
		return nil, err
	}
	out := make([]*tmd.TMD, 0, len(docs))
	for _, doc := range docs {
		record, err := tmd.FromDocument(doc)
		if err != nil {
			m.logger.Warn().Err(err).Str("tmd_id", doc.ID()).Msg("skipping unreadable tmd")
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// DocumentReferences lists the translatable documents reachable from id.
func (m *Manager) DocumentReferences(ctx context.Context, id string, rawPaths []string) (references.Result, error) {
	if err := m.ready(); err != nil {
		return references.Result{}, err
	}
	var paths []document.Path
	if len(rawPaths) > 0 {
		parsed, err := document.ParsePaths(rawPaths)
		if err != nil {
			return references.Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		paths = parsed
	}
	root, err := m.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return references.Result{}, fmt.Errorf("load document %s: %w", id, err)
	}
	return m.resolver.Resolve(ctx, root, paths)
}

// CommitTranslation merges every PTD of a TMD into its target document and
// marks the TMD COMMITTED.
func (m *Manager) CommitTranslation(ctx context.Context, tmdID string) (merge.CommitResult, error) {
	if err := m.ready(); err != nil {
		return merge.CommitResult{}, err
	}
	result, err := m.merger.CommitTMD(ctx, strings.TrimSpace(tmdID))
	if err != nil && isNotFound(err) {
		return result, fmt.Errorf("%w: %v", ErrTMDNotFound, err)
	}
	return result, err
}

// MergePTD copies a PTD's translated paths into its target document without
// deleting the PTD.
func (m *Manager) MergePTD(ctx context.Context, ptdID string) (merge.TargetOutcome, error) {
	if err := m.ready(); err != nil {
		return merge.TargetOutcome{}, err
	}
	return m.merger.MergePTD(ctx, ptdID)
}

func isNotFound(err error) bool {
	return errors.Is(err, contentstore.ErrNotFound)
}
