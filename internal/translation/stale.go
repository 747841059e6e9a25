package translation

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
	"github.com/tinloof/sanity-plugin-phrase/internal/merge"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

type StaleStatus string

const (
	StaleUntranslatable StaleStatus = "UNTRANSLATABLE"
	StaleUntranslated   StaleStatus = "UNTRANSLATED"
	StaleOngoing        StaleStatus = "ONGOING"
	StaleFresh          StaleStatus = "FRESH"
	StaleStale          StaleStatus = "STALE"
)

// TargetStaleness is the state of one target language. ChangedPaths and
// TranslationDate are only set for STALE.
type TargetStaleness struct {
	Lang            language.CrossSystem `json:"lang"`
	Status          StaleStatus          `json:"status,omitempty"`
	ChangedPaths    []string             `json:"changedPaths,omitempty"`
	TranslationDate string               `json:"translationDate,omitempty"`
	Error           *ErrorPayload        `json:"error,omitempty"`
}

type StaleSource struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"_type,omitempty"`
	Lang string `json:"lang,omitempty"`
}

type StaleResponse struct {
	SourceDoc StaleSource       `json:"sourceDoc"`
	Targets   []TargetStaleness `json:"targets"`
}

type StaleRequest struct {
	SourceIDs   []string `json:"sourceDocIds"`
	TargetLangs []string `json:"targetLangs"`
}

// StaleTranslations reports, per source document and target language,
// whether the last committed translation still matches the source content
// at its tracked paths.
func (m *Manager) StaleTranslations(ctx context.Context, req StaleRequest) ([]StaleResponse, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if len(req.SourceIDs) == 0 {
		return nil, fmt.Errorf("%w: sourceDocIds is required", ErrInvalidRequest)
	}
	var langs []string
	for _, raw := range req.TargetLangs {
		if lang := strings.TrimSpace(raw); lang != "" {
			langs = append(langs, lang)
		}
	}
	if len(langs) == 0 {
		return nil, fmt.Errorf("%w: targetLangs is required", ErrInvalidRequest)
	}

	out := make([]StaleResponse, len(req.SourceIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for i, id := range req.SourceIDs {
		g.Go(func() error {
			out[i] = m.staleness(gctx, strings.TrimSpace(id), langs)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (m *Manager) staleness(ctx context.Context, id string, langs []string) StaleResponse {
	resp := StaleResponse{SourceDoc: StaleSource{ID: id}}
	fail := func(err error) StaleResponse {
		for _, lang := range langs {
			resp.Targets = append(resp.Targets, TargetStaleness{Lang: m.crossSystem(lang), Error: NewErrorPayload(err)})
		}
		return resp
	}

	source, err := m.store.Get(ctx, id)
	if err != nil {
		return fail(fmt.Errorf("load source document %s: %w", id, err))
	}
	resp.SourceDoc = StaleSource{ID: source.ID(), Rev: source.Rev(), Type: source.Type(), Lang: m.adapter.DocumentLang(source)}

	if !m.isTranslatable(source.Type()) {
		for _, lang := range langs {
			resp.Targets = append(resp.Targets, TargetStaleness{Lang: m.crossSystem(lang), Status: StaleUntranslatable})
		}
		return resp
	}

	tmds, err := m.TMDsFor(ctx, id)
	if err != nil {
		return fail(adapterError(AdapterFailedFetchingTMDs, err))
	}
	sourceTMDs := tmds[:0]
	for _, record := range tmds {
		if document.UndraftID(record.SourceDoc.Ref) == document.UndraftID(id) {
			sourceTMDs = append(sourceTMDs, record)
		}
	}

	for _, lang := range langs {
		resp.Targets = append(resp.Targets, m.targetStaleness(source, sourceTMDs, lang))
	}
	return resp
}

func (m *Manager) targetStaleness(source document.Document, tmds []*tmd.TMD, lang string) TargetStaleness {
	out := TargetStaleness{Lang: m.crossSystem(lang)}
	if tmd.HasUnfinished(tmds, lang) {
		out.Status = StaleOngoing
		return out
	}
	committed := tmd.CommittedFor(tmds, lang)
	if len(committed) == 0 {
		out.Status = StaleUntranslated
		return out
	}

	// every path is judged against the newest translation that covered it
	var (
		covered []document.Path
		changed []string
	)
	for _, record := range committed {
		snapshot, err := document.ParseSnapshot(record.SourceSnapshot)
		if err != nil {
			out.Error = NewErrorPayload(fmt.Errorf("read snapshot of %s: %w", record.ID, err))
			return out
		}
		paths, err := record.ParsedPaths()
		if err != nil {
			out.Error = NewErrorPayload(fmt.Errorf("parse paths of %s: %w", record.ID, err))
			return out
		}
		found := false
		for _, raw := range ChangedPaths(snapshot, source, paths) {
			p, err := document.ParsePath(raw)
			if err == nil && coveredBy(p, covered) {
				continue
			}
			changed = append(changed, raw)
			found = true
		}
		if found {
			out.TranslationDate = tmd.TranslationDate(record)
		}
		covered = append(covered, paths...)
	}

	if len(changed) == 0 {
		out.Status = StaleFresh
		return out
	}
	sort.Strings(changed)
	out.Status = StaleStale
	out.ChangedPaths = slices.Compact(changed)
	return out
}

func coveredBy(p document.Path, covered []document.Path) bool {
	for _, c := range covered {
		if p.HasPrefix(c) {
			return true
		}
	}
	return false
}

// ChangedPaths returns the tracked paths whose content differs between
// before and after. For the root path, the changed top-level fields are
// reported instead.
func ChangedPaths(before, after document.Document, tracked []document.Path) []string {
	ops := merge.Diff(before, after)
	seen := map[string]struct{}{}
	var out []string
	add := func(p string) {
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range tracked {
		for _, op := range ops {
			if len(op.Path) == 0 {
				continue
			}
			switch {
			case p.IsRoot():
				add(document.Path{op.Path[0]}.String())
			case op.Path.HasPrefix(p) || p.HasPrefix(op.Path):
				add(p.String())
			}
		}
	}
	sort.Strings(out)
	return out
}
