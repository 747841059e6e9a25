// Package references walks the reference graph of a document and reports
// which referenced documents are translatable.
package references

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
)

const (
	DefaultMaxDepth    = 3
	DefaultConcurrency = 2
)

type Options struct {
	TranslatableTypes []string
	// MaxDepth bounds traversal. The root document is depth 1 and references
	// found on documents at MaxDepth are recorded but not fetched.
	MaxDepth int
	// DraftPrecedence makes a draft drive the references of a document that
	// also has a published version.
	DraftPrecedence bool
	Concurrency     int
}

// Occurrence records one place a document is referenced from.
type Occurrence struct {
	RefBy string `json:"refBy"`
	Depth int    `json:"depth"`
}

// Entry is a referenced document. Draft and published variants share one
// entry keyed by the published id.
type Entry struct {
	ID           string            `json:"id"`
	Document     document.Document `json:"document,omitempty"`
	Translatable bool              `json:"translatable"`
	References   []string          `json:"references,omitempty"`
	Occurrences  []Occurrence      `json:"occurrences,omitempty"`
	MinDepth     int               `json:"minDepth"`
	MaxDepth     int               `json:"maxDepth"`

	fetched bool
	failed  bool
}

type Result struct {
	// Documents holds translatable referenced documents, root excluded,
	// ordered by depth then id.
	Documents      []Entry          `json:"documents"`
	Untranslatable []string         `json:"untranslatable,omitempty"`
	NotFound       []string         `json:"notFound,omitempty"`
	Errors         map[string]error `json:"-"`
}

// Resolver walks references breadth first, one level at a time.
type Resolver struct {
	store  contentstore.Store
	opts   Options
	logger zerolog.Logger
}

func NewResolver(store contentstore.Store, opts Options, logger zerolog.Logger) *Resolver {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Concurrency <= 0 || opts.Concurrency > DefaultConcurrency {
		opts.Concurrency = DefaultConcurrency
	}
	return &Resolver{store: store, opts: opts, logger: logger}
}

type walk struct {
	mu      sync.Mutex
	entries map[string]*Entry
	rootID  string
	errors  map[string]error
}

type frontierItem struct {
	id    string
	depth int
	refs  []string
}

// Resolve collects the documents referenced by root. When paths is not
// empty only the values at those paths of root are scanned. Fetch errors are
// recorded per document and never stop sibling expansions.
func (r *Resolver) Resolve(ctx context.Context, root document.Document, paths []document.Path) (Result, error) {
	if root == nil || root.ID() == "" {
		return Result{}, fmt.Errorf("resolve references: root document has no id")
	}

	w := &walk{
		entries: map[string]*Entry{},
		rootID:  document.UndraftID(root.ID()),
		errors:  map[string]error{},
	}
	var rootRefs []string
	if len(paths) > 0 {
		rootRefs = document.ParseReferencesAtPaths(root, paths)
	} else {
		rootRefs = document.ParseReferences(map[string]any(root))
	}
	rootRefs = undraftAll(rootRefs)
	w.entries[w.rootID] = &Entry{ID: w.rootID, Document: root, Translatable: true, References: rootRefs, MinDepth: 1, MaxDepth: 1, fetched: true}

	frontier := []frontierItem{{id: w.rootID, depth: 1, refs: rootRefs}}
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		claims := w.record(frontier, r.opts.MaxDepth)

		next := make([][]frontierItem, len(claims))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Concurrency)
		for i, claim := range claims {
			g.Go(func() error {
				next[i] = r.expand(gctx, w, claim)
				return nil
			})
		}
		_ = g.Wait()

		frontier = frontier[:0]
		for _, items := range next {
			frontier = append(frontier, items...)
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return w.result(), nil
}

type claim struct {
	parent string
	depth  int
	ids    []string
}

// record adds an occurrence for every reference in the frontier and claims
// unseen ids for fetching while depth allows it.
func (w *walk) record(frontier []frontierItem, maxDepth int) []claim {
	w.mu.Lock()
	defer w.mu.Unlock()

	var claims []claim
	for _, item := range frontier {
		depth := item.depth + 1
		c := claim{parent: item.id, depth: depth}
		for _, ref := range item.refs {
			entry, ok := w.entries[ref]
			if !ok {
				if item.depth >= maxDepth {
					continue
				}
				entry = &Entry{ID: ref, MinDepth: depth, MaxDepth: depth}
				w.entries[ref] = entry
				c.ids = append(c.ids, ref)
			}
			if ref == w.rootID {
				continue
			}
			entry.Occurrences = append(entry.Occurrences, Occurrence{RefBy: item.id, Depth: depth})
			if depth < entry.MinDepth {
				entry.MinDepth = depth
			}
			if depth > entry.MaxDepth {
				entry.MaxDepth = depth
			}
		}
		if len(c.ids) > 0 {
			claims = append(claims, c)
		}
	}
	return claims
}

func (r *Resolver) expand(ctx context.Context, w *walk, c claim) []frontierItem {
	ids := make([]string, 0, len(c.ids)*2)
	for _, id := range c.ids {
		ids = append(ids, document.VariantIDs(id)...)
	}
	docs, err := r.store.GetMany(ctx, ids)
	if err != nil {
		r.logger.Warn().Err(err).Str("doc_id", c.parent).Msg("reference fetch failed")
		w.mu.Lock()
		w.errors[c.parent] = fmt.Errorf("fetch references of %s: %w", c.parent, err)
		for _, id := range c.ids {
			w.entries[id].failed = true
		}
		w.mu.Unlock()
		return nil
	}

	byID := make(map[string]document.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID()] = doc
	}

	var next []frontierItem
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range c.ids {
		doc := r.pick(byID[id], byID[document.DraftID(id)])
		entry := w.entries[id]
		if doc == nil {
			continue
		}
		entry.Document = doc
		entry.fetched = true
		if !contains(r.opts.TranslatableTypes, doc.Type()) {
			continue
		}
		entry.Translatable = true
		entry.References = undraftAll(document.ParseReferences(map[string]any(doc)))
		next = append(next, frontierItem{id: id, depth: c.depth, refs: entry.References})
	}
	return next
}

func (r *Resolver) pick(published, draft document.Document) document.Document {
	if r.opts.DraftPrecedence && draft != nil {
		return draft
	}
	if published != nil {
		return published
	}
	return draft
}

func (w *walk) result() Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	res := Result{Errors: w.errors}
	for id, entry := range w.entries {
		if id == w.rootID {
			continue
		}
		switch {
		case entry.failed:
		case !entry.fetched:
			res.NotFound = append(res.NotFound, id)
		case !entry.Translatable:
			res.Untranslatable = append(res.Untranslatable, id)
		default:
			res.Documents = append(res.Documents, *entry)
		}
	}
	sort.Slice(res.Documents, func(i, j int) bool {
		if res.Documents[i].MinDepth != res.Documents[j].MinDepth {
			return res.Documents[i].MinDepth < res.Documents[j].MinDepth
		}
		return res.Documents[i].ID < res.Documents[j].ID
	})
	sort.Strings(res.Untranslatable)
	sort.Strings(res.NotFound)
	return res
}

// IDs returns the ids of the translatable documents in the result.
func (r Result) IDs() []string {
	out := make([]string, len(r.Documents))
	for i, entry := range r.Documents {
		out[i] = entry.ID
	}
	return out
}

// Entry looks up a translatable document by id.
func (r Result) Entry(id string) (Entry, bool) {
	id = document.UndraftID(id)
	for _, entry := range r.Documents {
		if entry.ID == id {
			return entry, true
		}
	}
	return Entry{}, false
}

func undraftAll(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = document.UndraftID(id)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
