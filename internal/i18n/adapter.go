// Package i18n abstracts how the content store pairs documents across
// languages. Adapters are selected by name from configuration.
package i18n

import (
	"context"
	"errors"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

const (
	NameDocumentInternationalization = "document-internationalization"
	NameFieldLanguage                = "field"

	DefaultLanguageField = "language"
)

var (
	ErrSourceNotFound = errors.New("source document not found")
	ErrNoSourcePair   = errors.New("fresh source document not found")
)

// LangAdapter converts language codes between the content store and the
// vendor.
type LangAdapter interface {
	ToVendor(storeLang string) string
	ToStore(vendorLang string) string
}

// SeparatorLangAdapter maps pt_BR to pt-BR and back.
type SeparatorLangAdapter struct{}

func (SeparatorLangAdapter) ToVendor(storeLang string) string { return language.ToVendor(storeLang) }
func (SeparatorLangAdapter) ToStore(vendorLang string) string { return language.ToStore(vendorLang) }

// CrossSystem pairs a store code with its vendor spelling using la.
func CrossSystem(la LangAdapter, storeLang string) language.CrossSystem {
	return language.CrossSystem{Store: storeLang, Vendor: la.ToVendor(storeLang)}
}

// DocPair is the draft and published variants of one language version.
// Either side may be nil.
type DocPair struct {
	Lang      string            `json:"lang"`
	Draft     document.Document `json:"draft,omitempty"`
	Published document.Document `json:"published,omitempty"`
}

// PublishedID returns the shared published id of the pair.
func (p DocPair) PublishedID() string {
	if p.Published != nil {
		return p.Published.ID()
	}
	if p.Draft != nil {
		return document.UndraftID(p.Draft.ID())
	}
	return ""
}

// Prefer returns the draft when draftFirst is set and a draft exists,
// otherwise the published variant, falling back to whichever exists.
func (p DocPair) Prefer(draftFirst bool) document.Document {
	if draftFirst && p.Draft != nil {
		return p.Draft
	}
	if p.Published != nil {
		return p.Published
	}
	return p.Draft
}

// IsEmpty reports whether neither variant exists.
func (p DocPair) IsEmpty() bool {
	return p.Draft == nil && p.Published == nil
}

// Docs returns the existing variants, published first.
func (p DocPair) Docs() []document.Document {
	var out []document.Document
	if p.Published != nil {
		out = append(out, p.Published)
	}
	if p.Draft != nil {
		out = append(out, p.Draft)
	}
	return out
}

// Request asks an adapter for the documents of every target language.
type Request struct {
	// SourceID is the id the translation was requested from; a draft id
	// makes the draft variant the one to copy.
	SourceID    string
	SourceType  string
	SourceLang  language.CrossSystem
	TargetLangs []language.CrossSystem
}

// Adapter is the capability set every i18n strategy provides.
type Adapter interface {
	Name() string
	InjectDocumentLang(doc document.Document, storeLang string) document.Document
	DocumentLang(doc document.Document) string
	// OwnedFields lists the top-level fields the adapter maintains on every
	// language version. They are never translated or merged.
	OwnedFields() []string
	// GetOrCreateTranslatedDocuments returns a pair for the source and every
	// target language, creating missing target documents in one transaction.
	GetOrCreateTranslatedDocuments(ctx context.Context, req Request) ([]DocPair, error)
	// TranslatedReferences resolves referenced ids to their counterparts in
	// targetLang.
	TranslatedReferences(ctx context.Context, refs []string, targetLang string) (tmd.ReferenceMap, error)
	LangAdapter() LangAdapter
}

// pairsByPublishedID groups documents into draft/published pairs. Pairs
// keep the order in which their first variant appeared.
func pairsByPublishedID(docs []document.Document, langOf func(document.Document) string) []DocPair {
	index := map[string]int{}
	var pairs []DocPair
	for _, doc := range docs {
		id := document.UndraftID(doc.ID())
		i, ok := index[id]
		if !ok {
			i = len(pairs)
			index[id] = i
			pairs = append(pairs, DocPair{})
		}
		if document.IsDraft(doc.ID()) {
			pairs[i].Draft = doc
		} else {
			pairs[i].Published = doc
		}
		if pairs[i].Lang == "" {
			pairs[i].Lang = langOf(doc)
		}
	}
	return pairs
}

// findPair returns the pair for storeLang.
func findPair(pairs []DocPair, storeLang string) (DocPair, bool) {
	for _, p := range pairs {
		if p.Lang == storeLang && !p.IsEmpty() {
			return p, true
		}
	}
	return DocPair{}, false
}

// newTranslationCopy prepares a new draft document for lang copied from src.
func newTranslationCopy(src document.Document, id string) document.Document {
	doc := src.Clone()
	delete(doc, document.KeyRev)
	delete(doc, document.KeyCreatedAt)
	delete(doc, document.KeyUpdatedAt)
	delete(doc, document.MetadataKey)
	doc[document.KeyID] = id
	return doc
}

// attachRevisions copies the revisions written by a commit onto docs.
func attachRevisions(pairs []DocPair, written func(id string) string) {
	for i := range pairs {
		for _, doc := range pairs[i].Docs() {
			if rev := written(doc.ID()); rev != "" {
				doc[document.KeyRev] = rev
			}
		}
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
