package i18n

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

const TranslationOfField = "translationOf"

// FieldLanguage pairs documents through a language field and a weak
// translationOf reference to the base document. No metadata documents are
// involved.
type FieldLanguage struct {
	store             contentstore.Store
	translatableTypes []string
	languageField     string
	langs             LangAdapter
}

func NewFieldLanguage(store contentstore.Store, translatableTypes []string, languageField string) *FieldLanguage {
	if languageField == "" {
		languageField = DefaultLanguageField
	}
	return &FieldLanguage{
		store:             store,
		translatableTypes: translatableTypes,
		languageField:     languageField,
		langs:             SeparatorLangAdapter{},
	}
}

func (a *FieldLanguage) Name() string { return NameFieldLanguage }

func (a *FieldLanguage) LangAdapter() LangAdapter { return a.langs }

func (a *FieldLanguage) InjectDocumentLang(doc document.Document, storeLang string) document.Document {
	out := doc.Clone()
	if out == nil {
		out = document.Document{}
	}
	out[a.languageField] = storeLang
	return out
}

func (a *FieldLanguage) DocumentLang(doc document.Document) string {
	return doc.String(a.languageField)
}

func (a *FieldLanguage) OwnedFields() []string {
	return []string{a.languageField, TranslationOfField}
}

// baseID returns the id every translation of doc points at.
func baseID(doc document.Document) string {
	if ref, ok := doc[TranslationOfField].(map[string]any); ok {
		if id, _ := ref[document.KeyRef].(string); id != "" {
			return document.UndraftID(id)
		}
	}
	return document.UndraftID(doc.ID())
}

// family loads the base document and every translation of it.
func (a *FieldLanguage) family(ctx context.Context, base string) ([]DocPair, error) {
	docs, err := a.store.GetMany(ctx, document.VariantIDs(base))
	if err != nil {
		return nil, fmt.Errorf("load base document %s: %w", base, err)
	}
	translations, err := a.store.Query(ctx, contentstore.Filter{Field: TranslationOfField + "._ref", Equals: base})
	if err != nil {
		return nil, fmt.Errorf("query translations of %s: %w", base, err)
	}
	return pairsByPublishedID(append(docs, translations...), a.DocumentLang), nil
}

func (a *FieldLanguage) GetOrCreateTranslatedDocuments(ctx context.Context, req Request) ([]DocPair, error) {
	sourceDocs, err := a.store.GetMany(ctx, document.VariantIDs(req.SourceID))
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", req.SourceID, err)
	}
	if len(sourceDocs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, req.SourceID)
	}
	base := baseID(sourceDocs[0])
	pairs, err := a.family(ctx, base)
	if err != nil {
		return nil, err
	}

	sourcePair, ok := findPair(pairs, req.SourceLang.Store)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoSourcePair, req.SourceID, req.SourceLang.Store)
	}
	toCopy := sourcePair.Prefer(document.IsDraft(req.SourceID))

	tx := contentstore.NewTransaction()
	var created []DocPair
	for _, lang := range req.TargetLangs {
		if _, exists := findPair(pairs, lang.Store); exists {
			continue
		}
		doc := a.InjectDocumentLang(newTranslationCopy(toCopy, document.DraftID(uuid.NewString())), lang.Store)
		doc[TranslationOfField] = map[string]any{
			document.KeyType: "reference",
			document.KeyRef:  base,
			document.KeyWeak: true,
		}
		tx.Create(doc)
		created = append(created, DocPair{Lang: lang.Store, Draft: doc})
	}
	if len(created) == 0 {
		return pairs, nil
	}
	result, err := a.store.Commit(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("create translated documents: %w", err)
	}
	attachRevisions(created, result.Revision)
	return append(pairs, created...), nil
}

func (a *FieldLanguage) TranslatedReferences(ctx context.Context, refs []string, targetLang string) (tmd.ReferenceMap, error) {
	out := tmd.ReferenceMap{}
	if len(refs) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(refs)*2)
	for _, ref := range refs {
		ids = append(ids, document.VariantIDs(ref)...)
	}
	docs, err := a.store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load referenced documents: %w", err)
	}
	byPublished := map[string]document.Document{}
	for _, doc := range docs {
		id := document.UndraftID(doc.ID())
		if _, seen := byPublished[id]; !seen {
			byPublished[id] = doc
		}
	}

	for _, ref := range refs {
		id := document.UndraftID(ref)
		doc, found := byPublished[id]
		switch {
		case !found:
			out[id] = tmd.DocNotFound()
			continue
		case !contains(a.translatableTypes, doc.Type()):
			out[id] = tmd.Untranslatable()
			continue
		}

		pairs, err := a.family(ctx, baseID(doc))
		if err != nil {
			return nil, err
		}
		pair, ok := findPair(pairs, targetLang)
		if !ok {
			out[id] = tmd.Resolved("", doc.Type(), tmd.RefStatePublished)
			continue
		}
		out[id] = tmd.Resolved(pair.PublishedID(), doc.Type(), tmd.StateOf(pair.Draft != nil, pair.Published != nil))
	}
	return out, nil
}
