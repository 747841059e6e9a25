package i18n

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
)

const (
	MetadataDocType      = "translation.metadata"
	metadataArrayField   = "translations"
	translationValueType = "internationalizedArrayReferenceValue"
)

// DocumentInternationalization pairs documents through translation.metadata
// documents holding translations[] {_key: lang, value: reference}.
type DocumentInternationalization struct {
	store             contentstore.Store
	translatableTypes []string
	languageField     string
	weakReferences    bool
	langs             LangAdapter
}

type DocumentInternationalizationOptions struct {
	TranslatableTypes []string
	LanguageField     string
	// StrengthenOnPublish adds _strengthenOnPublish to new metadata references.
	StrengthenOnPublish bool
}

func NewDocumentInternationalization(store contentstore.Store, opts DocumentInternationalizationOptions) *DocumentInternationalization {
	field := opts.LanguageField
	if field == "" {
		field = DefaultLanguageField
	}
	return &DocumentInternationalization{
		store:             store,
		translatableTypes: opts.TranslatableTypes,
		languageField:     field,
		weakReferences:    !opts.StrengthenOnPublish,
		langs:             SeparatorLangAdapter{},
	}
}

func (a *DocumentInternationalization) Name() string { return NameDocumentInternationalization }

func (a *DocumentInternationalization) LangAdapter() LangAdapter { return a.langs }

func (a *DocumentInternationalization) InjectDocumentLang(doc document.Document, storeLang string) document.Document {
	out := doc.Clone()
	if out == nil {
		out = document.Document{}
	}
	out[a.languageField] = storeLang
	return out
}

func (a *DocumentInternationalization) DocumentLang(doc document.Document) string {
	return doc.String(a.languageField)
}

func (a *DocumentInternationalization) OwnedFields() []string {
	return []string{a.languageField}
}

type metadataEntry struct {
	Key   string       `json:"_key"`
	Value document.Ref `json:"value"`
}

type metadataDoc struct {
	ID           string          `json:"_id"`
	Translations []metadataEntry `json:"translations"`
}

// metadataFor finds the metadata document referencing any of ids.
func (a *DocumentInternationalization) metadataFor(ctx context.Context, ids ...string) (*metadataDoc, error) {
	docs, err := a.store.Query(ctx, contentstore.Filter{Types: []string{MetadataDocType}, References: ids})
	if err != nil {
		return nil, fmt.Errorf("query translation metadata: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var meta metadataDoc
	if err := docs[0].Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode translation metadata %s: %w", docs[0].ID(), err)
	}
	return &meta, nil
}

func (a *DocumentInternationalization) GetOrCreateTranslatedDocuments(ctx context.Context, req Request) ([]DocPair, error) {
	publishedID := document.UndraftID(req.SourceID)
	meta, err := a.metadataFor(ctx, document.VariantIDs(publishedID)...)
	if err != nil {
		return nil, err
	}

	var pairs []DocPair
	if meta != nil {
		pairs, err = a.pairsFromMetadata(ctx, meta)
	} else {
		var docs []document.Document
		docs, err = a.store.GetMany(ctx, document.VariantIDs(publishedID))
		if len(docs) == 0 && err == nil {
			err = fmt.Errorf("%w: %s", ErrSourceNotFound, publishedID)
		}
		pairs = pairsByPublishedID(docs, a.DocumentLang)
	}
	if err != nil {
		return nil, err
	}

	sourcePair, ok := findPair(pairs, req.SourceLang.Store)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoSourcePair, publishedID, req.SourceLang.Store)
	}
	toCopy := sourcePair.Prefer(document.IsDraft(req.SourceID))

	tx := contentstore.NewTransaction()
	var created []DocPair
	var newRefs []any
	for _, lang := range req.TargetLangs {
		if _, exists := findPair(pairs, lang.Store); exists {
			continue
		}
		newID := uuid.NewString()
		doc := a.InjectDocumentLang(newTranslationCopy(toCopy, document.DraftID(newID)), lang.Store)
		tx.Create(doc)
		created = append(created, DocPair{Lang: lang.Store, Draft: doc})
		newRefs = append(newRefs, a.translationReference(lang.Store, newID, toCopy.Type()))
	}
	if len(created) == 0 {
		return pairs, nil
	}

	if meta != nil {
		patch := contentstore.Patch{
			ID:     meta.ID,
			Insert: &contentstore.Insert{Position: contentstore.InsertAfter, At: metadataArrayField + "[-1]", Items: newRefs},
		}
		for _, pair := range created {
			patch.Unset = append(patch.Unset, metadataArrayField+"[_key=="+strconv.Quote(pair.Lang)+"]")
		}
		tx.Patch(patch)
	} else {
		items := append([]any{a.translationReference(req.SourceLang.Store, publishedID, toCopy.Type())}, newRefs...)
		tx.Create(document.Document{
			document.KeyID:     uuid.NewString(),
			document.KeyType:   MetadataDocType,
			metadataArrayField: items,
			"schemaTypes":      []any{toCopy.Type()},
		})
	}

	result, err := a.store.Commit(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("create translated documents: %w", err)
	}
	attachRevisions(created, result.Revision)
	return append(pairs, created...), nil
}

func (a *DocumentInternationalization) pairsFromMetadata(ctx context.Context, meta *metadataDoc) ([]DocPair, error) {
	ids := make([]string, 0, len(meta.Translations)*2)
	for _, entry := range meta.Translations {
		if entry.Value.Ref == "" {
			continue
		}
		ids = append(ids, document.VariantIDs(entry.Value.Ref)...)
	}
	docs, err := a.store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load translations of %s: %w", meta.ID, err)
	}
	byID := make(map[string]document.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID()] = doc
	}

	var pairs []DocPair
	for _, entry := range meta.Translations {
		ref := document.UndraftID(entry.Value.Ref)
		pair := DocPair{Lang: entry.Key, Published: byID[ref], Draft: byID[document.DraftID(ref)]}
		// metadata references are weak and may dangle
		if pair.IsEmpty() {
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func (a *DocumentInternationalization) translationReference(lang, id, typ string) map[string]any {
	value := map[string]any{
		document.KeyType: "reference",
		document.KeyRef:  document.UndraftID(id),
		document.KeyWeak: true,
	}
	if !a.weakReferences {
		value[document.KeyStrengthenOnPublish] = map[string]any{"type": typ}
	}
	return map[string]any{
		document.KeyKey:  lang,
		document.KeyType: translationValueType,
		"value":          value,
	}
}

func (a *DocumentInternationalization) TranslatedReferences(ctx context.Context, refs []string, targetLang string) (tmd.ReferenceMap, error) {
	out := tmd.ReferenceMap{}
	if len(refs) == 0 {
		return out, nil
	}

	types, err := variantTypes(ctx, a.store, refs)
	if err != nil {
		return nil, err
	}

	for _, ref := range refs {
		id := document.UndraftID(ref)
		typ, found := types[id]
		switch {
		case !found:
			out[id] = tmd.DocNotFound()
			continue
		case !contains(a.translatableTypes, typ):
			out[id] = tmd.Untranslatable()
			continue
		}

		meta, err := a.metadataFor(ctx, document.VariantIDs(id)...)
		if err != nil {
			return nil, err
		}
		var translationID string
		if meta != nil {
			for _, entry := range meta.Translations {
				if entry.Key == targetLang {
					translationID = document.UndraftID(entry.Value.Ref)
					break
				}
			}
		}
		state, err := variantState(ctx, a.store, translationID)
		if err != nil {
			return nil, err
		}
		out[id] = tmd.Resolved(translationID, typ, state)
	}
	return out, nil
}

// variantTypes returns the _type of every id that exists as draft or
// published, keyed by published id.
func variantTypes(ctx context.Context, store contentstore.Store, refs []string) (map[string]string, error) {
	ids := make([]string, 0, len(refs)*2)
	for _, ref := range refs {
		ids = append(ids, document.VariantIDs(ref)...)
	}
	docs, err := store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load referenced documents: %w", err)
	}
	types := make(map[string]string, len(docs))
	for _, doc := range docs {
		id := document.UndraftID(doc.ID())
		if _, seen := types[id]; !seen {
			types[id] = doc.Type()
		}
	}
	return types, nil
}

// variantState reports which variants of id exist. An empty id yields
// published, matching how untranslated references are stored.
func variantState(ctx context.Context, store contentstore.Store, id string) (tmd.RefState, error) {
	if id == "" {
		return tmd.RefStatePublished, nil
	}
	docs, err := store.GetMany(ctx, document.VariantIDs(id))
	if err != nil {
		return "", fmt.Errorf("load translation %s: %w", id, err)
	}
	var hasDraft, hasPublished bool
	for _, doc := range docs {
		if document.IsDraft(doc.ID()) {
			hasDraft = true
		} else {
			hasPublished = true
		}
	}
	return tmd.StateOf(hasDraft, hasPublished), nil
}
