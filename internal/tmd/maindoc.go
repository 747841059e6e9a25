package tmd

import (
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
)

const (
	MainMetaType        = "phrase.main.meta"
	MainTranslationType = "phrase.mainDoc.translation"
	TargetType          = "phrase.tmd.target"
	JobType             = "phrase.job"
)

// MainDocTranslation is the per-request entry kept under
// phraseMetadata.translations on source and target main documents.
type MainDocTranslation struct {
	Key          string                 `json:"_key"`
	Type         string                 `json:"_type"`
	CreatedAt    string                 `json:"_createdAt"`
	SourceDocRev string                 `json:"sourceDocRev"`
	Paths        []string               `json:"paths"`
	Status       Status                 `json:"status"`
	TMD          document.Ref           `json:"tmd"`
	TargetLangs  []language.CrossSystem `json:"targetLangs"`
}

// MainDocEntry builds the metadata entry for t.
func MainDocEntry(t *TMD, createdAt string) MainDocTranslation {
	langs := make([]language.CrossSystem, 0, len(t.Targets))
	for _, target := range t.Targets {
		langs = append(langs, target.Lang)
	}
	return MainDocTranslation{
		Key:          t.TranslationKey,
		Type:         MainTranslationType,
		CreatedAt:    createdAt,
		SourceDocRev: t.SourceDocRev,
		Paths:        t.Paths,
		Status:       t.Status,
		TMD:          document.NewWeakRef(t.ID),
		TargetLangs:  langs,
	}
}

// MainDocTranslationsPath is where main documents keep translation entries.
const MainDocTranslationsPath = document.MetadataKey + ".translations"

// MainDocStatusPath addresses the status of one translation entry.
func MainDocStatusPath(translationKey string) string {
	return document.Path{
		document.Field(document.MetadataKey),
		document.Field("translations"),
		document.Key(translationKey),
		document.Field("status"),
	}.String()
}

// MainDocStatus returns the status of the entry for translationKey on doc.
func MainDocStatus(doc document.Document, translationKey string) (Status, bool) {
	v, ok := document.Get(doc, document.MustParsePath(MainDocStatusPath(translationKey)))
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return Status(s), true
}
