package tmd

import (
	"fmt"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
)

// PTDMetadata is stored under phraseMetadata on every PTD.
type PTDMetadata struct {
	Type        string               `json:"_type"`
	SourceDoc   document.Ref         `json:"sourceDoc"`
	TargetDoc   document.Ref         `json:"targetDoc"`
	TMD         document.Ref         `json:"tmd"`
	TargetLang  language.CrossSystem `json:"targetLang"`
	Deleted     bool                 `json:"deleted,omitempty"`
	RefreshedAt string               `json:"refreshedAt,omitempty"`
}

// IsPTD reports whether doc is a PTD.
func IsPTD(doc document.Document) bool {
	if !document.IsPtdID(doc.ID()) {
		return false
	}
	meta, ok := doc[document.MetadataKey].(map[string]any)
	if !ok {
		return false
	}
	t, _ := meta[document.KeyType].(string)
	return t == document.PtdMetaType
}

// PTDMetadataOf decodes the metadata of a PTD.
func PTDMetadataOf(doc document.Document) (*PTDMetadata, error) {
	if !IsPTD(doc) {
		return nil, fmt.Errorf("document %q is not a PTD", doc.ID())
	}
	var wrapper struct {
		Meta PTDMetadata `json:"phraseMetadata"`
	}
	if err := doc.Decode(&wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Meta, nil
}

// NewPTD builds the initial working copy for one target: a copy of the
// target document's current content under the deterministic PTD id.
func NewPTD(ptdID string, targetDoc document.Document, meta PTDMetadata) (document.Document, error) {
	meta.Type = document.PtdMetaType
	metaValue, err := document.Normalize(meta)
	if err != nil {
		return nil, fmt.Errorf("encode ptd metadata: %w", err)
	}

	ptd := targetDoc.Clone()
	if ptd == nil {
		ptd = document.Document{}
	}
	delete(ptd, document.KeyRev)
	delete(ptd, document.KeyCreatedAt)
	delete(ptd, document.KeyUpdatedAt)
	ptd[document.KeyID] = ptdID
	ptd[document.MetadataKey] = metaValue
	return ptd, nil
}
