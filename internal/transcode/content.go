package transcode

import (
	"encoding/json"
	"fmt"
	"slices"

	"golang.org/x/net/html"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
)

// ContentInPhrase is the JSON file uploaded to and downloaded from the vendor.
// Values in ContentByPath are encoded; the context note is shown to linguists.
type ContentInPhrase struct {
	Context       string         `json:"_sanityContext,omitempty"`
	ContentByPath map[string]any `json:"contentByPath"`
}

// BuildContent encodes the values of doc at paths. A root path sends every
// non-system field of the document except the owned ones.
func BuildContent(doc document.Document, paths []document.Path, owned ...string) ContentInPhrase {
	content := ContentInPhrase{
		Context:       contextNote(doc),
		ContentByPath: make(map[string]any, len(paths)),
	}
	for _, p := range paths {
		if p.IsRoot() {
			root := map[string]any{}
			for k, v := range doc {
				if document.IsSystemKey(k) || slices.Contains(owned, k) {
					continue
				}
				root[k] = v
			}
			content.ContentByPath[p.String()] = Encode(root)
			continue
		}
		v, ok := document.Get(doc, p)
		if !ok {
			continue
		}
		content.ContentByPath[p.String()] = Encode(v)
	}
	return content
}

// Marshal renders the upload file.
func (c ContentInPhrase) Marshal() ([]byte, error) {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal vendor content: %w", err)
	}
	return raw, nil
}

// ExtractContent parses a downloaded target file.
func ExtractContent(payload []byte) (ContentInPhrase, error) {
	var content ContentInPhrase
	if err := json.Unmarshal(payload, &content); err != nil {
		return ContentInPhrase{}, fmt.Errorf("parse vendor content: %w", err)
	}
	if content.ContentByPath == nil {
		return ContentInPhrase{}, fmt.Errorf("parse vendor content: missing contentByPath")
	}
	return content, nil
}

// Decoded returns the decoded value for every path in the file.
func (c ContentInPhrase) Decoded() (map[string]any, error) {
	out := make(map[string]any, len(c.ContentByPath))
	for raw, v := range c.ContentByPath {
		p, err := document.ParsePath(raw)
		if err != nil {
			return nil, fmt.Errorf("decode vendor content: %w", err)
		}
		out[p.String()] = Decode(v)
	}
	return out, nil
}

func contextNote(doc document.Document) string {
	title := doc.String("title")
	if title == "" {
		title = doc.ID()
	}
	return fmt.Sprintf("<p>Content from <b>%s</b> (%s). Fields starting with _ are not translatable.</p>",
		html.EscapeString(title), html.EscapeString(doc.Type()))
}
