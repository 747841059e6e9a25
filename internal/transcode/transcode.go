// Package transcode converts document values into the vendor wire format and
// back. Strings are entity-escaped and rich-text blocks are flattened into
// keyed markup plus side-channel metadata.
package transcode

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
)

const (
	blockType = "block"
	spanType  = "span"

	spanTag        = "s"
	inlineBlockTag = "c-b"
	keyAttr        = "data-key"

	fieldBlockMeta      = "_blockMeta"
	fieldSpanMeta       = "_spanMeta"
	fieldInlineBlocks   = "inlineBlocksData"
	fieldSerializedHTML = "serializedHtml"
	fieldMarkDefs       = "markDefs"
	fieldChildren       = "children"
	fieldText           = "text"
	// set on serialized blocks whose source had no children field
	fieldNoChildren = "_noChildren"
)

// Encode converts a value into its wire form. Keys starting with "_" are
// copied untouched since the vendor does not present them for translation.
func Encode(v any) any {
	switch typed := v.(type) {
	case string:
		return html.EscapeString(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = Encode(item)
		}
		return out
	case document.Document:
		return Encode(map[string]any(typed))
	case map[string]any:
		if t, _ := typed[document.KeyType].(string); t == blockType {
			if _, isSerialized := typed[fieldSerializedHTML]; !isSerialized {
				return encodeBlock(typed)
			}
		}
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			if strings.HasPrefix(k, "_") {
				out[k] = document.DeepCopy(val)
				continue
			}
			out[k] = Encode(val)
		}
		return out
	default:
		return v
	}
}

// Decode reverses Encode.
func Decode(v any) any {
	switch typed := v.(type) {
	case string:
		return html.UnescapeString(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = Decode(item)
		}
		return out
	case document.Document:
		return Decode(map[string]any(typed))
	case map[string]any:
		if isSerializedBlock(typed) {
			return decodeBlock(typed)
		}
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			if strings.HasPrefix(k, "_") {
				out[k] = document.DeepCopy(val)
				continue
			}
			out[k] = Decode(val)
		}
		return out
	default:
		return v
	}
}

func isSerializedBlock(m map[string]any) bool {
	if t, _ := m[document.KeyType].(string); t != blockType {
		return false
	}
	_, ok := m[fieldSerializedHTML].(string)
	return ok
}

// childKey returns the key a child is addressed by in markup. Children
// without a _key get a positional one that never reaches the decoded block.
func childKey(child map[string]any, position int) string {
	if k, _ := child[document.KeyKey].(string); k != "" {
		return k
	}
	return fmt.Sprintf("__pos%d", position)
}

func encodeBlock(block map[string]any) map[string]any {
	blockMeta := make(map[string]any, len(block))
	for k, val := range block {
		if k == fieldChildren || k == fieldMarkDefs {
			continue
		}
		blockMeta[k] = document.DeepCopy(val)
	}

	spanMeta := map[string]any{}
	inlineBlocks := map[string]any{}
	children, _ := block[fieldChildren].([]any)
	lines := make([]string, 0, len(children))
	for i, raw := range children {
		child, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key := childKey(child, i)
		escapedKey := html.EscapeString(key)
		if t, _ := child[document.KeyType].(string); t == spanType {
			meta := make(map[string]any, len(child))
			for k, val := range child {
				if k == fieldText {
					continue
				}
				meta[k] = document.DeepCopy(val)
			}
			spanMeta[key] = meta
			text, _ := child[fieldText].(string)
			lines = append(lines, fmt.Sprintf(`<%s %s="%s">%s</%s>`, spanTag, keyAttr, escapedKey, html.EscapeString(text), spanTag))
			continue
		}
		inlineBlocks[key] = Encode(child)
		lines = append(lines, fmt.Sprintf(`<%s %s="%s"></%s>`, inlineBlockTag, keyAttr, escapedKey, inlineBlockTag))
	}

	out := map[string]any{
		document.KeyType:    blockType,
		fieldBlockMeta:      blockMeta,
		fieldSpanMeta:       spanMeta,
		fieldInlineBlocks:   inlineBlocks,
		fieldSerializedHTML: strings.Join(lines, "\n"),
	}
	if markDefs, ok := block[fieldMarkDefs]; ok {
		out[fieldMarkDefs] = Encode(markDefs)
	}
	if _, ok := block[fieldChildren]; !ok {
		out[fieldNoChildren] = true
	}
	return out
}

func decodeBlock(serialized map[string]any) map[string]any {
	out := map[string]any{}
	if meta, ok := serialized[fieldBlockMeta].(map[string]any); ok {
		for k, val := range meta {
			out[k] = document.DeepCopy(val)
		}
	}
	out[document.KeyType] = blockType

	spanMeta, _ := serialized[fieldSpanMeta].(map[string]any)
	inlineBlocks, _ := serialized[fieldInlineBlocks].(map[string]any)
	markup, _ := serialized[fieldSerializedHTML].(string)

	children := []any{}
	for _, node := range parseMarkup(markup) {
		switch node.tag {
		case spanTag:
			meta, ok := spanMeta[node.key].(map[string]any)
			if !ok {
				continue
			}
			span := make(map[string]any, len(meta)+1)
			for k, val := range meta {
				span[k] = document.DeepCopy(val)
			}
			span[fieldText] = node.text
			children = append(children, span)
		case inlineBlockTag:
			data, ok := inlineBlocks[node.key]
			if !ok {
				continue
			}
			children = append(children, Decode(data))
		}
	}
	if absent, _ := serialized[fieldNoChildren].(bool); !absent || len(children) > 0 {
		out[fieldChildren] = children
	}

	if markDefs, ok := serialized[fieldMarkDefs]; ok {
		out[fieldMarkDefs] = Decode(markDefs)
	}
	return out
}

type markupNode struct {
	tag  string
	key  string
	text string
}

// parseMarkup tokenizes serialized block markup into keyed nodes. Text found
// outside any keyed tag is attached to the preceding span, since the vendor
// may move characters across tag boundaries.
func parseMarkup(markup string) []markupNode {
	var (
		nodes []markupNode
		open  = -1
		depth int
	)
	appendText := func(text string) {
		if open >= 0 {
			nodes[open].text += text
			return
		}
		if strings.TrimSpace(text) == "" {
			return
		}
		for i := len(nodes) - 1; i >= 0; i-- {
			if nodes[i].tag == spanTag {
				nodes[i].text += text
				return
			}
		}
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return nodes
		case html.TextToken:
			appendText(string(z.Text()))
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag != spanTag && tag != inlineBlockTag {
				if open >= 0 && tt == html.StartTagToken {
					depth++
				}
				continue
			}
			key := ""
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				if string(k) == keyAttr {
					key = string(v)
				}
			}
			nodes = append(nodes, markupNode{tag: tag, key: key})
			if tt == html.StartTagToken && tag == spanTag {
				open = len(nodes) - 1
				depth = 0
			} else {
				open = -1
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if open >= 0 && tag != spanTag && depth > 0 {
				depth--
				continue
			}
			if tag == spanTag {
				open = -1
			}
		}
	}
}
