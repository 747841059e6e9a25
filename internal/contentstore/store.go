// Package contentstore is the document store the sync engine reads from and
// writes to. Writes go through all-or-nothing transactions with optional
// revision checks.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrAlreadyExists    = errors.New("document already exists")
	ErrRevisionMismatch = errors.New("document revision mismatch")
	ErrInvalidMutation  = errors.New("invalid mutation")
)

// Store is the content-store collaborator.
type Store interface {
	// Get returns ErrNotFound when the id does not exist.
	Get(ctx context.Context, id string) (document.Document, error)
	// GetMany returns the documents that exist, in the order of ids.
	GetMany(ctx context.Context, ids []string) ([]document.Document, error)
	Query(ctx context.Context, filter Filter) ([]document.Document, error)
	Commit(ctx context.Context, tx *Transaction) (CommitResult, error)
}

// Filter selects documents. Empty fields do not constrain the result.
type Filter struct {
	Types []string
	IDs   []string
	// References keeps documents containing a reference to any of these ids.
	References []string
	// Field is a path string compared with Equals.
	Field  string
	Equals any
}

// CommitResult lists the documents a transaction wrote.
type CommitResult struct {
	TransactionID string
	Documents     []document.Document
	Deleted       []string
}

// Document returns the written state of id, if the transaction touched it.
func (r CommitResult) Document(id string) (document.Document, bool) {
	for _, doc := range r.Documents {
		if doc.ID() == id {
			return doc, true
		}
	}
	return nil, false
}

// Revision returns the revision written for id.
func (r CommitResult) Revision(id string) string {
	doc, _ := r.Document(id)
	return doc.Rev()
}

// TxError wraps the reason a transaction was rejected.
type TxError struct {
	TransactionID string
	MutationIndex int
	DocumentID    string
	Err           error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s rejected at mutation %d (%s): %v", e.TransactionID, e.MutationIndex, e.DocumentID, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// Tag classifies the failure for API payloads.
func (e *TxError) Tag() string {
	switch {
	case errors.Is(e.Err, ErrRevisionMismatch):
		return "RevisionMismatchError"
	case errors.Is(e.Err, ErrNotFound):
		return "DocumentNotFoundError"
	case errors.Is(e.Err, ErrAlreadyExists):
		return "DocumentExistsError"
	default:
		return "TransactionError"
	}
}

// matches evaluates f against doc in memory. PGStore pushes the same
// conditions down to SQL.
func (f Filter) matches(doc document.Document) bool {
	if len(f.Types) > 0 && !contains(f.Types, doc.Type()) {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, doc.ID()) {
		return false
	}
	if len(f.References) > 0 {
		refs := document.ParseReferences(map[string]any(doc))
		found := false
		for _, ref := range refs {
			if contains(f.References, ref) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if strings.TrimSpace(f.Field) != "" {
		p, err := document.ParsePath(f.Field)
		if err != nil {
			return false
		}
		v, ok := document.Get(doc, p)
		if !ok || !scalarEqual(v, f.Equals) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		switch bv := b.(type) {
		case float64:
			return av == bv
		case int:
			return av == float64(bv)
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
