package contentstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
)

// MemoryStore keeps documents in process. Reads and writes copy values so
// callers never share state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]document.Document

	// BeforeCommit, when set, runs with the store unlocked right before a
	// transaction is applied. Tests use it to simulate concurrent editors.
	BeforeCommit func(tx *Transaction)
}

func NewMemoryStore(seed ...document.Document) *MemoryStore {
	s := &MemoryStore{docs: map[string]document.Document{}}
	for _, doc := range seed {
		normalized, err := document.FromValue(doc)
		if err != nil {
			panic(fmt.Sprintf("seed document %q: %v", doc.ID(), err))
		}
		s.docs[normalized.ID()] = normalized
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, id string) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) GetMany(ctx context.Context, ids []string) ([]document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]document.Document, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if doc, ok := s.docs[id]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []document.Document
	for _, doc := range s.docs {
		if filter.matches(doc) {
			out = append(out, doc.Clone())
		}
	}
	document.SortByID(out)
	return out, nil
}

func (s *MemoryStore) Commit(ctx context.Context, tx *Transaction) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	if tx == nil || tx.Len() == 0 {
		return CommitResult{}, nil
	}
	if s.BeforeCommit != nil {
		s.BeforeCommit(tx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	writes, deletes, err := applyTransaction(tx, func(id string) (document.Document, bool) {
		doc, ok := s.docs[id]
		return doc, ok
	})
	if err != nil {
		return CommitResult{}, err
	}

	result := CommitResult{TransactionID: tx.ID, Deleted: deletes}
	for _, doc := range writes {
		s.docs[doc.ID()] = doc
		result.Documents = append(result.Documents, doc.Clone())
	}
	for _, id := range deletes {
		delete(s.docs, id)
	}
	return result, nil
}

// Put stores a document as-is, bypassing transactions. For fixtures only.
func (s *MemoryStore) Put(doc document.Document) {
	normalized, err := document.FromValue(doc)
	if err != nil {
		panic(fmt.Sprintf("put document %q: %v", doc.ID(), err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[normalized.ID()] = normalized
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
