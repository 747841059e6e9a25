package contentstore

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/globaltime"
)

type MutationKind string

const (
	MutationCreate            MutationKind = "create"
	MutationCreateIfNotExists MutationKind = "createIfNotExists"
	MutationCreateOrReplace   MutationKind = "createOrReplace"
	MutationPatch             MutationKind = "patch"
	MutationDelete            MutationKind = "delete"
)

type InsertPosition string

const (
	InsertBefore  InsertPosition = "before"
	InsertAfter   InsertPosition = "after"
	InsertReplace InsertPosition = "replace"
)

// Insert adds Items next to the array element addressed by At. Inserting
// after index -1 of a missing or empty array appends.
type Insert struct {
	Position InsertPosition
	At       string
	Items    []any
}

// Patch changes fields of an existing document. Operations run in the order
// SetIfMissing, Set, Unset, Insert. A non-empty IfRevisionID makes the whole
// transaction fail when the stored revision differs.
type Patch struct {
	ID           string
	IfRevisionID string
	SetIfMissing map[string]any
	Set          map[string]any
	Unset        []string
	Insert       *Insert
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.SetIfMissing) == 0 && len(p.Set) == 0 && len(p.Unset) == 0 && p.Insert == nil
}

type Mutation struct {
	Kind     MutationKind
	Document document.Document
	Patch    *Patch
	ID       string
}

// TargetID returns the id of the document the mutation writes.
func (m Mutation) TargetID() string {
	switch m.Kind {
	case MutationPatch:
		if m.Patch != nil {
			return m.Patch.ID
		}
		return ""
	case MutationDelete:
		return m.ID
	default:
		return m.Document.ID()
	}
}

// Transaction is an ordered list of mutations committed atomically.
type Transaction struct {
	ID        string
	Mutations []Mutation
}

func NewTransaction() *Transaction {
	return &Transaction{ID: uuid.NewString()}
}

func (tx *Transaction) add(kind MutationKind, doc document.Document) *Transaction {
	doc = doc.Clone()
	if doc == nil {
		doc = document.Document{}
	}
	if doc.ID() == "" {
		doc[document.KeyID] = uuid.NewString()
	}
	tx.Mutations = append(tx.Mutations, Mutation{Kind: kind, Document: doc})
	return tx
}

func (tx *Transaction) Create(doc document.Document) *Transaction {
	return tx.add(MutationCreate, doc)
}

func (tx *Transaction) CreateIfNotExists(doc document.Document) *Transaction {
	return tx.add(MutationCreateIfNotExists, doc)
}

func (tx *Transaction) CreateOrReplace(doc document.Document) *Transaction {
	return tx.add(MutationCreateOrReplace, doc)
}

func (tx *Transaction) Patch(p Patch) *Transaction {
	tx.Mutations = append(tx.Mutations, Mutation{Kind: MutationPatch, Patch: &p})
	return tx
}

func (tx *Transaction) Delete(id string) *Transaction {
	tx.Mutations = append(tx.Mutations, Mutation{Kind: MutationDelete, ID: id})
	return tx
}

func (tx *Transaction) Len() int {
	if tx == nil {
		return 0
	}
	return len(tx.Mutations)
}

// IDs returns every document id the transaction touches, in first-touch order.
func (tx *Transaction) IDs() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range tx.Mutations {
		id := m.TargetID()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// applyTransaction runs tx against the documents returned by load and
// returns the documents to write and the ids to delete. Nothing is written
// when an error is returned.
func applyTransaction(tx *Transaction, load func(id string) (document.Document, bool)) ([]document.Document, []string, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	rev := tx.ID
	now := globaltime.Stamp()

	staged := map[string]document.Document{}
	existedBefore := map[string]bool{}
	baseRev := map[string]string{}
	var order []string

	current := func(id string) document.Document {
		if doc, ok := staged[id]; ok {
			return doc
		}
		doc, ok := load(id)
		existedBefore[id] = ok
		if ok {
			doc = doc.Clone()
			baseRev[id] = doc.Rev()
		} else {
			doc = nil
		}
		staged[id] = doc
		order = append(order, id)
		return doc
	}
	fail := func(i int, id string, err error) error {
		return &TxError{TransactionID: tx.ID, MutationIndex: i, DocumentID: id, Err: err}
	}

	for i, m := range tx.Mutations {
		id := m.TargetID()
		if id == "" {
			return nil, nil, fail(i, id, fmt.Errorf("%w: %s without document id", ErrInvalidMutation, m.Kind))
		}
		existing := current(id)

		switch m.Kind {
		case MutationCreate, MutationCreateIfNotExists, MutationCreateOrReplace:
			if existing != nil {
				if m.Kind == MutationCreate {
					return nil, nil, fail(i, id, ErrAlreadyExists)
				}
				if m.Kind == MutationCreateIfNotExists {
					continue
				}
			}
			normalized, err := document.FromValue(m.Document)
			if err != nil {
				return nil, nil, fail(i, id, fmt.Errorf("%w: %v", ErrInvalidMutation, err))
			}
			createdAt := now
			if existing != nil && existing.String(document.KeyCreatedAt) != "" {
				createdAt = existing.String(document.KeyCreatedAt)
			}
			normalized[document.KeyCreatedAt] = createdAt
			normalized[document.KeyUpdatedAt] = now
			normalized[document.KeyRev] = rev
			staged[id] = normalized

		case MutationPatch:
			if existing == nil {
				return nil, nil, fail(i, id, ErrNotFound)
			}
			p := m.Patch
			if p.IfRevisionID != "" && baseRev[id] != p.IfRevisionID {
				return nil, nil, fail(i, id, fmt.Errorf("%w: have %q, expected %q", ErrRevisionMismatch, baseRev[id], p.IfRevisionID))
			}
			if err := applyPatch(existing, p); err != nil {
				return nil, nil, fail(i, id, err)
			}
			existing[document.KeyUpdatedAt] = now
			existing[document.KeyRev] = rev

		case MutationDelete:
			staged[id] = nil

		default:
			return nil, nil, fail(i, id, fmt.Errorf("%w: unknown kind %q", ErrInvalidMutation, m.Kind))
		}
	}

	var (
		writes  []document.Document
		deletes []string
	)
	for _, id := range order {
		doc := staged[id]
		if doc == nil {
			if existedBefore[id] {
				deletes = append(deletes, id)
			}
			continue
		}
		if doc.Rev() == rev {
			writes = append(writes, doc)
		}
	}
	return writes, deletes, nil
}

func applyPatch(doc document.Document, p *Patch) error {
	for _, key := range sortedKeys(p.SetIfMissing) {
		path, err := mutationPath(key)
		if err != nil {
			return err
		}
		if _, exists := document.Get(doc, path); exists {
			continue
		}
		value, err := document.Normalize(p.SetIfMissing[key])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMutation, err)
		}
		if err := document.Set(doc, path, value); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(p.Set) {
		path, err := mutationPath(key)
		if err != nil {
			return err
		}
		value, err := document.Normalize(p.Set[key])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMutation, err)
		}
		if err := document.Set(doc, path, value); err != nil {
			return err
		}
	}
	for _, key := range p.Unset {
		path, err := mutationPath(key)
		if err != nil {
			return err
		}
		document.Unset(doc, path)
	}
	if p.Insert != nil {
		return applyInsert(doc, p.Insert)
	}
	return nil
}

func applyInsert(doc document.Document, ins *Insert) error {
	at, err := mutationPath(ins.At)
	if err != nil {
		return err
	}
	last := at[len(at)-1]
	parent := at.Parent()
	if last.Kind == document.SegmentField || parent.IsRoot() {
		return fmt.Errorf("%w: insert target %q is not an array element", ErrInvalidMutation, ins.At)
	}

	items, err := document.Normalize(ins.Items)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMutation, err)
	}
	newItems, _ := items.([]any)

	var arr []any
	if raw, ok := document.Get(doc, parent); ok && raw != nil {
		arr, ok = raw.([]any)
		if !ok {
			return fmt.Errorf("%w: %s is not an array", document.ErrPathNotFound, parent)
		}
	}

	idx := last.IndexIn(arr)
	var out []any
	switch {
	case idx < 0 && len(arr) == 0 && last.Kind == document.SegmentIndex && ins.Position != InsertReplace:
		out = newItems
	case idx < 0:
		return fmt.Errorf("%w: %s", document.ErrPathNotFound, ins.At)
	default:
		out = make([]any, 0, len(arr)+len(newItems))
		switch ins.Position {
		case InsertBefore:
			out = append(out, arr[:idx]...)
			out = append(out, newItems...)
			out = append(out, arr[idx:]...)
		case InsertAfter:
			out = append(out, arr[:idx+1]...)
			out = append(out, newItems...)
			out = append(out, arr[idx+1:]...)
		case InsertReplace:
			out = append(out, arr[:idx]...)
			out = append(out, newItems...)
			out = append(out, arr[idx+1:]...)
		default:
			return fmt.Errorf("%w: unknown insert position %q", ErrInvalidMutation, ins.Position)
		}
	}
	if out == nil {
		out = []any{}
	}
	return document.Set(doc, parent, out)
}

func mutationPath(raw string) (document.Path, error) {
	p, err := document.ParsePath(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMutation, err)
	}
	if p.IsRoot() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMutation, document.ErrRootPath)
	}
	return p, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
