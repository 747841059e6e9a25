package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tinloof/sanity-plugin-phrase/internal/db"
	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/globaltime"
)

// PGStore persists documents as jsonb rows in content.documents. Commits lock
// every touched row with SELECT ... FOR UPDATE, so revision checks and writes
// are serialized per document.
type PGStore struct {
	gdb *gorm.DB
}

// refJSONPath matches any object in a body whose _ref equals $ref.
const refJSONPath = `$.** ? (@._ref == $ref)`

func NewPGStore(pool *db.Pool) (*PGStore, error) {
	if pool == nil || pool.GORM() == nil {
		return nil, db.ErrNotInitialized
	}
	return &PGStore{gdb: pool.GORM()}, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (document.Document, error) {
	var row db.Document
	err := s.gdb.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", id, err)
	}
	return rowToDocument(row)
}

func (s *PGStore) GetMany(ctx context.Context, ids []string) ([]document.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []db.Document
	if err := s.gdb.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}

	byID := make(map[string]document.Document, len(rows))
	for _, row := range rows {
		doc, err := rowToDocument(row)
		if err != nil {
			return nil, err
		}
		byID[row.ID] = doc
	}
	out := make([]document.Document, 0, len(rows))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			out = append(out, doc)
			delete(byID, id)
		}
	}
	return out, nil
}

// Query narrows candidates in SQL by type, id and reference, then applies
// the full filter in memory so both stores agree on semantics.
func (s *PGStore) Query(ctx context.Context, filter Filter) ([]document.Document, error) {
	q := s.gdb.WithContext(ctx).Model(&db.Document{})
	if len(filter.Types) > 0 {
		q = q.Where("type IN ?", filter.Types)
	}
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if len(filter.References) > 0 {
		group := s.gdb
		for i, ref := range filter.References {
			// the jsonpath is bound as an argument so its "?" filter never
			// reaches the placeholder parser
			cond := "jsonb_path_exists(body, ?::jsonpath, jsonb_build_object('ref', ?::text))"
			if i == 0 {
				group = group.Where(cond, refJSONPath, ref)
			} else {
				group = group.Or(cond, refJSONPath, ref)
			}
		}
		q = q.Where(group)
	}
	if field := strings.TrimSpace(filter.Field); field != "" {
		if p, err := document.ParsePath(field); err == nil && plainFieldPath(p) {
			if str, ok := filter.Equals.(string); ok {
				q = q.Where("body #>> ?::text[] = ?", "{"+strings.Join(fieldNames(p), ",")+"}", str)
			}
		}
	}

	var rows []db.Document
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	out := make([]document.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := rowToDocument(row)
		if err != nil {
			return nil, err
		}
		if filter.matches(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *PGStore) Commit(ctx context.Context, tx *Transaction) (CommitResult, error) {
	if tx == nil || tx.Len() == 0 {
		return CommitResult{}, nil
	}

	result := CommitResult{TransactionID: tx.ID}
	err := s.gdb.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		ids := tx.IDs()
		var rows []db.Document
		if err := gtx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return fmt.Errorf("lock documents: %w", err)
		}
		loaded := make(map[string]document.Document, len(rows))
		for _, row := range rows {
			doc, err := rowToDocument(row)
			if err != nil {
				return err
			}
			loaded[row.ID] = doc
		}

		writes, deletes, err := applyTransaction(tx, func(id string) (document.Document, bool) {
			doc, ok := loaded[id]
			return doc, ok
		})
		if err != nil {
			return err
		}
		result.TransactionID = tx.ID

		now := globaltime.UTC()
		for _, doc := range writes {
			row, err := documentToRow(doc)
			if err != nil {
				return err
			}
			row.UpdatedAt = now
			if _, existed := loaded[doc.ID()]; existed {
				res := gtx.Model(&db.Document{}).Where("id = ?", row.ID).Updates(map[string]any{
					"type":       row.Type,
					"revision":   row.Revision,
					"body":       row.Body,
					"updated_at": row.UpdatedAt,
				})
				if res.Error != nil {
					return fmt.Errorf("update %q: %w", row.ID, res.Error)
				}
			} else {
				row.CreatedAt = now
				if err := gtx.Create(&row).Error; err != nil {
					if errors.Is(err, gorm.ErrDuplicatedKey) {
						return &TxError{TransactionID: tx.ID, DocumentID: row.ID, Err: ErrAlreadyExists}
					}
					return fmt.Errorf("insert %q: %w", row.ID, err)
				}
			}
			result.Documents = append(result.Documents, doc)
		}
		if len(deletes) > 0 {
			if err := gtx.Where("id IN ?", deletes).Delete(&db.Document{}).Error; err != nil {
				return fmt.Errorf("delete documents: %w", err)
			}
			result.Deleted = deletes
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}
	return result, nil
}

func rowToDocument(row db.Document) (document.Document, error) {
	var doc document.Document
	if err := json.Unmarshal(row.Body, &doc); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", row.ID, err)
	}
	return doc, nil
}

func documentToRow(doc document.Document) (db.Document, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return db.Document{}, fmt.Errorf("encode document %q: %w", doc.ID(), err)
	}
	return db.Document{
		ID:       doc.ID(),
		Type:     doc.Type(),
		Revision: doc.Rev(),
		Body:     body,
	}, nil
}

func plainFieldPath(p document.Path) bool {
	if p.IsRoot() {
		return false
	}
	for _, seg := range p {
		if seg.Kind != document.SegmentField || strings.ContainsAny(seg.Field, `,{}"\`) {
			return false
		}
	}
	return true
}

func fieldNames(p document.Path) []string {
	out := make([]string, len(p))
	for i, seg := range p {
		out[i] = seg.Field
	}
	return out
}
