package db

import (
	"encoding/json"
	"time"
)

// Document maps content.documents. Body holds the full JSON document,
// including _id, _type and _rev, so reads never need to reassemble it.
type Document struct {
	ID        string          `gorm:"column:id;type:text;primaryKey"`
	Type      string          `gorm:"column:type;type:text;not null;index"`
	Revision  string          `gorm:"column:revision;type:text;not null"`
	Body      json.RawMessage `gorm:"column:body;type:jsonb;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Document) TableName() string { return "content.documents" }

func autoMigrateModels() []any {
	return []any{&Document{}}
}
