// Package tmd models translation metadata documents (TMDs), their per-language
// targets and the PTD working copies, together with the status state machine
// that governs a translation request.
package tmd

import (
	"errors"
	"fmt"

	"github.com/tinloof/sanity-plugin-phrase/internal/document"
	"github.com/tinloof/sanity-plugin-phrase/internal/globaltime"
	"github.com/tinloof/sanity-plugin-phrase/internal/language"
)

type Status string

const (
	StatusCreating         Status = "CREATING"
	StatusCompleted        Status = "COMPLETED"
	StatusFailedPersisting Status = "FAILED_PERSISTING"
	StatusCommitted        Status = "COMMITTED"
	StatusDeleted          Status = "DELETED"
	StatusCancelled        Status = "CANCELLED"

	// StatusCreated only appears on main-document metadata entries, forwarded
	// from vendor project status changes.
	StatusCreated Status = "CREATED"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCommitted, StatusDeleted, StatusCancelled:
		return true
	}
	return false
}

// IsUnfinished reports whether a translation in this status still blocks a
// new request for the same content.
func (s Status) IsUnfinished() bool {
	return s == StatusCreating || s == StatusCompleted
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case StatusDeleted, StatusCancelled:
		return true
	}
	switch from {
	case StatusCreating:
		return to == StatusCompleted || to == StatusFailedPersisting
	case StatusCompleted:
		return to == StatusCommitted
	default:
		return false
	}
}

// JobInfo is the stored view of one vendor job.
type JobInfo struct {
	Key           string        `json:"_key"`
	Type          string        `json:"_type"`
	UID           string        `json:"uid"`
	Status        string        `json:"status,omitempty"`
	DateDue       string        `json:"dateDue,omitempty"`
	DateCreated   string        `json:"dateCreated,omitempty"`
	WorkflowLevel int           `json:"workflowLevel,omitempty"`
	WorkflowStep  *WorkflowStep `json:"workflowStep,omitempty"`
	Providers     []Provider    `json:"providers,omitempty"`
}

type WorkflowStep struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type Provider struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Target tracks one target language of a TMD.
type Target struct {
	Key          string               `json:"_key"`
	Type         string               `json:"_type,omitempty"`
	Lang         language.CrossSystem `json:"lang"`
	TargetDoc    document.Ref         `json:"targetDoc"`
	PTD          *document.Ref        `json:"ptd,omitempty"`
	Jobs         []JobInfo            `json:"jobs"`
	ReferenceMap ReferenceMap         `json:"referenceMap,omitempty"`
}

// TMD is the persistent record of one translation request.
type TMD struct {
	ID        string `json:"_id"`
	Rev       string `json:"_rev,omitempty"`
	Type      string `json:"_type"`
	CreatedAt string `json:"_createdAt,omitempty"`

	Status         Status               `json:"status"`
	TranslationKey string               `json:"translationKey"`
	SourceDoc      document.Ref         `json:"sourceDoc"`
	SourceDocRev   string               `json:"sourceDocRev"`
	SourceSnapshot string               `json:"sourceSnapshot"`
	SourceLang     language.CrossSystem `json:"sourceLang"`
	Paths          []string             `json:"paths"`
	Targets        []Target             `json:"targets"`

	ProjectUID  string `json:"phraseProjectUid,omitempty"`
	ProjectName string `json:"projectName,omitempty"`
	// FailedState keeps whatever the vendor returned before a failure, for
	// operator-driven retry or cleanup.
	FailedState *FailedState `json:"failedState,omitempty"`
	CommittedAt string       `json:"committedAt,omitempty"`
}

type FailedState struct {
	Error       string   `json:"error"`
	ProjectUID  string   `json:"projectUid,omitempty"`
	JobUIDs     []string `json:"jobUids,omitempty"`
	RecordedAt  string   `json:"recordedAt"`
	FailedStage string   `json:"stage"`
}

// Transition moves t to status, enforcing the state machine.
func (t *TMD) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, t.Status, to, t.ID)
	}
	t.Status = to
	if to == StatusCommitted {
		t.CommittedAt = globaltime.Stamp()
	}
	return nil
}

// ParsedPaths returns the TMD path list as Paths.
func (t *TMD) ParsedPaths() ([]document.Path, error) {
	return document.ParsePaths(t.Paths)
}

// Target returns the target for a content-store language code.
func (t *TMD) Target(storeLang string) (*Target, bool) {
	for i := range t.Targets {
		if t.Targets[i].Lang.Store == storeLang || language.Equal(t.Targets[i].Lang.Store, storeLang) {
			return &t.Targets[i], true
		}
	}
	return nil, false
}

// TargetByVendorLang returns the target for a vendor language code.
func (t *TMD) TargetByVendorLang(vendorLang string) (*Target, bool) {
	for i := range t.Targets {
		if language.Equal(t.Targets[i].Lang.Vendor, vendorLang) {
			return &t.Targets[i], true
		}
	}
	return nil, false
}

// TargetByPTD returns the target whose PTD reference matches ptdID in either
// variant.
func (t *TMD) TargetByPTD(ptdID string) (*Target, bool) {
	for i := range t.Targets {
		ptd := t.Targets[i].PTD
		if ptd != nil && document.UndraftID(ptd.Ref) == document.UndraftID(ptdID) {
			return &t.Targets[i], true
		}
	}
	return nil, false
}

// TargetByJob returns the target that owns a vendor job.
func (t *TMD) TargetByJob(jobUID string) (*Target, bool) {
	for i := range t.Targets {
		for _, job := range t.Targets[i].Jobs {
			if job.UID == jobUID {
				return &t.Targets[i], true
			}
		}
	}
	return nil, false
}

// MainDocIDs returns every main-document id (source and targets, both
// variants) the TMD is associated with.
func (t *TMD) MainDocIDs() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(id string) {
		for _, variant := range document.VariantIDs(id) {
			if _, dup := seen[variant]; dup {
				continue
			}
			seen[variant] = struct{}{}
			out = append(out, variant)
		}
	}
	add(t.SourceDoc.Ref)
	for _, target := range t.Targets {
		add(target.TargetDoc.Ref)
	}
	return out
}

// TargetPath returns the mutation path of a target, optionally extended with
// a field path inside it.
func TargetPath(lang string, suffix string) string {
	p := document.Path{document.Field("targets"), document.Key(lang)}.String()
	if suffix == "" {
		return p
	}
	return p + "." + suffix
}

// FromDocument decodes a stored TMD.
func FromDocument(doc document.Document) (*TMD, error) {
	if doc.Type() != document.TmdType {
		return nil, fmt.Errorf("document %q has type %q, want %q", doc.ID(), doc.Type(), document.TmdType)
	}
	var t TMD
	if err := doc.Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ToDocument encodes the TMD for storage.
func (t *TMD) ToDocument() (document.Document, error) {
	t.Type = document.TmdType
	return document.FromValue(t)
}
