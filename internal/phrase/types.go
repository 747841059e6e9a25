package phrase

import "strings"

// FilenamePrefix marks projects and job files created by this service.
const FilenamePrefix = "[Sanity.io]"

type EventKind string

const (
	EventJobAssigned            EventKind = "JOB_ASSIGNED"
	EventJobTargetUpdated       EventKind = "JOB_TARGET_UPDATED"
	EventJobStatusChanged       EventKind = "JOB_STATUS_CHANGED"
	EventJobCreated             EventKind = "JOB_CREATED"
	EventJobDeleted             EventKind = "JOB_DELETED"
	EventJobDueDateChanged      EventKind = "JOB_DUE_DATE_CHANGED"
	EventPreTranslationFinished EventKind = "PRE_TRANSLATION_FINISHED"
	EventProjectStatusChanged   EventKind = "PROJECT_STATUS_CHANGED"
	EventProjectDeleted         EventKind = "PROJECT_DELETED"
)

// Events lists every event the webhook reconciler accepts.
var Events = []EventKind{
	EventJobAssigned,
	EventJobTargetUpdated,
	EventJobStatusChanged,
	EventJobCreated,
	EventJobDeleted,
	EventJobDueDateChanged,
	EventPreTranslationFinished,
	EventProjectStatusChanged,
	EventProjectDeleted,
}

// IsProjectEvent reports whether the event carries a project instead of
// job parts.
func (e EventKind) IsProjectEvent() bool {
	return e == EventProjectStatusChanged || e == EventProjectDeleted
}

type WorkflowStep struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type Provider struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
}

// JobPart is a job as listed by the project jobs endpoints.
type JobPart struct {
	UID           string        `json:"uid"`
	Filename      string        `json:"filename,omitempty"`
	Status        string        `json:"status,omitempty"`
	TargetLang    string        `json:"targetLang,omitempty"`
	DateDue       string        `json:"dateDue,omitempty"`
	DateCreated   string        `json:"dateCreated,omitempty"`
	WorkflowLevel *int          `json:"workflowLevel,omitempty"`
	WorkflowStep  *WorkflowStep `json:"workflowStep,omitempty"`
	Providers     []Provider    `json:"providers,omitempty"`
}

// JobInWebhook is a job part as delivered by webhooks, which spell the file
// name differently and embed the project.
type JobInWebhook struct {
	UID           string        `json:"uid"`
	FileName      string        `json:"fileName,omitempty"`
	Status        string        `json:"status,omitempty"`
	TargetLang    string        `json:"targetLang,omitempty"`
	DateDue       string        `json:"dateDue,omitempty"`
	DateCreated   string        `json:"dateCreated,omitempty"`
	WorkflowLevel *int          `json:"workflowLevel,omitempty"`
	WorkflowStep  *WorkflowStep `json:"workflowStep,omitempty"`
	Providers     []Provider    `json:"providers,omitempty"`
	Project       struct {
		ID                string `json:"id,omitempty"`
		UID               string `json:"uid"`
		LastWorkflowLevel *int   `json:"lastWorkflowLevel,omitempty"`
	} `json:"project"`
}

// Part converts the webhook shape into a JobPart.
func (j JobInWebhook) Part() JobPart {
	return JobPart{
		UID:           j.UID,
		Filename:      j.FileName,
		Status:        j.Status,
		TargetLang:    j.TargetLang,
		DateDue:       j.DateDue,
		DateCreated:   j.DateCreated,
		WorkflowLevel: j.WorkflowLevel,
		WorkflowStep:  j.WorkflowStep,
		Providers:     j.Providers,
	}
}

type Project struct {
	UID         string   `json:"uid"`
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Status      string   `json:"status,omitempty"`
	DateDue     string   `json:"dateDue,omitempty"`
	SourceLang  string   `json:"sourceLang,omitempty"`
	TargetLangs []string `json:"targetLangs,omitempty"`
}

type ProjectInWebhook struct {
	UID    string `json:"uid"`
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// Webhook is one delivery from the vendor.
type Webhook struct {
	Event     EventKind         `json:"event"`
	Timestamp int64             `json:"timestamp,omitempty"`
	EventUID  string            `json:"eventUid,omitempty"`
	JobParts  []JobInWebhook    `json:"jobParts,omitempty"`
	Project   *ProjectInWebhook `json:"project,omitempty"`
}

// ComesFromSanity reports whether a project or file name was created by
// this service.
func ComesFromSanity(name string) bool {
	return strings.HasPrefix(name, FilenamePrefix)
}
