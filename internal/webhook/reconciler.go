// Package webhook applies Phrase TMS webhook deliveries to the content store.
package webhook

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tinloof/sanity-plugin-phrase/internal/merge"
	"github.com/tinloof/sanity-plugin-phrase/internal/phrase"
	"github.com/tinloof/sanity-plugin-phrase/internal/tmd"
	"github.com/tinloof/sanity-plugin-phrase/internal/translation"
)

//go:embed phrase_webhook.schema.json
var webhookSchemaJSON string

const DefaultJobCreatedDelay = time.Second

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// Translations is the part of the translation manager the reconciler drives.
// *translation.Manager implements it.
type Translations interface {
	FindTMDByProject(ctx context.Context, projectUID string) (*tmd.TMD, error)
	BroadcastProjectStatus(ctx context.Context, record *tmd.TMD, status tmd.Status) ([]string, error)
	MarkPTDsDeleted(ctx context.Context, jobs []phrase.JobInWebhook) (marked, skipped []string, err error)
	RefreshJobs(ctx context.Context, jobs []phrase.JobInWebhook) (translation.RefreshResult, error)
	MergePTD(ctx context.Context, ptdID string) (merge.TargetOutcome, error)
}

type Options struct {
	// JobCreatedDelay gives the content store time to settle before jobs
	// that were just created are refreshed. Zero disables the wait.
	JobCreatedDelay time.Duration
}

// Outcome is the HTTP-shaped result of one delivery.
type Outcome struct {
	Status int `json:"status"`
	Body   any `json:"body"`
}

type Reconciler struct {
	translations Translations
	opts         Options
	logger       zerolog.Logger
}

func NewReconciler(translations Translations, opts Options, logger zerolog.Logger) *Reconciler {
	if opts.JobCreatedDelay < 0 {
		opts.JobCreatedDelay = 0
	}
	return &Reconciler{translations: translations, opts: opts, logger: logger}
}

// Handle validates and dispatches a raw webhook payload. Deliveries may be
// replayed; every branch is safe to run twice.
func (r *Reconciler) Handle(ctx context.Context, payload []byte) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("webhook handler panicked")
			out = errorOutcome(http.StatusInternalServerError, "Webhook handling failed")
		}
	}()

	hook, err := DecodeWebhook(payload)
	if err != nil {
		r.logger.Warn().Err(err).Msg("rejected webhook payload")
		return errorOutcome(http.StatusBadRequest, "Invalid webhook payload or ignored event")
	}
	logger := r.logger.With().Str("event", string(hook.Event)).Str("event_uid", hook.EventUID).Logger()
	logger.Info().Int("job_parts", len(hook.JobParts)).Msg("webhook received")

	switch {
	case hook.Event.IsProjectEvent():
		return r.handleProject(ctx, hook, logger)
	case hook.Event == phrase.EventJobDeleted:
		return r.handleJobDeleted(ctx, hook, logger)
	case hook.Event == phrase.EventJobCreated:
		if err := r.waitForStore(ctx); err != nil {
			return errorOutcome(http.StatusServiceUnavailable, err.Error())
		}
	}
	return r.handleJobs(ctx, hook, logger)
}

func (r *Reconciler) waitForStore(ctx context.Context) error {
	if r.opts.JobCreatedDelay == 0 {
		return nil
	}
	timer := time.NewTimer(r.opts.JobCreatedDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for content store: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (r *Reconciler) handleProject(ctx context.Context, hook *phrase.Webhook, logger zerolog.Logger) Outcome {
	project := hook.Project
	if !phrase.ComesFromSanity(project.Name) {
		return messageOutcome(http.StatusOK, "Project isn't generated by Sanity")
	}

	record, err := r.translations.FindTMDByProject(ctx, project.UID)
	if err != nil {
		if errors.Is(err, translation.ErrTMDNotFound) {
			return errorOutcome(http.StatusNotFound, "Couldn't find matching translation for project")
		}
		logger.Error().Err(err).Str("project_uid", project.UID).Msg("tmd lookup failed")
		return errorOutcome(http.StatusInternalServerError, "Couldn't find matching translation for project")
	}

	status := tmd.StatusDeleted
	if hook.Event == phrase.EventProjectStatusChanged {
		status = tmd.Status(project.Status)
	}
	patched, err := r.translations.BroadcastProjectStatus(ctx, record, status)
	if err != nil {
		logger.Error().Err(err).Str("tmd_id", record.ID).Msg("status broadcast failed")
		return errorOutcome(http.StatusInternalServerError, "Couldn't update statuses")
	}
	return messageOutcome(http.StatusOK, fmt.Sprintf("Updated %d documents with status %s", len(patched), status))
}

func (r *Reconciler) handleJobDeleted(ctx context.Context, hook *phrase.Webhook, logger zerolog.Logger) Outcome {
	marked, skipped, err := r.translations.MarkPTDsDeleted(ctx, hook.JobParts)
	if err != nil {
		logger.Error().Err(err).Msg("marking ptds deleted failed")
		return errorOutcome(http.StatusInternalServerError, "Couldn't mark PTDs as deleted")
	}
	return Outcome{Status: http.StatusOK, Body: map[string]any{
		"message": fmt.Sprintf("Marked %d PTDs as deleted", len(marked)),
		"marked":  marked,
		"skipped": skipped,
	}}
}

// MergeReport is the body of job event outcomes.
type MergeReport struct {
	Message string                     `json:"message"`
	PTDs    []translation.RefreshedPTD `json:"ptds"`
	Merged  []merge.TargetOutcome      `json:"merged"`
	Errors  []translation.ErrorPayload `json:"errors,omitempty"`
}

func (r *Reconciler) handleJobs(ctx context.Context, hook *phrase.Webhook, logger zerolog.Logger) Outcome {
	result, err := r.translations.RefreshJobs(ctx, hook.JobParts)
	if err != nil {
		logger.Error().Err(err).Msg("refresh failed")
		return Outcome{Status: translation.StatusForError(err), Body: map[string]any{
			"error": translation.NewErrorPayload(err),
		}}
	}

	report := MergeReport{PTDs: result.PTDs, Merged: []merge.TargetOutcome{}}
	for _, ptd := range result.PTDs {
		if ptd.Err() != nil {
			report.Errors = append(report.Errors, *ptd.Error)
			continue
		}
		if !ptd.ReadyToMerge || !ptd.Updated {
			continue
		}
		outcome, err := r.translations.MergePTD(ctx, ptd.PTDID)
		if err != nil {
			logger.Warn().Err(err).Str("ptd_id", ptd.PTDID).Msg("merge failed")
			report.Errors = append(report.Errors, *translation.NewErrorPayload(err))
			continue
		}
		report.Merged = append(report.Merged, outcome)
	}
	report.Message = fmt.Sprintf("Refreshed %d PTDs and merged %d", len(result.PTDs)-result.Failed(), len(report.Merged))

	status := http.StatusOK
	if len(report.Errors) > 0 {
		status = http.StatusMultiStatus
		if len(report.Errors) == len(result.PTDs) {
			status = http.StatusInternalServerError
		}
	}
	return Outcome{Status: status, Body: report}
}

// DecodeWebhook validates payload against the webhook schema and decodes it.
func DecodeWebhook(payload []byte) (*phrase.Webhook, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode webhook JSON: %w", err)
	}
	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var hook phrase.Webhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, fmt.Errorf("unmarshal webhook: %w", err)
	}
	return &hook, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("phrase_webhook.schema.json", strings.NewReader(webhookSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("phrase_webhook.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

func errorOutcome(status int, message string) Outcome {
	return Outcome{Status: status, Body: map[string]any{"error": message}}
}

func messageOutcome(status int, message string) Outcome {
	return Outcome{Status: status, Body: map[string]any{"message": message}}
}
