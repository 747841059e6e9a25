package httpapi

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tinloof/sanity-plugin-phrase/internal/contentstore"
	"github.com/tinloof/sanity-plugin-phrase/internal/globaltime"
	"github.com/tinloof/sanity-plugin-phrase/internal/merge"
	"github.com/tinloof/sanity-plugin-phrase/internal/translation"
)

const (
	ActionCreateTranslations = "CREATE_TRANSLATIONS"
	ActionRefreshPTD         = "REFRESH_PTD"
)

type createTranslationsRequest struct {
	Requests []translation.CreateRequest `json:"requests"`
}

// actionRequest is the body of the single action endpoint. Create requests
// are either listed under requests or given inline.
type actionRequest struct {
	Action   string                      `json:"action"`
	Requests []translation.CreateRequest `json:"requests,omitempty"`
	PTDID    string                      `json:"ptdId,omitempty"`
	translation.CreateRequest
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service":      "phrasesync",
		"i18n_adapter": s.manager.AdapterName(),
		"time":         globaltime.UTC(),
	})
}

func (s *Server) handleAction(c echo.Context) error {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid JSON body", nil)
	}

	switch strings.TrimSpace(req.Action) {
	case ActionCreateTranslations:
		reqs := req.Requests
		if len(reqs) == 0 && strings.TrimSpace(req.SourceID) != "" {
			reqs = []translation.CreateRequest{req.CreateRequest}
		}
		return s.createTranslations(c, reqs)
	case ActionRefreshPTD:
		if strings.TrimSpace(req.PTDID) == "" {
			return failValidation(c, map[string]string{"ptdId": "is required"})
		}
		return s.refreshPTD(c, req.PTDID)
	case "":
		return failValidation(c, map[string]string{"action": "is required"})
	default:
		return failValidation(c, map[string]string{"action": "unsupported action " + req.Action})
	}
}

func (s *Server) handleCreateTranslations(c echo.Context) error {
	var req createTranslationsRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid JSON body", nil)
	}
	return s.createTranslations(c, req.Requests)
}

func (s *Server) createTranslations(c echo.Context, reqs []translation.CreateRequest) error {
	result := s.manager.CreateMultipleTranslations(c.Request().Context(), reqs)
	if result.Outcome == translation.BatchAllFailed {
		return internalErrorWithData(c, result.Status, result.Message, result)
	}
	return successWithStatus(c, result.Status, result)
}

func (s *Server) handleCommit(c echo.Context) error {
	tmdID := strings.TrimSpace(c.Param("tmd_id"))
	result, err := s.manager.CommitTranslation(c.Request().Context(), tmdID)
	if err != nil {
		s.logger.Error().Err(err).Str("tmd_id", tmdID).Msg("commit failed")
		if errors.Is(err, merge.ErrIncompleteCommit) {
			return internalErrorWithData(c, http.StatusInternalServerError, err.Error(), result)
		}
		return s.respondError(c, err)
	}
	return success(c, result)
}

func (s *Server) handleRefreshPTD(c echo.Context) error {
	return s.refreshPTD(c, c.Param("ptd_id"))
}

func (s *Server) refreshPTD(c echo.Context, ptdID string) error {
	ptdID = strings.TrimSpace(ptdID)
	result, err := s.manager.RefreshPTDByID(c.Request().Context(), ptdID)
	if err != nil {
		s.logger.Error().Err(err).Str("ptd_id", ptdID).Msg("refresh failed")
		return s.respondError(c, err)
	}
	return success(c, result)
}

func (s *Server) handleStaleness(c echo.Context) error {
	var req translation.StaleRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid JSON body", nil)
	}
	resp, err := s.manager.StaleTranslations(c.Request().Context(), req)
	if err != nil {
		return s.respondError(c, err)
	}
	return success(c, map[string]any{"items": resp})
}

func (s *Server) handleReferences(c echo.Context) error {
	var paths []string
	if raw := strings.TrimSpace(c.QueryParam("paths")); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
	}
	result, err := s.manager.DocumentReferences(c.Request().Context(), c.Param("doc_id"), paths)
	if err != nil {
		return s.respondError(c, err)
	}
	return success(c, result)
}

func (s *Server) handlePhraseWebhook(c echo.Context) error {
	if !s.webhookAuthorized(c) {
		return fail(c, http.StatusUnauthorized, "Invalid webhook token", nil)
	}
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Unreadable body", nil)
	}
	out := s.reconciler.Handle(c.Request().Context(), payload)
	return respond(c, out.Status, webhookMessage(out.Body), out.Body)
}

func (s *Server) webhookAuthorized(c echo.Context) bool {
	if s.opts.WebhookToken == "" {
		return true
	}
	token := c.Request().Header.Get(webhookTokenHeader)
	if token == "" {
		token = c.QueryParam(webhookTokenQueryKey)
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.WebhookToken)) == 1
}

func webhookMessage(body any) string {
	m, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	if msg, ok := m["error"].(string); ok {
		return msg
	}
	msg, _ := m["message"].(string)
	return msg
}

// respondError maps manager errors onto JSend responses.
func (s *Server) respondError(c echo.Context, err error) error {
	payload := translation.NewErrorPayload(err)
	switch {
	case errors.Is(err, translation.ErrTMDNotFound), errors.Is(err, translation.ErrPTDNotFound), errors.Is(err, contentstore.ErrNotFound):
		return fail(c, http.StatusNotFound, err.Error(), payload)
	case errors.Is(err, translation.ErrTranslationExists), errors.Is(err, merge.ErrNotReadyToCommit):
		return fail(c, http.StatusConflict, err.Error(), payload)
	}
	status := translation.StatusForError(err)
	if status >= http.StatusInternalServerError {
		return internalErrorWithData(c, status, "Internal server error", payload)
	}
	return fail(c, status, err.Error(), payload)
}
