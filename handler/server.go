package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"patient-intake/internal/domain"
	"patient-intake/internal/integrations/twilio"
)

const (
	defaultRecordLimit = 50
	maxRecordLimit     = 100
)

type RecordLister interface {
	ListRecords(ctx context.Context, conversationID string, limit int) ([]domain.Record, error)
}

// WebhookServer exposes the handler over plain HTTP for local runs.
type WebhookServer struct {
	handler      *Handler
	records      RecordLister
	recordsToken string
}

type ServerOption func(*WebhookServer)

// WithRecordsToken sets the bearer token required by the records endpoint.
func WithRecordsToken(token string) ServerOption {
	return func(s *WebhookServer) {
		s.recordsToken = token
	}
}

// NewWebhookServer builds the HTTP routes. The records endpoint is only
// registered when records is non-nil and a records token is set.
func NewWebhookServer(h *Handler, records RecordLister, opts ...ServerOption) *WebhookServer {
	s := &WebhookServer{handler: h, records: records}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WebhookServer) Register(e *echo.Echo) {
	e.POST("/whatsapp", s.HandleWebhook)
	e.GET("/healthz", s.HandleHealth)
	if s.records != nil && s.recordsToken != "" {
		e.GET("/records/:conversation_id", s.HandleListRecords, s.requireToken())
	}
}

func (s *WebhookServer) requireToken() echo.MiddlewareFunc {
	want := []byte(s.recordsToken)
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), want) == 1, nil
		},
		ErrorHandler: func(_ error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		},
	})
}

func (s *WebhookServer) HandleWebhook(c echo.Context) error {
	req := c.Request()
	if err := req.ParseForm(); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_body"})
	}
	requestURL := c.Scheme() + "://" + req.Host + req.URL.RequestURI()
	resp := s.handler.HandleForm(req.Context(), requestURL, req.PostForm, req.Header.Get(twilio.SignatureHeader))
	return c.Blob(resp.StatusCode, resp.ContentType, []byte(resp.Body))
}

func (s *WebhookServer) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type recordResponse struct {
	ConversationID   string `json:"conversationId"`
	PatientID        string `json:"patientId"`
	CapturedAt       string `json:"capturedAt"`
	ArtifactLocation string `json:"imageUrl"`
	NoteLocation     string `json:"noteUrl"`
	Description      string `json:"description"`
	ContentType      string `json:"contentType"`
}

func (s *WebhookServer) HandleListRecords(c echo.Context) error {
	convID := strings.TrimSpace(c.Param("conversation_id"))
	if convID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "missing_conversation_id"})
	}
	limit := defaultRecordLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_limit"})
		}
		limit = min(n, maxRecordLimit)
	}

	records, err := s.records.ListRecords(c.Request().Context(), convID, limit)
	if err != nil {
		s.handler.logger.Error("list records failed", "conversation_id", convID, "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, recordResponse{
			ConversationID:   r.ConversationID,
			PatientID:        r.PatientID,
			CapturedAt:       r.CapturedAt.UTC().Format(time.RFC3339),
			ArtifactLocation: r.ArtifactLocation,
			NoteLocation:     r.NoteLocation,
			Description:      r.Description,
			ContentType:      r.ContentType,
		})
	}
	return c.JSON(http.StatusOK, out)
}
