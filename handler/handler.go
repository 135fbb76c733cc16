package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"patient-intake/internal/domain"
	"patient-intake/internal/integrations/twilio"
)

const correlationHeader = "X-Correlation-Id"

type Controller interface {
	Handle(ctx context.Context, ev domain.Event) (string, error)
}

// Response is the transport-neutral result of one webhook call.
type Response struct {
	StatusCode  int
	ContentType string
	Body        string
}

type errorResponse struct {
	Error string `json:"error"`
}

type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message"`
}

type Handler struct {
	ctrl      Controller
	authToken string
	publicURL string
	logger    *slog.Logger
}

type Option func(*Handler)

// WithSignatureValidation rejects requests whose X-Twilio-Signature does not
// match authToken. publicURL is the URL Twilio was configured to call; when
// empty it is rebuilt from the request.
func WithSignatureValidation(authToken, publicURL string) Option {
	return func(h *Handler) {
		h.authToken = authToken
		h.publicURL = publicURL
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(ctrl Controller, opts ...Option) (*Handler, error) {
	if ctrl == nil {
		return nil, errors.New("handler: controller must not be nil")
	}
	h := &Handler{ctrl: ctrl, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves Twilio webhooks delivered through API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := header(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := h.logger.With("correlation_id", corrID)

	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			log.Warn("invalid base64 body", "err", err)
			return toProxy(errorJSON(http.StatusBadRequest, "invalid_body"), corrID), nil
		}
		body = string(decoded)
	}
	form, err := url.ParseQuery(body)
	if err != nil {
		log.Warn("invalid form body", "err", err)
		return toProxy(errorJSON(http.StatusBadRequest, "invalid_body"), corrID), nil
	}

	resp := h.handleForm(ctx, log, h.requestURL(req), form, header(req.Headers, twilio.SignatureHeader))
	return toProxy(resp, corrID), nil
}

// HandleForm processes an already decoded webhook form. requestURL is the
// full URL the request was sent to and is only used for signature checks.
func (h *Handler) HandleForm(ctx context.Context, requestURL string, form url.Values, signature string) Response {
	return h.handleForm(ctx, h.logger, requestURL, form, signature)
}

func (h *Handler) handleForm(ctx context.Context, log *slog.Logger, requestURL string, form url.Values, signature string) Response {
	if h.authToken != "" {
		signedURL := requestURL
		if h.publicURL != "" {
			signedURL = h.publicURL
		}
		if !twilio.ValidateSignature(h.authToken, signedURL, form, signature) {
			log.Warn("rejected webhook signature", "url", signedURL)
			return errorJSON(http.StatusForbidden, "invalid_signature")
		}
	}

	ev, ok := eventFromForm(form)
	if !ok {
		log.Warn("webhook without sender")
		return errorJSON(http.StatusBadRequest, "missing_from")
	}

	reply, err := h.ctrl.Handle(ctx, ev)
	if err != nil {
		log.Error("controller failed", "conversation_id", ev.ConversationID, "err", err)
		return errorJSON(http.StatusInternalServerError, "internal_error")
	}
	return twiml(reply)
}

func eventFromForm(form url.Values) (domain.Event, bool) {
	from := strings.TrimSpace(form.Get("From"))
	if from == "" {
		return domain.Event{}, false
	}
	ev := domain.Event{ConversationID: from, Text: form.Get("Body")}

	mediaURL := strings.TrimSpace(form.Get("MediaUrl0"))
	if n := form.Get("NumMedia"); n != "" {
		if count, err := strconv.Atoi(n); err == nil && count == 0 {
			mediaURL = ""
		}
	}
	ev.MediaRef = mediaURL
	return ev, true
}

func (h *Handler) requestURL(req events.APIGatewayProxyRequest) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	host := header(req.Headers, "Host")
	if host == "" {
		host = req.RequestContext.DomainName
	}
	proto := header(req.Headers, "X-Forwarded-Proto")
	if proto == "" {
		proto = "https"
	}
	path := req.Path
	if stage := req.RequestContext.Stage; stage != "" && stage != "$default" && !strings.HasPrefix(path, "/"+stage+"/") {
		path = "/" + stage + path
	}
	u := proto + "://" + host + path
	if q := queryValues(req); len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func queryValues(req events.APIGatewayProxyRequest) url.Values {
	q := url.Values{}
	for k, vs := range req.MultiValueQueryStringParameters {
		q[k] = append([]string(nil), vs...)
	}
	for k, v := range req.QueryStringParameters {
		if _, ok := q[k]; !ok {
			q.Set(k, v)
		}
	}
	return q
}

func twiml(reply string) Response {
	doc := twimlResponse{}
	if reply != "" {
		doc.Messages = []string{reply}
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return errorJSON(http.StatusInternalServerError, "internal_error")
	}
	return Response{
		StatusCode:  http.StatusOK,
		ContentType: "text/xml",
		Body:        xml.Header + string(out),
	}
}

func errorJSON(status int, code string) Response {
	out, _ := json.Marshal(errorResponse{Error: code})
	return Response{StatusCode: status, ContentType: "application/json", Body: string(out)}
}

func toProxy(r Response, corrID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: r.StatusCode,
		Headers: map[string]string{
			"Content-Type":    r.ContentType,
			correlationHeader: corrID,
		},
		Body: r.Body,
	}
}

// header looks a key up case-insensitively; API Gateway does not normalise
// header casing.
func header(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
