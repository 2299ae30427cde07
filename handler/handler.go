package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"health-companion/internal/domain"
	"health-companion/internal/observability"
	"health-companion/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatUseCase is the application surface the handler drives.
type ChatUseCase interface {
	StartSession(ctx context.Context, draft domain.ProfileDraft) (domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	SendMessage(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
}

type Handler struct {
	uc            ChatUseCase
	allowedOrigin string
}

type Option func(*Handler)

// WithAllowedOrigin sets Access-Control-Allow-Origin on every response.
func WithAllowedOrigin(origin string) Option {
	return func(h *Handler) {
		h.allowedOrigin = origin
	}
}

func NewHandler(uc ChatUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type messageView struct {
	ID     int64  `json:"id"`
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

type profileView struct {
	Age           int     `json:"age"`
	Gender        string  `json:"gender"`
	Weight        float64 `json:"weight"`
	Height        float64 `json:"height"`
	ActivityLevel string  `json:"activityLevel"`
	Goal          string  `json:"goal"`
}

type sessionView struct {
	SessionID string        `json:"sessionId"`
	Profile   profileView   `json:"profile"`
	Messages  []messageView `json:"messages"`
	Pending   bool          `json:"pending"`
	Error     string        `json:"error,omitempty"`
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	Session sessionView `json:"session"`
	Reply   messageView `json:"reply"`
	Failed  bool        `json:"failed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle serves the session API behind API Gateway.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)
	log := observability.LoggerFromContext(ctx)

	if event.HTTPMethod == http.MethodOptions {
		return h.respond(correlationID, http.StatusNoContent, nil), nil
	}

	status, body := h.route(ctx, event)
	log.Info("request completed",
		"method", event.HTTPMethod,
		"path", event.Path,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return h.respond(correlationID, status, body), nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest) (int, any) {
	parts := splitPath(event.Path)
	if len(parts) == 0 || parts[0] != "sessions" || len(parts) > 3 {
		return http.StatusNotFound, errorResponse{Error: "NOT_FOUND"}
	}

	switch len(parts) {
	case 1:
		if event.HTTPMethod != http.MethodPost {
			return methodNotAllowed()
		}
		var draft domain.ProfileDraft
		if err := json.Unmarshal([]byte(event.Body), &draft); err != nil {
			return invalidBody()
		}
		session, err := h.uc.StartSession(ctx, draft)
		if err != nil {
			return errorStatus(ctx, err)
		}
		return http.StatusCreated, toSessionView(session)

	case 2:
		if event.HTTPMethod != http.MethodGet {
			return methodNotAllowed()
		}
		session, err := h.uc.GetSession(ctx, parts[1])
		if err != nil {
			return errorStatus(ctx, err)
		}
		return http.StatusOK, toSessionView(session)

	default:
		if parts[2] != "messages" {
			return http.StatusNotFound, errorResponse{Error: "NOT_FOUND"}
		}
		if event.HTTPMethod != http.MethodPost {
			return methodNotAllowed()
		}
		var req sendRequest
		if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
			return invalidBody()
		}
		out, err := h.uc.SendMessage(ctx, usecase.SendInput{SessionID: parts[1], Text: req.Text})
		if err != nil {
			return errorStatus(ctx, err)
		}
		return http.StatusOK, toSendResponse(out)
	}
}

func (h *Handler) respond(correlationID string, status int, body any) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: correlationID,
	}
	if h.allowedOrigin != "" {
		headers["Access-Control-Allow-Origin"] = h.allowedOrigin
		headers["Access-Control-Allow-Headers"] = "Content-Type, " + correlationHeader
		headers["Access-Control-Allow-Methods"] = "GET, POST, OPTIONS"
	}

	resp := events.APIGatewayProxyResponse{StatusCode: status, Headers: headers}
	if body == nil {
		return resp
	}
	raw, err := json.Marshal(body)
	if err != nil {
		resp.StatusCode = http.StatusInternalServerError
		resp.Body = `{"error":"INTERNAL_ERROR"}`
		return resp
	}
	resp.Body = string(raw)
	return resp
}

// errorStatus maps use case errors to an HTTP status and the public error code.
func errorStatus(ctx context.Context, err error) (int, any) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		observability.LoggerFromContext(ctx).Error("unexpected error", "error", err)
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorValidationIncomplete, usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorSessionNotFound:
		status = http.StatusNotFound
	case usecase.ErrorSessionBusy:
		status = http.StatusConflict
	case usecase.ErrorAdviceRequestFailed:
		status = http.StatusBadGateway
	}
	observability.LoggerFromContext(ctx).Warn("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "status", status)
	return status, errorResponse{Error: string(ucErr.Code)}
}

func invalidBody() (int, any) {
	return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)}
}

func methodNotAllowed() (int, any) {
	return http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"}
}

func toSessionView(s domain.Session) sessionView {
	messages := make([]messageView, 0, len(s.Messages))
	for _, m := range s.Messages {
		messages = append(messages, toMessageView(m))
	}
	return sessionView{
		SessionID: s.ID,
		Profile: profileView{
			Age:           s.Profile.Age,
			Gender:        string(s.Profile.Gender),
			Weight:        s.Profile.Weight,
			Height:        s.Profile.Height,
			ActivityLevel: string(s.Profile.ActivityLevel),
			Goal:          s.Profile.Goal,
		},
		Messages: messages,
		Pending:  s.Pending,
		Error:    s.LastError,
	}
}

func toMessageView(m domain.Message) messageView {
	return messageView{ID: m.ID, Text: m.Text, Sender: string(m.Sender)}
}

func toSendResponse(out usecase.SendOutput) sendResponse {
	return sendResponse{
		Session: toSessionView(out.Session),
		Reply:   toMessageView(out.Reply),
		Failed:  out.Failed,
	}
}

// headerValue looks up a header case-insensitively; API Gateway does not
// normalize header names.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
