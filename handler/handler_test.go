package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"health-companion/internal/domain"
	"health-companion/internal/usecase"
)

type stubUseCase struct {
	session domain.Session
	out     usecase.SendOutput
	err     error

	draft  domain.ProfileDraft
	id     string
	sendIn usecase.SendInput
}

func (s *stubUseCase) StartSession(_ context.Context, draft domain.ProfileDraft) (domain.Session, error) {
	s.draft = draft
	return s.session, s.err
}

func (s *stubUseCase) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.id = id
	return s.session, s.err
}

func (s *stubUseCase) SendMessage(_ context.Context, in usecase.SendInput) (usecase.SendOutput, error) {
	s.sendIn = in
	return s.out, s.err
}

var testSession = domain.Session{
	ID: "sess-1",
	Profile: domain.UserProfile{
		Age:           30,
		Gender:        domain.GenderFemale,
		Weight:        62.5,
		Height:        165,
		ActivityLevel: domain.ActivityLight,
		Goal:          "تحسين اللياقة",
	},
	Messages: []domain.Message{
		{ID: 1, Text: usecase.WelcomeMessage, Sender: domain.SenderAI, SentAt: time.Unix(0, 0)},
	},
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_StartSession(t *testing.T) {
	uc := &stubUseCase{session: testSession}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	body := `{"age":30,"gender":"female","weight":62.5,"height":165,"activityLevel":"light","goal":"تحسين اللياقة"}`
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions", body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, domain.ProfileDraft{Age: 30, Gender: "female", Weight: 62.5, Height: 165, ActivityLevel: "light", Goal: "تحسين اللياقة"}, uc.draft)

	out := parseBody[sessionView](t, resp.Body)
	require.Equal(t, "sess-1", out.SessionID)
	require.Equal(t, "light", out.Profile.ActivityLevel)
	require.Len(t, out.Messages, 1)
	require.Equal(t, messageView{ID: 1, Text: usecase.WelcomeMessage, Sender: "ai"}, out.Messages[0])
	require.False(t, out.Pending)
	require.Empty(t, out.Error)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_GetSession(t *testing.T) {
	uc := &stubUseCase{session: testSession}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions/sess-1", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "sess-1", uc.id)
}

func TestHandle_SendMessage(t *testing.T) {
	session := testSession
	session.Messages = append([]domain.Message{}, testSession.Messages...)
	session.Messages = append(session.Messages,
		domain.Message{ID: 2, Text: "مرحبا", Sender: domain.SenderUser},
		domain.Message{ID: 3, Text: usecase.FallbackMessage, Sender: domain.SenderAI},
	)
	session.LastError = usecase.FallbackMessage
	uc := &stubUseCase{out: usecase.SendOutput{Session: session, Reply: session.Messages[2], Failed: true}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions/sess-1/messages", `{"text":"مرحبا"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.SendInput{SessionID: "sess-1", Text: "مرحبا"}, uc.sendIn)

	out := parseBody[sendResponse](t, resp.Body)
	require.True(t, out.Failed)
	require.Equal(t, int64(3), out.Reply.ID)
	require.Equal(t, usecase.FallbackMessage, out.Session.Error)
	require.Len(t, out.Session.Messages, 3)
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubUseCase{}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	for _, path := range []string{"/sessions", "/sessions/sess-1/messages"} {
		resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, path, `not-json`))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		out := parseBody[errorResponse](t, resp.Body)
		require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	}
}

func TestHandle_Routing(t *testing.T) {
	h, err := NewHandler(&stubUseCase{session: testSession})
	require.NoError(t, err)

	cases := []struct {
		method string
		path   string
		status int
	}{
		{method: http.MethodGet, path: "/", status: http.StatusNotFound},
		{method: http.MethodGet, path: "/ask", status: http.StatusNotFound},
		{method: http.MethodGet, path: "/sessions", status: http.StatusMethodNotAllowed},
		{method: http.MethodDelete, path: "/sessions/sess-1", status: http.StatusMethodNotAllowed},
		{method: http.MethodGet, path: "/sessions/sess-1/messages", status: http.StatusMethodNotAllowed},
		{method: http.MethodPost, path: "/sessions/sess-1/other", status: http.StatusNotFound},
		{method: http.MethodGet, path: "/sessions/sess-1/messages/1", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp, err := h.Handle(context.Background(), makeEvent(tc.method, tc.path, ""))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "incomplete profile", err: &usecase.Error{Code: usecase.ErrorValidationIncomplete, Reason: "profile_incomplete"}, status: http.StatusBadRequest, code: string(usecase.ErrorValidationIncomplete)},
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorSessionNotFound, Reason: "session_not_found"}, status: http.StatusNotFound, code: string(usecase.ErrorSessionNotFound)},
		{name: "busy", err: &usecase.Error{Code: usecase.ErrorSessionBusy, Reason: "request_in_flight"}, status: http.StatusConflict, code: string(usecase.ErrorSessionBusy)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "session_create_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{err: tc.err}
			h, err := NewHandler(uc)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions/sess-1/messages", `{"text":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubUseCase{session: testSession}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(http.MethodGet, "/sessions/sess-1", "")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_CORS(t *testing.T) {
	h, err := NewHandler(&stubUseCase{}, WithAllowedOrigin("https://app.example"))
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodOptions, "/sessions", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://app.example", resp.Headers["Access-Control-Allow-Origin"])
	require.Empty(t, resp.Body)
}
