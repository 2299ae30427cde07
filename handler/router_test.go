package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"health-companion/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	h, err := NewHandler(&stubUseCase{})
	require.NoError(t, err)

	rec := serve(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
}

func TestRouter_SessionLifecycle(t *testing.T) {
	uc := &stubUseCase{session: testSession, out: usecase.SendOutput{Session: testSession, Reply: testSession.Messages[0]}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	rec := serve(t, h, http.MethodPost, "/sessions", `{"age":30,"gender":"female","weight":62.5,"height":165,"activityLevel":"light","goal":"g"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "sess-1", parseBody[sessionView](t, rec.Body.String()).SessionID)

	rec = serve(t, h, http.MethodGet, "/sessions/sess-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "sess-1", uc.id)

	rec = serve(t, h, http.MethodPost, "/sessions/sess-1/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, usecase.SendInput{SessionID: "sess-1", Text: "hello"}, uc.sendIn)
}

func TestRouter_Errors(t *testing.T) {
	uc := &stubUseCase{err: &usecase.Error{Code: usecase.ErrorSessionBusy, Reason: "request_in_flight"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	rec := serve(t, h, http.MethodPost, "/sessions/sess-1/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(usecase.ErrorSessionBusy), parseBody[errorResponse](t, rec.Body.String()).Error)

	rec = serve(t, h, http.MethodPost, "/sessions", `not-json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, http.MethodGet, "/nowhere", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, h, http.MethodDelete, "/sessions/sess-1", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h, err := NewHandler(&stubUseCase{}, WithAllowedOrigin("https://app.example"))
	require.NoError(t, err)

	rec := serve(t, h, http.MethodOptions, "/sessions", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
