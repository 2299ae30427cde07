package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"health-companion/internal/config"
	"health-companion/internal/usecase"
)

func fakeProvider(t *testing.T, status int, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		Provider:         config.ProviderOpenAI,
		Model:            "gpt-4o-mini",
		ProviderBaseURL:  baseURL,
		APIKey:           "test-key",
		SessionStore:     config.StoreMemory,
		MaxMessageLength: 2000,
	}
}

func post(t *testing.T, handle func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error), path, body string) events.APIGatewayProxyResponse {
	t.Helper()
	resp, err := handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodPost, Path: path, Body: body})
	require.NoError(t, err)
	return resp
}

type sessionBody struct {
	SessionID string `json:"sessionId"`
	Messages  []struct {
		ID     int64  `json:"id"`
		Text   string `json:"text"`
		Sender string `json:"sender"`
	} `json:"messages"`
	Error string `json:"error"`
}

type sendBody struct {
	Session sessionBody `json:"session"`
	Failed  bool        `json:"failed"`
}

const profileJSON = `{"age":30,"gender":"male","weight":80,"height":180,"activityLevel":"moderate","goal":"إنقاص الوزن"}`

func TestBuild_EndToEnd(t *testing.T) {
	srv, calls := fakeProvider(t, http.StatusOK, "ابدأ بالمشي 30 دقيقة يومياً.")
	h, err := Build(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)

	resp := post(t, h.Handle, "/sessions", profileJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created sessionBody
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &created))
	require.Len(t, created.Messages, 1)
	require.Equal(t, usecase.WelcomeMessage, created.Messages[0].Text)

	resp = post(t, h.Handle, "/sessions/"+created.SessionID+"/messages", `{"text":"كيف أبدأ؟"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sent sendBody
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &sent))
	require.False(t, sent.Failed)
	require.Len(t, sent.Session.Messages, 3)
	require.Equal(t, "كيف أبدأ؟", sent.Session.Messages[1].Text)
	require.Equal(t, "ابدأ بالمشي 30 دقيقة يومياً.", sent.Session.Messages[2].Text)
	require.Equal(t, "ai", sent.Session.Messages[2].Sender)
	require.Equal(t, int32(1), calls.Load())
}

func TestBuild_ProviderFailureIsInBand(t *testing.T) {
	srv, calls := fakeProvider(t, http.StatusTooManyRequests, "")
	h, err := Build(context.Background(), testConfig(srv.URL))
	require.NoError(t, err)

	resp := post(t, h.Handle, "/sessions", profileJSON)
	var created sessionBody
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &created))

	resp = post(t, h.Handle, "/sessions/"+created.SessionID+"/messages", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sent sendBody
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &sent))
	require.True(t, sent.Failed)
	require.Equal(t, usecase.FallbackMessage, sent.Session.Error)
	require.Equal(t, usecase.FallbackMessage, sent.Session.Messages[len(sent.Session.Messages)-1].Text)
	require.Equal(t, int32(1), calls.Load())
}

func TestBuild_DefaultsToGemini(t *testing.T) {
	cfg := testConfig("")
	cfg.Provider = config.ProviderGemini
	cfg.Model = ""

	h, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestBuild_AWSConfigError(t *testing.T) {
	orig := loadAWSConfig
	t.Cleanup(func() { loadAWSConfig = orig })
	loadAWSConfig = func(context.Context) (aws.Config, error) {
		return aws.Config{}, errors.New("no credentials")
	}

	cfg := testConfig("")
	cfg.SessionStore = config.StoreDynamoDB
	cfg.StateTable = "sessions"

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "load AWS config"))
}

func TestBuild_DynamoDBAndParameterStore(t *testing.T) {
	orig := loadAWSConfig
	t.Cleanup(func() { loadAWSConfig = orig })
	loadAWSConfig = func(context.Context) (aws.Config, error) {
		return aws.Config{Region: "eu-west-1"}, nil
	}

	cfg := testConfig("")
	cfg.APIKey = ""
	cfg.KeyParameter = "/health-companion/provider-key"
	cfg.SessionStore = config.StoreDynamoDB
	cfg.StateTable = "sessions"

	h, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, h)
}
