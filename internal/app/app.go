// Package app wires the configured providers, stores and use cases into a
// ready handler. Both entry points in cmd/ go through Build.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"health-companion/handler"
	"health-companion/internal/config"
	"health-companion/internal/integrations/gemini"
	"health-companion/internal/integrations/openai"
	"health-companion/internal/integrations/paramstore"
	"health-companion/internal/repository"
	"health-companion/internal/repository/memory"
	"health-companion/internal/usecase"
)

// tokenSource is satisfied by both paramstore.Static and *paramstore.Credential.
type tokenSource interface {
	Token(ctx context.Context) (string, error)
}

// loadAWSConfig is replaced in tests.
var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

func Build(ctx context.Context, cfg config.Config) (*handler.Handler, error) {
	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		var err error
		awsCfg, err = loadAWSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
	}

	tokens, err := newTokenSource(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	llm, err := newCompleter(cfg, tokens)
	if err != nil {
		return nil, err
	}
	store, err := newSessionStore(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	advice, err := usecase.NewAdviceService(llm, usecase.WithTranscript(cfg.ForwardHistory))
	if err != nil {
		return nil, err
	}
	chat, err := usecase.NewChatService(advice, store, cfg.MaxMessageLength)
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(chat, handler.WithAllowedOrigin(cfg.AllowedOrigin))
}

func newTokenSource(cfg config.Config, awsCfg aws.Config) (tokenSource, error) {
	if cfg.APIKey != "" {
		return paramstore.Static(cfg.APIKey), nil
	}
	return paramstore.NewCredential(awsssm.NewFromConfig(awsCfg), cfg.KeyParameter,
		paramstore.WithRefreshAfter(cfg.KeyRefresh))
}

func newCompleter(cfg config.Config, tokens tokenSource) (usecase.Completer, error) {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithHTTPClient(httpClient)}
		if cfg.ProviderBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.ProviderBaseURL))
		}
		return openai.NewClient(tokens, cfg.Model, opts...)
	default:
		return gemini.NewClient(tokens, cfg.Model, gemini.WithHTTPClient(httpClient))
	}
}

// staleTurnMargin covers the turn's two store writes on top of the provider call.
const staleTurnMargin = 30 * time.Second

func newSessionStore(cfg config.Config, awsCfg aws.Config) (usecase.SessionStore, error) {
	staleAfter := cfg.ProviderTimeout + staleTurnMargin
	if cfg.SessionStore == config.StoreDynamoDB {
		return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, cfg.SessionTTL,
			repository.WithStaleTurnAfter(staleAfter))
	}
	return memory.NewSessionStore(cfg.SessionTTL, memory.WithStaleTurnAfter(staleAfter)), nil
}
