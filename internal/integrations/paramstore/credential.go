// Package paramstore resolves the provider credential, either from process
// configuration or from an SSM SecureString parameter.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the part of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Credential reads the key from a parameter on first use and keeps it until
// the refresh interval elapses. Failed reads are not cached.
type Credential struct {
	api          ssmAPI
	name         string
	refreshAfter time.Duration
	now          func() time.Time

	mu        sync.Mutex
	value     string
	fetchedAt time.Time
}

type Option func(*Credential)

// WithRefreshAfter re-reads the parameter once the cached value is older than
// d, so a rotated key is picked up without a restart. Zero keeps it forever.
func WithRefreshAfter(d time.Duration) Option {
	return func(c *Credential) {
		c.refreshAfter = d
	}
}

func NewCredential(api ssmAPI, name string, opts ...Option) (*Credential, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: parameter name is required")
	}
	c := &Credential{api: api, name: name, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Credential) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value != "" && (c.refreshAfter <= 0 || c.now().Sub(c.fetchedAt) < c.refreshAfter) {
		return c.value, nil
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(c.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", c.name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	value, err := decodeToken(*out.Parameter.Value)
	if err != nil {
		return "", err
	}
	c.value = value
	c.fetchedAt = c.now()
	return value, nil
}

type tokenPayload struct {
	Token string `json:"token"`
}

// decodeToken accepts either {"token":"..."} or the bare secret.
func decodeToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("paramstore: API token is empty")
	}
	return raw, nil
}

// Static is a credential supplied directly through process configuration.
type Static string

func (s Static) Token(_ context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", errors.New("paramstore: API token is empty")
	}
	return string(s), nil
}
