package connection

import (
	"context"
	"os"
	"strings"
)

// Environment variables read by the default provider.
const (
	EnvBaseURL        = "UNBLU_BASE_URL"
	EnvAPIKey         = "UNBLU_API_KEY"
	EnvUsername       = "UNBLU_USERNAME"
	EnvPassword       = "UNBLU_PASSWORD"
	EnvTrustedHeaders = "UNBLU_TRUSTED_HEADERS"
)

const defaultBaseURL = "https://unblu.cloud/app/rest/v4"

// DefaultProvider serves direct connections to Unblu Cloud or a
// self-hosted deployment with network access. Constructor arguments
// win over environment variables; unset values fall back to the
// environment on every Config call.
type DefaultProvider struct {
	baseURL        string
	apiKey         string
	username       string
	password       string
	trustedHeaders map[string]string
}

// NewDefaultProvider creates a provider from explicit values. Any
// empty argument is resolved from the environment at access time.
func NewDefaultProvider(baseURL, apiKey, username, password string, trustedHeaders map[string]string) *DefaultProvider {
	return &DefaultProvider{
		baseURL:        baseURL,
		apiKey:         apiKey,
		username:       username,
		password:       password,
		trustedHeaders: trustedHeaders,
	}
}

func (p *DefaultProvider) Setup(context.Context) error            { return nil }
func (p *DefaultProvider) EnsureConnection(context.Context) error { return nil }
func (p *DefaultProvider) Teardown(context.Context) error         { return nil }
func (p *DefaultProvider) HealthCheck(context.Context) bool       { return true }

// Config resolves the connection from constructor args and environment
// variables. Credential precedence: trusted headers, then API key
// (bearer), then basic auth.
func (p *DefaultProvider) Config() Config {
	baseURL := firstNonEmpty(p.baseURL, os.Getenv(EnvBaseURL), defaultBaseURL)
	apiKey := firstNonEmpty(p.apiKey, os.Getenv(EnvAPIKey))
	username := firstNonEmpty(p.username, os.Getenv(EnvUsername))
	password := firstNonEmpty(p.password, os.Getenv(EnvPassword))

	trusted := p.trustedHeaders
	if trusted == nil {
		trusted = ParseTrustedHeaders(os.Getenv(EnvTrustedHeaders))
	}

	cfg := Config{
		BaseURL: baseURL,
		Headers: map[string]string{},
		Timeout: DefaultTimeout,
	}
	switch {
	case len(trusted) > 0:
		for k, v := range trusted {
			cfg.Headers[k] = v
		}
	case apiKey != "":
		cfg.Bearer = apiKey
	case username != "" && password != "":
		cfg.Basic = &BasicAuth{Username: username, Password: password}
	}
	return cfg
}

// ParseTrustedHeaders parses "key:value,key:value" into a header map.
// Pairs without a colon are ignored.
func ParseTrustedHeaders(s string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
