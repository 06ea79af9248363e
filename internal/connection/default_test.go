package connection

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvBaseURL, EnvAPIKey, EnvUsername, EnvPassword, EnvTrustedHeaders} {
		t.Setenv(key, "")
	}
}

// TestDefaultProviderBaseURL verifies constructor args win over the
// environment, which wins over the built-in cloud default.
func TestDefaultProviderBaseURL(t *testing.T) {
	clearEnv(t)

	if got := NewDefaultProvider("", "", "", "", nil).Config().BaseURL; got != defaultBaseURL {
		t.Fatalf("BaseURL = %q, want built-in default", got)
	}

	t.Setenv(EnvBaseURL, "https://env.example.com/rest/v4")
	if got := NewDefaultProvider("", "", "", "", nil).Config().BaseURL; got != "https://env.example.com/rest/v4" {
		t.Fatalf("BaseURL = %q, want env value", got)
	}

	if got := NewDefaultProvider("https://arg.example.com", "", "", "", nil).Config().BaseURL; got != "https://arg.example.com" {
		t.Fatalf("BaseURL = %q, want constructor value", got)
	}
}

// TestDefaultProviderCredentialPrecedence verifies trusted headers beat
// the API key, which beats basic auth.
func TestDefaultProviderCredentialPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "key123")
	t.Setenv(EnvUsername, "alice")
	t.Setenv(EnvPassword, "secret")

	cfg := NewDefaultProvider("", "", "", "", nil).Config()
	if cfg.Bearer != "key123" {
		t.Fatalf("Bearer = %q, want the API key", cfg.Bearer)
	}
	if cfg.Basic != nil {
		t.Fatal("basic auth set despite API key")
	}

	t.Setenv(EnvTrustedHeaders, "x-unblu-trusted-user-id:superadmin,x-unblu-trusted-user-role:SUPER_ADMIN")
	cfg = NewDefaultProvider("", "", "", "", nil).Config()
	if cfg.Bearer != "" || cfg.Basic != nil {
		t.Fatal("trusted headers should suppress other credentials")
	}
	if cfg.Headers["x-unblu-trusted-user-id"] != "superadmin" {
		t.Fatalf("Headers = %v", cfg.Headers)
	}

	t.Setenv(EnvTrustedHeaders, "")
	t.Setenv(EnvAPIKey, "")
	cfg = NewDefaultProvider("", "", "", "", nil).Config()
	if cfg.Basic == nil || cfg.Basic.Username != "alice" || cfg.Basic.Password != "secret" {
		t.Fatalf("Basic = %+v, want the username/password pair", cfg.Basic)
	}
}

// TestParseTrustedHeaders verifies the k:v,k:v format, whitespace
// tolerance and the skip of malformed pairs.
func TestParseTrustedHeaders(t *testing.T) {
	got := ParseTrustedHeaders(" x-a : 1 ,x-b:2,malformed,")
	if len(got) != 2 || got["x-a"] != "1" || got["x-b"] != "2" {
		t.Fatalf("ParseTrustedHeaders = %v", got)
	}
}
