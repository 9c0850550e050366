package internal

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	pkgconfig "github.com/starford/raido/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestStoreConfig_Defaults(t *testing.T) {
	cfg := StoreConfig{Path: "./records"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("minimal store config should pass: %v", err)
	}
	if cfg.Extension != ".rec" || cfg.Coordination != "flock" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestStoreConfig_Invalid(t *testing.T) {
	cases := map[string]StoreConfig{
		"no path":      {Extension: ".rec"},
		"bad ext":      {Path: "x", Extension: "rec"},
		"coordination": {Path: "x", Coordination: "nfs"},
		"debounce":     {Path: "x", Debounce: -time.Second},
		"workers":      {Path: "x", FetchWorkers: -1},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestDecodeConfigFile(t *testing.T) {
	t.Setenv("RAIDO_TEST_TOKEN", "s3cret")
	data := []byte(`
app:
  log_level: debug
  http:
    port: 9090
store:
  path: /srv/records
  coordination: local
  debounce: 250ms
  fetch_workers: 4
sqlite:
  path: /srv/raido.db
model:
  path: /srv/model.yaml
auth:
  mode: token
  token: ${RAIDO_TEST_TOKEN}
`)
	cfg := NewDefaultConfig()
	if err := pkgconfig.Decode(data, cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Config{
		App: ApplicationConfig{LogLevel: slog.LevelDebug, HTTP: HTTPConfig{Port: 9090}},
		Store: StoreConfig{
			Path:         "/srv/records",
			Extension:    ".rec",
			Coordination: "local",
			Debounce:     250 * time.Millisecond,
			FetchWorkers: 4,
		},
		SQLite: SQLiteConfig{Path: "/srv/raido.db"},
		Model:  ModelConfig{Path: "/srv/model.yaml"},
		Auth:   AuthConfig{Mode: AuthModeToken, Token: "s3cret"},
	}
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}
