package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSecret(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestResolveSecret(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		file    string
		noFile  bool
		want    string
		wantErr bool
	}{
		{name: "env only", env: "env-value", want: "env-value"},
		{name: "file only", file: "file-value\n", want: "file-value"},
		{name: "file wins over env", env: "env-value", file: "file-value", want: "file-value"},
		{name: "neither set", want: ""},
		{name: "whitespace trimmed", file: "  secret-value  \n\n", want: "secret-value"},
		{name: "empty file", file: "", want: ""},
		{name: "missing file", noFile: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const envName = "SOUNDSTAGE_TEST_SECRET"
			t.Setenv(envName, tt.env)
			t.Setenv(envName+"_FILE", "")

			switch {
			case tt.noFile:
				t.Setenv(envName+"_FILE", "/nonexistent/path/to/secret")
			case tt.file != "" || tt.name == "empty file":
				t.Setenv(envName+"_FILE", writeSecret(t, tt.file))
			}

			value, err := ResolveSecret(envName)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error when file does not exist")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if value != tt.want {
				t.Errorf("got %q, want %q", value, tt.want)
			}
		})
	}
}

func TestResolveCredentials(t *testing.T) {
	t.Setenv("SOUNDSTAGE_ADMIN_USER", "gm")
	t.Setenv("SOUNDSTAGE_ADMIN_PASS_FILE", writeSecret(t, "dragons\n"))
	t.Setenv("SOUNDSTAGE_PG_PASSWORD", "pg-secret")

	cfg := Default()
	if err := cfg.ResolveCredentials(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.AdminUser != "gm" || cfg.API.AdminPass != "dragons" {
		t.Errorf("unexpected admin credentials %q/%q", cfg.API.AdminUser, cfg.API.AdminPass)
	}
	if cfg.API.OperatorUser != "" {
		t.Errorf("expected no operator user, got %q", cfg.API.OperatorUser)
	}
	if cfg.Postgres.Password != "pg-secret" {
		t.Errorf("expected postgres password, got %q", cfg.Postgres.Password)
	}
}
