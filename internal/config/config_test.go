package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.toml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string // if set, use this path instead of temp file
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "valid config",
			content: `
host = "imap.example.com"
port = 993
tls_mode = "tls"
user = "alice"
password = "secret"
timeout = 30
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Host != "imap.example.com" {
					t.Errorf("host = %q", cfg.Host)
				}
				if cfg.Port != 993 {
					t.Errorf("port = %d, want 993", cfg.Port)
				}
				if !cfg.UseImplicitTLS() {
					t.Error("expected UseImplicitTLS to be true")
				}
			},
		},
		{
			name:    "file not found",
			path:    filepath.Join(t.TempDir(), "nonexistent.toml"),
			wantErr: true,
		},
		{
			name:    "invalid TOML syntax",
			content: `host = this is not valid toml!!!`,
			wantErr: true,
		},
		{
			name: "missing host",
			content: `
user = "alice"
password = "secret"
`,
			wantErr: true,
		},
		{
			name: "missing user",
			content: `
host = "imap.example.com"
password = "secret"
`,
			wantErr: true,
		},
		{
			name: "invalid tls_mode",
			content: `
host = "imap.example.com"
user = "alice"
tls_mode = "ssl3"
`,
			wantErr: true,
		},
		{
			name: "negative timeout",
			content: `
host = "imap.example.com"
user = "alice"
timeout = -1
`,
			wantErr: true,
		},
		{
			name: "port out of range",
			content: `
host = "imap.example.com"
user = "alice"
port = 70000
`,
			wantErr: true,
		},
		{
			name: "defaults with no tls_mode",
			content: `
host = "imap.example.com"
user = "alice"
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.UseImplicitTLS() || cfg.UseStartTLS() {
					t.Error("expected plaintext mode by default")
				}
				if cfg.EffectivePort() != 143 {
					t.Errorf("EffectivePort() = %d, want 143", cfg.EffectivePort())
				}
			},
		},
		{
			name: "starttls mode",
			content: `
host = "imap.example.com"
user = "alice"
tls_mode = "starttls"
`,
			check: func(t *testing.T, cfg *Config) {
				if !cfg.UseStartTLS() {
					t.Error("expected UseStartTLS to be true")
				}
				if cfg.EffectivePort() != 143 {
					t.Errorf("EffectivePort() = %d, want 143", cfg.EffectivePort())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = writeTemp(t, tt.content)
			}

			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestEffectivePortExplicit(t *testing.T) {
	cfg := &Config{Host: "h", User: "u", Port: 1143, TLSMode: TLSModeTLS}
	if cfg.EffectivePort() != 1143 {
		t.Errorf("EffectivePort() = %d, want explicit 1143", cfg.EffectivePort())
	}
}
