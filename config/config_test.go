package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hellofs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Backend != BackendNative {
		t.Errorf("expected backend=native, got %s", cfg.Backend)
	}
	if cfg.FSName != "hello_fs_ll" {
		t.Errorf("expected fsname=hello_fs_ll, got %s", cfg.FSName)
	}
	if cfg.File.Name != "hello.txt" {
		t.Errorf("expected file.name=hello.txt, got %s", cfg.File.Name)
	}
	if cfg.File.Content != "Hello world!\n" {
		t.Errorf("expected default content, got %q", cfg.File.Content)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_NoPathUsesDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.File.Name != "hello.txt" {
		t.Errorf("expected default file name, got %q", cfg.File.Name)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	path := writeConfig(t, `
mountpoint: /mnt/hello
backend: gofuse
readers: 4
file:
  name: greeting.txt
`)
	t.Setenv(EnvVar, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Mountpoint != "/mnt/hello" {
		t.Errorf("expected mountpoint=/mnt/hello, got %s", cfg.Mountpoint)
	}
	if cfg.Backend != BackendGoFuse {
		t.Errorf("expected backend=gofuse, got %s", cfg.Backend)
	}
	if cfg.Readers != 4 {
		t.Errorf("expected readers=4, got %d", cfg.Readers)
	}
	if cfg.File.Name != "greeting.txt" {
		t.Errorf("expected file.name=greeting.txt, got %s", cfg.File.Name)
	}
	// Keys missing from the file keep their defaults.
	if cfg.File.Content != "Hello world!\n" {
		t.Errorf("expected default content, got %q", cfg.File.Content)
	}
	if cfg.FSName != "hello_fs_ll" {
		t.Errorf("expected default fsname, got %s", cfg.FSName)
	}
}

func TestLoad_ExplicitPathWinsOverEnvironment(t *testing.T) {
	t.Setenv(EnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	path := writeConfig(t, "fsname: explicit\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.FSName != "explicit" {
		t.Errorf("expected fsname=explicit, got %s", cfg.FSName)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	path := writeConfig(t, "readers: [not, a, number]\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "nfs" }, "backend"},
		{"empty file name", func(c *Config) { c.File.Name = "" }, "file.name"},
		{"dot name", func(c *Config) { c.File.Name = "." }, "reserved"},
		{"dotdot name", func(c *Config) { c.File.Name = ".." }, "reserved"},
		{"slash in name", func(c *Config) { c.File.Name = "a/b" }, "file.name"},
		{"no readers", func(c *Config) { c.Readers = 0 }, "readers"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "info", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}

	logger.Debug("hidden")
	logger.Info("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"key":"value"`) {
		t.Errorf("expected JSON record, got %s", out)
	}
}

func TestNamespace(t *testing.T) {
	cfg := Default()
	cfg.File.Name = "motd"
	cfg.File.Content = "hi\n"

	ns, err := cfg.Namespace()
	if err != nil {
		t.Fatalf("Namespace() failed: %v", err)
	}
	if ns.FileName() != "motd" || ns.Size() != 3 {
		t.Errorf("got name=%q size=%d", ns.FileName(), ns.Size())
	}
}
