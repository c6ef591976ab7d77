package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/KarpelesLab/hellofs/config"
)

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return exitUsage
}

func TestRunExitCodes(t *testing.T) {
	t.Setenv(config.EnvVar, "")
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	badConfig := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(badConfig, []byte("backend: nfs\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"version", []string{"--version"}, 0},
		{"help", []string{"--help"}, 0},
		{"unknown flag", []string{"--bogus"}, exitUsage},
		{"no mountpoint", nil, exitMountpoint},
		{"extra argument", []string{"/a", "/b"}, exitUsage},
		{"bad backend flag", []string{"--backend", "nfs", "/mnt"}, exitUsage},
		{"zero readers", []string{"--readers", "0", "/mnt"}, exitUsage},
		{"missing config file", []string{"--config", missing + ".yaml", "/mnt"}, exitUsage},
		{"invalid config file", []string{"--config", badConfig, "/mnt"}, exitUsage},
		{"mount failure", []string{missing}, exitMount},
		{"mount failure via flag", []string{"--mountpoint", missing}, exitMount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args)
			if got := exitCode(err); got != tt.want {
				t.Errorf("run(%q) exit code = %d (err %v), want %d", tt.args, got, err, tt.want)
			}
		})
	}
}

func TestRunFlagOverridesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hellofs.yaml")
	if err := os.WriteFile(path, []byte("backend: nfs\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(config.EnvVar, path)

	// The flag replaces the invalid backend, so the run gets as far as
	// mounting the missing directory.
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	err := run([]string{"--backend", "native", missing})
	if got := exitCode(err); got != exitMount {
		t.Errorf("exit code = %d (err %v), want %d", got, err, exitMount)
	}
}
