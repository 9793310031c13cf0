package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	bookstore "github.com/asaidimu/bookstore-queries"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestExitError_Unwrap(t *testing.T) {
	t.Parallel()
	inner := fmt.Errorf("root cause")
	ee := &ExitError{Code: ExitCodeInvalidConfig, Err: inner}
	require.ErrorIs(t, ee, inner)
	require.Equal(t, "root cause", ee.Error())
}

func TestExitCodeFromError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "explicit exit error",
			err:      &ExitError{Code: ExitCodeDecodeConfigFailed, Err: fmt.Errorf("bad")},
			expected: ExitCodeDecodeConfigFailed,
		},
		{
			name:     "invalid config",
			err:      bookstore.ErrInvalidConfig.GenWithStackByArgs("database is required"),
			expected: ExitCodeInvalidConfig,
		},
		{
			name:     "decode config",
			err:      bookstore.WrapError(bookstore.ErrDecodeConfig, fmt.Errorf("syntax"), "x.toml"),
			expected: ExitCodeDecodeConfigFailed,
		},
		{
			name:     "connect failure falls back",
			err:      bookstore.WrapError(bookstore.ErrConnectStore, fmt.Errorf("refused"), "db"),
			expected: ExitCodeExecuteFailed,
		},
		{
			name:     "plain error falls back",
			err:      fmt.Errorf("boom"),
			expected: ExitCodeExecuteFailed,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.expected, exitCodeFromError(tt.err, ExitCodeExecuteFailed))
		})
	}
}

func TestRootCommandMemoryBackend(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--backend", "memory", "--log-level", "error", "--print-metrics"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	text := out.String()
	require.Contains(t, text, "Connected to plp_bookstore")
	require.Contains(t, text, "17 succeeded, 0 failed, 0 skipped")
	require.Contains(t, text, "Connection closed")
	require.Contains(t, text, `bookstore_runner_operations_total{operation="explain-title",outcome="success"}`)
}

func TestRootCommandConfigFileAndFlagOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookstore.toml")
	content := `
backend = "memory"
database = "from_file"
log-level = "error"

[queries]
genre = "Fantasy"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-c", path, "--database", "from_flag"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "Connected to from_flag")
	require.Contains(t, out.String(), "Books in genre Fantasy (2)")
}

func TestRootCommandInvalidConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--backend", "sqlite"})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	require.Equal(t, ExitCodeInvalidConfig, exitCodeFromError(err, ExitCodeExecuteFailed))
}

func TestRootCommandMissingConfigFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"-c", filepath.Join(t.TempDir(), "missing.toml")})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	require.Equal(t, ExitCodeDecodeConfigFailed, exitCodeFromError(err, ExitCodeExecuteFailed))
}

func TestExecuteExitStatus(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.toml")
	tests := []struct {
		name     string
		args     []string
		expected int
	}{
		{"success", []string{"--backend", "memory", "--log-level", "error"}, 0},
		{"success strict", []string{"--backend", "memory", "--log-level", "error", "--strict-exit"}, 0},
		{"invalid config", []string{"--backend", "sqlite"}, 0},
		{"invalid config strict", []string{"--backend", "sqlite", "--strict-exit"}, ExitCodeInvalidConfig},
		{"missing file", []string{"-c", missing}, 0},
		{"missing file strict", []string{"-c", missing, "--strict-exit"}, ExitCodeDecodeConfigFailed},
		{"seed invalid config strict", []string{"seed", "--database", "", "--strict-exit"}, ExitCodeInvalidConfig},
	}
	for _, tt := range tests {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs(tt.args)
		var stderr bytes.Buffer

		require.Equal(t, tt.expected, execute(context.Background(), cmd, &stderr), tt.name)
		if strings.HasPrefix(tt.name, "success") {
			require.Empty(t, stderr.String(), tt.name)
		} else {
			require.Contains(t, stderr.String(), "Error: ", tt.name)
		}
	}
}

func TestSeedCommandMemoryBackend(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"seed", "--backend", "memory", "--log-level", "error"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "Inserted 15 books into plp_bookstore.books")
}

func TestPrintMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_total",
		Help: "test counter",
	}, []string{"b", "a"})
	registry.MustRegister(counter)
	counter.WithLabelValues("2", "1").Add(3)

	var out bytes.Buffer
	require.NoError(t, printMetrics(&out, registry))
	require.Contains(t, out.String(), `test_total{a="1",b="2"} 3`)
}
