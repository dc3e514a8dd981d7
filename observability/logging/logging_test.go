package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupWithOptionsWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "stakingd.log")
	logger, closer := SetupWithOptions("stakingd", "test", Options{Level: "debug", File: file, Output: &buf})
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })

	logger.Debug("pool settled", slog.String("pool", "abc"), slog.String("token", "hunter2"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["message"] != "pool settled" || entry["severity"] != "DEBUG" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["service"] != "stakingd" || entry["env"] != "test" {
		t.Fatalf("service attributes missing: %v", entry)
	}
	if entry["token"] != RedactedValue {
		t.Fatalf("token not redacted: %v", entry["token"])
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read rotated file: %v", err)
	}
	if !bytes.Contains(data, []byte("pool settled")) {
		t.Fatalf("file sink missing entry")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARN") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}
