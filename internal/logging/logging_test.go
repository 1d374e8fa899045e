package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigure_JSON(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "debug", JSON: true, Output: &buf})
	t.Cleanup(func() { Configure(Options{}) })

	L().Debug("rewrite done", "file", "calc.go")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v: %q", err, buf.String())
	}
	if rec["msg"] != "rewrite done" || rec["file"] != "calc.go" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "error")
	t.Setenv(EnvJSON, "true")
	o := FromEnv()
	if o.Level != "error" || !o.JSON {
		t.Fatalf("unexpected options %+v", o)
	}
	t.Setenv(EnvJSON, "nope")
	if FromEnv().JSON {
		t.Fatal("unparsable bool should leave JSON off")
	}
}
