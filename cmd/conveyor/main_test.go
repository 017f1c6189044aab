package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/job"
	"github.com/xraph/conveyor/store/memory"
)

func TestLoadSettings(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"memory", map[string]string{"STORE_BACKEND": "memory"}, false},
		{"postgres needs url", map[string]string{"STORE_BACKEND": "postgres"}, true},
		{"postgres", map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": "postgres://localhost/conveyor"}, false},
		{"redis needs url", map[string]string{"STORE_BACKEND": "REDIS"}, true},
		{"unknown", map[string]string{"STORE_BACKEND": "cassandra"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("REDIS_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			s, err := loadSettings()
			if tt.wantErr {
				if !errors.Is(err, conveyor.ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadSettings: %v", err)
			}
			if s.ListenAddr != ":8080" {
				t.Errorf("ListenAddr = %q, want default", s.ListenAddr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(settings{LogLevel: "warn", LogFormat: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("job_id", "job_1"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", out, err)
	}
	if rec["job_id"] != "job_1" {
		t.Errorf("job_id = %v", rec["job_id"])
	}

	buf.Reset()
	newLogger(settings{LogFormat: "TEXT"}, &buf).Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("text handler output = %q", buf.String())
	}
}

func TestOpenStore_Memory(t *testing.T) {
	st, cleanup, err := openStore(context.Background(), settings{StoreBackend: backendMemory}, slog.Default())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer cleanup()
	if _, ok := st.(*memory.Store); !ok {
		t.Fatalf("store = %T, want *memory.Store", st)
	}
}

func TestStatsCommand(t *testing.T) {
	t.Setenv("STORE_BACKEND", backendMemory)
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := statsCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--tenant", "acme"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("stats: %v", err)
	}

	var got statsOutput
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got.TenantID != "acme" {
		t.Errorf("tenant = %q", got.TenantID)
	}
	if n, ok := got.Jobs[job.StatePending]; !ok || n != 0 {
		t.Errorf("pending = %d (present %v)", n, ok)
	}
	if got.DeadLetters == nil || got.DeadLetters.Total != 0 {
		t.Errorf("dead letters = %+v", got.DeadLetters)
	}
}

func TestSweepAndArchiveCommands(t *testing.T) {
	t.Setenv("STORE_BACKEND", backendMemory)
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	sweep := sweepCmd()
	sweep.SetOut(&out)
	sweep.SetArgs(nil)
	if err := sweep.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := out.String(); got != "reaped 0 jobs\n" {
		t.Errorf("sweep output = %q", got)
	}

	out.Reset()
	archive := archiveCmd()
	archive.SetOut(&out)
	archive.SetArgs([]string{"--max-failures", "3"})
	if err := archive.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if got := out.String(); got != "archived 0 dead letters\n" {
		t.Errorf("archive output = %q", got)
	}
}
