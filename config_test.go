package conveyor_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/xraph/conveyor"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := conveyor.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	def := conveyor.DefaultConfig()
	if cfg.LeaseTimeout != def.LeaseTimeout || cfg.DeadJobPolicy != conveyor.DeadJobOptIn {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("CONVEYOR_CONCURRENCY", "32")
	t.Setenv("CONVEYOR_JOB_TYPES", "message.send,ai.generate_reply")
	t.Setenv("CONVEYOR_LEASE_TIMEOUT", "90s")
	t.Setenv("CONVEYOR_BACKOFF_JITTER", "true")
	t.Setenv("CONVEYOR_DEAD_JOB_POLICY", "all")

	cfg, err := conveyor.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Concurrency != 32 {
		t.Errorf("Concurrency = %d", cfg.Concurrency)
	}
	if !slices.Equal(cfg.JobTypes, []string{"message.send", "ai.generate_reply"}) {
		t.Errorf("JobTypes = %v", cfg.JobTypes)
	}
	if cfg.LeaseTimeout != 90*time.Second {
		t.Errorf("LeaseTimeout = %v", cfg.LeaseTimeout)
	}
	if !cfg.BackoffJitter || cfg.DeadJobPolicy != conveyor.DeadJobForwardAll {
		t.Errorf("jitter=%v policy=%q", cfg.BackoffJitter, cfg.DeadJobPolicy)
	}
	if cfg.BackoffMax != conveyor.DefaultConfig().BackoffMax {
		t.Error("unset variables must keep their defaults")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unparsable duration", "CONVEYOR_LEASE_TIMEOUT", "soon"},
		{"unknown policy", "CONVEYOR_DEAD_JOB_POLICY", "drop"},
		{"zero concurrency", "CONVEYOR_CONCURRENCY", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := conveyor.LoadConfig(); !errors.Is(err, conveyor.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*conveyor.Config)
	}{
		{"poll interval", func(c *conveyor.Config) { c.PollInterval = 0 }},
		{"lease timeout", func(c *conveyor.Config) { c.LeaseTimeout = -time.Second }},
		{"negative reaper interval", func(c *conveyor.Config) { c.ReaperInterval = -1 }},
		{"backoff max below initial", func(c *conveyor.Config) { c.BackoffMax = time.Millisecond }},
		{"multiplier", func(c *conveyor.Config) { c.BackoffMultiplier = 0.5 }},
		{"dedup window", func(c *conveyor.Config) { c.DLQDedupWindow = 0 }},
		{"max failures", func(c *conveyor.Config) { c.DLQMaxFailures = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := conveyor.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, conveyor.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}

	cfg := conveyor.DefaultConfig()
	cfg.ReaperInterval, cfg.DLQArchiveInterval = 0, 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero intervals disable loops and must be valid: %v", err)
	}
}

type fakeStore struct{ closed bool }

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Ping(context.Context) error    { return nil }
func (f *fakeStore) Close() error                  { f.closed = true; return nil }

type recordingRunner struct {
	name string
	log  *[]string
}

func (r recordingRunner) Start(context.Context) error {
	*r.log = append(*r.log, "start "+r.name)
	return nil
}

func (r recordingRunner) Stop(context.Context) error {
	*r.log = append(*r.log, "stop "+r.name)
	return nil
}

func TestConveyor_Lifecycle(t *testing.T) {
	st := &fakeStore{}
	c, err := conveyor.New(conveyor.WithStore(st), conveyor.WithConcurrency(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Config().Concurrency != 2 {
		t.Errorf("Concurrency = %d", c.Config().Concurrency)
	}

	var log []string
	c.AddRunner(recordingRunner{"pool", &log})
	c.AddRunner(recordingRunner{"reaper", &log})

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{"start pool", "start reaper", "stop reaper", "stop pool"}
	if !slices.Equal(log, want) {
		t.Errorf("order = %v, want %v", log, want)
	}
	if !st.closed {
		t.Error("Stop must close the store")
	}
}

func TestConveyor_StartWithoutStore(t *testing.T) {
	c, err := conveyor.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, conveyor.ErrNoStore) {
		t.Errorf("err = %v, want ErrNoStore", err)
	}
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	_, err := conveyor.New(conveyor.WithPollInterval(0))
	if !errors.Is(err, conveyor.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}
