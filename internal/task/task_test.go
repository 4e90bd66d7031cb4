package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"critical", PriorityCritical, false},
		{"HIGH", PriorityHigh, false},
		{"normal", PriorityNormal, false},
		{"low", PriorityLow, false},
		{"background", PriorityBackground, false},
		{"urgent", PriorityNormal, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTaskType(t *testing.T) {
	if _, err := ParseTaskType("Combat"); err != nil {
		t.Errorf("expected combat to parse, got %v", err)
	}
	if _, err := ParseTaskType("teleport"); err == nil {
		t.Error("expected unknown type to be rejected")
	}
}

func TestTaskConfigValidate(t *testing.T) {
	valid := TaskConfig{ID: "t1", Type: TypeDaily, Priority: PriorityLow, MaxRetries: 2}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]TaskConfig{
		"bad type":     {ID: "t", Type: "nope"},
		"bad priority": {ID: "t", Type: TypeDaily, Priority: 9},
		"neg retries":  {ID: "t", Type: TypeDaily, MaxRetries: -1},
		"neg timeout":  {ID: "t", Type: TypeDaily, Timeout: -time.Second},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	exec := ExecutorFunc(func(ctx context.Context, ec *ExecutionContext) Result { return Succeeded(nil) })

	if err := r.Register(TypeCombat, exec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(TypeCombat, exec); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := r.Register("warp", exec); err == nil {
		t.Error("expected unknown type to fail")
	}
	if _, ok := r.Lookup(TypeCombat); !ok {
		t.Error("expected combat executor")
	}
	if _, ok := r.Lookup(TypeDaily); ok {
		t.Error("did not expect daily executor")
	}
	if got := r.Types(); len(got) != 1 || got[0] != TypeCombat {
		t.Errorf("Types() = %v", got)
	}
}

func TestTokenCheckpoint(t *testing.T) {
	ctx := context.Background()

	tok := NewToken(nil)
	if err := tok.Checkpoint(ctx); err != nil {
		t.Fatalf("fresh token: %v", err)
	}

	tok.Pause()
	released := make(chan error, 1)
	go func() { released <- tok.Checkpoint(ctx) }()

	select {
	case <-released:
		t.Fatal("checkpoint returned while paused")
	case <-time.After(120 * time.Millisecond):
	}

	tok.Resume()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("expected nil after resume, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("checkpoint did not release after resume")
	}

	tok.Cancel()
	if err := tok.Checkpoint(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestTokenStopCancelsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tok := NewToken(cancel)
	tok.Stop()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled by Stop")
	}
	if err := tok.Checkpoint(ctx); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestExecutionContextMetadataIsolation(t *testing.T) {
	cfg := TaskConfig{ID: "t", Type: TypeCustom, Metadata: map[string]any{"element": "ok_button"}}
	ec := NewExecutionContext("e1", cfg, NewToken(nil))

	ec.Set("element", "cancel_button")
	if cfg.Metadata["element"] != "ok_button" {
		t.Error("execution context mutated the task config metadata")
	}
	if got := ec.GetString("element"); got != "cancel_button" {
		t.Errorf("GetString = %q", got)
	}

	ec.SetProgress(1.7)
	if got := ec.Token.Progress(); got != 1 {
		t.Errorf("progress should clamp to 1, got %v", got)
	}
}
