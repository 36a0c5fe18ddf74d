package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/polymarket-data/pkg/errs"
)

func fastPolicy(attempts int) Policy {
	cfg := Config{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
	return Policy{Default: cfg}
}

func serverErr() error {
	return errs.Transient("test", errs.ClassServer, 500, errors.New("boom"))
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestPolicy_ForClass(t *testing.T) {
	tests := []struct {
		name            string
		class           errs.Class
		expectedInitial time.Duration
		expectedMax     time.Duration
	}{
		{"server error config", errs.ClassServer, 1 * time.Second, 10 * time.Second},
		{"rate limit config", errs.ClassRateLimit, 5 * time.Second, 60 * time.Second},
		{"network error config", errs.ClassNetwork, 2 * time.Second, 30 * time.Second},
		{"unknown class uses default", "", 1 * time.Second, 30 * time.Second},
	}

	p := DefaultPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := p.ForClass(tt.class)
			if cfg.InitialBackoff != tt.expectedInitial {
				t.Errorf("InitialBackoff = %v, want %v", cfg.InitialBackoff, tt.expectedInitial)
			}
			if cfg.MaxBackoff != tt.expectedMax {
				t.Errorf("MaxBackoff = %v, want %v", cfg.MaxBackoff, tt.expectedMax)
			}
		})
	}
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastPolicy(3), "test", func(context.Context) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastPolicy(3), "test", func(context.Context) error {
		callCount++
		if callCount < 3 {
			return serverErr()
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestDo_MaxAttemptsExhausted(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastPolicy(3), "test", func(context.Context) error {
		callCount++
		return serverErr()
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, errs.ErrTransient) {
		t.Errorf("Expected last transient error in chain, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls (MaxAttempts), got %d", callCount)
	}
}

func TestDo_ClientErrorNoRetry(t *testing.T) {
	callCount := 0
	clientErr := errs.Transient("test", errs.ClassClient, 404, errors.New("not found"))
	err := Do(context.Background(), fastPolicy(3), "test", func(context.Context) error {
		callCount++
		return clientErr
	})

	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for client errors), got %d", callCount)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Should not return ErrRetryExhausted for client errors")
	}
	if err != clientErr {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := fastPolicy(5)
	p.Default.InitialBackoff = time.Second
	p.Default.MaxBackoff = time.Second

	callCount := 0
	err := Do(ctx, p, "test", func(context.Context) error {
		callCount++
		cancel()
		return serverErr()
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
}

func TestDo_PerClassAttempts(t *testing.T) {
	p := fastPolicy(2)
	p.PerClass = map[errs.Class]Config{
		errs.ClassRateLimit: {
			MaxAttempts:       4,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        2 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	}

	callCount := 0
	_ = Do(context.Background(), p, "test", func(context.Context) error {
		callCount++
		return errs.Transient("test", errs.ClassRateLimit, 429, nil)
	})

	if callCount != 4 {
		t.Errorf("Expected 4 calls for rate limit schedule, got %d", callCount)
	}
}
