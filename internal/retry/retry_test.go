package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestPolicyDoSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	p := Policy{Attempts: 3, Delay: 0}

	err := p.Do(context.Background(), "test op", func(attempt int) (bool, error) {
		attempts = attempt
		if attempt < 3 {
			return false, fmt.Errorf("transient failure")
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestPolicyDoExhaustsAttempts(t *testing.T) {
	p := Policy{Attempts: 2, Delay: 0}

	err := p.Do(context.Background(), "test op", func(int) (bool, error) {
		return false, fmt.Errorf("persistent failure")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !strings.Contains(err.Error(), "exhausted 2 attempts") {
		t.Errorf("error should report exhaustion: %v", err)
	}
	if !strings.Contains(err.Error(), "persistent failure") {
		t.Errorf("error should wrap the last attempt's failure: %v", err)
	}
}

func TestPolicyDoStopsOnDoneWithError(t *testing.T) {
	calls := 0
	p := Policy{Attempts: 5, Delay: 0}

	fatal := fmt.Errorf("unrecoverable")
	err := p.Do(context.Background(), "test op", func(int) (bool, error) {
		calls++
		return true, fatal
	})
	if err != fatal {
		t.Fatalf("expected the terminal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("done=true must stop the loop, got %d calls", calls)
	}
}

func TestPolicyDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{Attempts: 3, Delay: time.Hour}
	err := p.Do(ctx, "test op", func(int) (bool, error) {
		return false, fmt.Errorf("retry please")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPollTerminalState(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), time.Millisecond, time.Second, "job", func() (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 polls, got %d", calls)
	}
}

func TestPollTimesOut(t *testing.T) {
	err := Poll(context.Background(), time.Millisecond, 10*time.Millisecond, "stuck job", func() (bool, error) {
		return false, nil
	})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
}

func TestPollPropagatesRemoteFailure(t *testing.T) {
	remote := fmt.Errorf("generation failed: bad prompt")
	err := Poll(context.Background(), time.Millisecond, time.Second, "job", func() (bool, error) {
		return false, remote
	})
	if err != remote {
		t.Fatalf("expected remote error, got %v", err)
	}
}
