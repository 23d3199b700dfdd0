package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRetryPolicyEventuallySucceeds(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	calls := 0
	err := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}.Do(context.Background(), zap.New(core), "decimals", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}

	failed := logs.FilterMessage("rpc attempt failed").All()
	if len(failed) != 2 {
		t.Fatalf("expected 2 logged failures, got %d", len(failed))
	}
	fields := failed[1].ContextMap()
	if fields["op"] != "decimals" || fields["attempt"] != int64(2) || fields["backoff"] != 2*time.Millisecond {
		t.Fatalf("unexpected log fields %v", fields)
	}
}

func TestRetryPolicyGivesUp(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	boom := errors.New("boom")
	calls := 0
	err := RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}.Do(context.Background(), zap.New(core), "symbol", func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if got := logs.FilterMessage("rpc retries exhausted").Len(); got != 1 {
		t.Fatalf("expected one exhausted entry, got %d", got)
	}
}

func TestRetryPolicyWithoutRetries(t *testing.T) {
	calls := 0
	err := RetryPolicy{MaxRetries: -1}.Do(context.Background(), nil, "name", func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected a single failed call, got %d calls err=%v", calls, err)
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryPolicy{MaxRetries: 5, Backoff: time.Hour}.Do(ctx, nil, "decimals", func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
