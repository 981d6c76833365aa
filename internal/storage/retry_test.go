package storage

import (
	"context"
	"errors"
	"syscall"
	"testing"
)

type flakyOp struct {
	failures int
	err      error
	calls    int
}

func (f *flakyOp) run() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	op := &flakyOp{}
	if err := withRetry(context.Background(), op.run); err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if op.calls != 1 {
		t.Errorf("calls = %d, want 1", op.calls)
	}
}

func TestWithRetryRecoversFromTransientError(t *testing.T) {
	op := &flakyOp{failures: 2, err: syscall.ECONNREFUSED}
	if err := withRetry(context.Background(), op.run); err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if op.calls != 3 {
		t.Errorf("calls = %d, want 3", op.calls)
	}
}

func TestWithRetryDoesNotRetryNonTransientError(t *testing.T) {
	permanent := errors.New("WRONGPASS invalid password")
	op := &flakyOp{failures: 10, err: permanent}
	err := withRetry(context.Background(), op.run)
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want %v", err, permanent)
	}
	if errors.Is(err, ErrStorageUnavailable) {
		t.Error("不应包装为 ErrStorageUnavailable")
	}
	if op.calls != 1 {
		t.Errorf("calls = %d, want 1", op.calls)
	}
}

func TestWithRetryExhaustionWrapsUnavailable(t *testing.T) {
	op := &flakyOp{failures: 10, err: syscall.ECONNREFUSED}
	err := withRetry(context.Background(), op.run)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}
	if op.calls != maxRetries {
		t.Errorf("calls = %d, want %d", op.calls, maxRetries)
	}
}

func TestWithRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	op := &flakyOp{failures: 10, err: syscall.ECONNREFUSED}
	err := withRetry(ctx, op.run)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if op.calls != 1 {
		t.Errorf("calls = %d, want 1", op.calls)
	}
}

type markedErr struct{ transient bool }

func (e *markedErr) Error() string   { return "marked" }
func (e *markedErr) Transient() bool { return e.transient }

func TestIsConnectionError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"ctx canceled", context.Canceled, false},
		{"ctx deadline", context.DeadlineExceeded, false},
		{"econnrefused", syscall.ECONNREFUSED, true},
		{"econnreset", syscall.ECONNRESET, true},
		{"epipe", syscall.EPIPE, true},
		{"marked transient", &markedErr{transient: true}, true},
		{"marked permanent", &markedErr{transient: false}, false},
		{"text connection refused", errors.New("dial tcp: connection refused"), true},
		{"text io timeout", errors.New("read tcp: i/o timeout"), true},
		{"plain", errors.New("parse error"), false},
	}
	for _, tc := range cases {
		if got := isConnectionError(tc.err); got != tc.want {
			t.Errorf("%s: isConnectionError = %v, want %v", tc.name, got, tc.want)
		}
	}
}
