package grpcclient

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
	"github.com/GriffinCanCode/gardenbot/internal/resilience"
	"github.com/GriffinCanCode/gardenbot/internal/trace"
)

type mockRecognizer struct {
	text  string
	err   error
	calls atomic.Int32
	trace atomic.Value
}

func (m *mockRecognizer) Recognize(ctx context.Context, img []byte) (string, error) {
	m.calls.Add(1)
	if tc, ok := trace.FromContext(ctx); ok {
		m.trace.Store(tc.TraceID)
	}
	if m.err != nil {
		return "", m.err
	}
	return m.text + ":" + string(img), nil
}

func startServer(t *testing.T, r *mockRecognizer) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(r)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func dialBuf(t *testing.T, lis *bufconn.Listener, opts ...Option) *Client {
	t.Helper()
	opts = append(opts, WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})))
	c, err := New("passthrough:///bufnet", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRecognizeRoundTrip(t *testing.T) {
	r := &mockRecognizer{text: "Ripe"}
	c := dialBuf(t, startServer(t, r))

	ctx := trace.WithContext(context.Background(), trace.New())
	got, err := c.Recognize(ctx, []byte("png"))
	if err != nil {
		t.Fatalf("Recognize error: %v", err)
	}
	if got != "Ripe:png" {
		t.Errorf("Recognize = %q, want %q", got, "Ripe:png")
	}
	tc, _ := trace.FromContext(ctx)
	if r.trace.Load() != tc.TraceID {
		t.Errorf("server trace = %v, want %s", r.trace.Load(), tc.TraceID)
	}
}

func TestRecognizeErrorCodeSurvives(t *testing.T) {
	r := &mockRecognizer{err: apperrors.New(apperrors.CodeRecognitionFailed, "garbled")}
	c := dialBuf(t, startServer(t, r))

	_, err := c.Recognize(context.Background(), []byte("png"))
	if !apperrors.IsCode(err, apperrors.CodeRecognitionFailed) {
		t.Errorf("error = %v, want RECOGNITION_FAILED", err)
	}
	if n := r.calls.Load(); n != 1 {
		t.Errorf("server calls = %d, want 1 (not retryable)", n)
	}
}

func TestRecognizePlainErrorWrapped(t *testing.T) {
	r := &mockRecognizer{err: errors.New("tesseract exploded")}
	c := dialBuf(t, startServer(t, r))

	_, err := c.Recognize(context.Background(), []byte("png"))
	if !apperrors.IsCode(err, apperrors.CodeRecognitionFailed) {
		t.Errorf("error = %v, want RECOGNITION_FAILED", err)
	}
}

func TestRetriesTransientErrors(t *testing.T) {
	r := &mockRecognizer{err: apperrors.New(apperrors.CodeUnavailable, "warming up")}
	c := dialBuf(t, startServer(t, r),
		WithBreaker(resilience.New(resilience.Config{Threshold: 100})),
		WithRetry(resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}),
	)

	_, err := c.Recognize(context.Background(), []byte("png"))
	if !apperrors.IsCode(err, apperrors.CodeUnavailable) {
		t.Errorf("error = %v, want UNAVAILABLE", err)
	}
	if n := r.calls.Load(); n != 3 {
		t.Errorf("server calls = %d, want 3", n)
	}
}

func TestBreakerOpensOnRepeatedFailure(t *testing.T) {
	r := &mockRecognizer{err: apperrors.New(apperrors.CodeRecognitionFailed, "garbled")}
	c := dialBuf(t, startServer(t, r),
		WithBreaker(resilience.New(resilience.Config{Threshold: 2, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})),
	)

	for i := 0; i < 2; i++ {
		_, _ = c.Recognize(context.Background(), []byte("png"))
	}
	if c.BreakerState() != resilience.Open {
		t.Fatalf("breaker state = %v, want open", c.BreakerState())
	}
	_, err := c.Recognize(context.Background(), []byte("png"))
	if err != resilience.ErrOpen {
		t.Errorf("error = %v, want ErrOpen", err)
	}
	if n := r.calls.Load(); n != 2 {
		t.Errorf("server calls = %d, want 2 (third rejected locally)", n)
	}
}

func TestRecognizeTimeout(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	defer lis.Close()
	// No server: the dial blocks until the deadline.
	c := dialBuf(t, lis, WithTimeout(50*time.Millisecond),
		WithRetry(resilience.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))

	_, err := c.Recognize(context.Background(), []byte("png"))
	if !apperrors.IsCode(err, apperrors.CodeTimeout) {
		t.Errorf("error = %v, want TIMEOUT", err)
	}
}
