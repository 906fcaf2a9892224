// Package grpcclient talks to a remote recognizer over gRPC and hosts a
// local one for other instances.
package grpcclient

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
	"github.com/GriffinCanCode/gardenbot/internal/resilience"
	"github.com/GriffinCanCode/gardenbot/internal/trace"
)

// Client is an ocr.Recognizer backed by a remote service.
type Client struct {
	conn    *grpc.ClientConn
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	timeout time.Duration

	dialOpts []grpc.DialOption
}

// Option configures a Client.
type Option func(*Client)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option { return func(c *Client) { c.breaker = b } }

// WithRetry replaces the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option { return func(c *Client) { c.retry = cfg } }

// WithTimeout bounds each Recognize call.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithDialOptions appends raw gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// New creates a client for addr. The connection is established lazily.
func New(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		breaker: resilience.New(resilience.RecognizerConfig()),
		retry:   resilience.ScanRetryConfig(),
		timeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(MaxImageBytes)),
	}, c.dialOpts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "recognizer address %q", addr)
	}
	c.conn = conn
	c.dialOpts = nil
	return c, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Recognize sends the image to the remote service.
func (c *Client) Recognize(ctx context.Context, img []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var text string
	err := resilience.Retry(ctx, c.retry, func() error {
		var err error
		text, err = resilience.ExecuteWithResult(c.breaker, func() (string, error) {
			out := new(wrapperspb.StringValue)
			if err := c.conn.Invoke(ctx, RecognizeMethod, wrapperspb.Bytes(img), out); err != nil {
				return "", apperrors.FromGRPCError(err)
			}
			return out.GetValue(), nil
		})
		return err
	})
	if err != nil {
		if resilience.IsBreakerError(err) {
			return "", err
		}
		if ctx.Err() == context.DeadlineExceeded {
			return "", apperrors.Wrap(err, apperrors.CodeTimeout, "recognizer call timed out")
		}
		return "", err
	}
	return text, nil
}
