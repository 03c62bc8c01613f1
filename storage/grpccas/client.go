package grpccas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"virtius.io/virtius/cidutil"
	"virtius.io/virtius/storage"
)

const (
	defaultMaxFailures uint32 = 5
	defaultOpenTimeout        = 30 * time.Second
	defaultInterval           = 60 * time.Second
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("grpccas: remote store unavailable")

// Options configures a Client.
type Options struct {
	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
	// MaxMsgBytes caps both send and receive message sizes when non-zero.
	MaxMsgBytes int
	// MaxFailures is the number of consecutive transport failures that opens
	// the breaker. Zero uses 5.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	// Zero uses 30s.
	OpenTimeout time.Duration
	Logger      *slog.Logger
}

// Client implements storage.CAS against a remote CAS service. Calls pass
// through a circuit breaker so a dead archive fails fast instead of stalling
// every protection request. Missing blobs and invalid CIDs are answers, not
// failures, and never trip the breaker.
type Client struct {
	cc      *grpc.ClientConn
	client  CASClient
	breaker *gobreaker.CircuitBreaker[struct{}]
	timeout time.Duration
}

var _ storage.CAS = (*Client)(nil)

// New creates a client for target (host:port). The connection is
// established lazily on the first call.
func New(target string, opts Options) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
			grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
		))
	}
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpccas: %w", err)
	}
	c := NewWithClient(NewCASClient(cc), opts)
	c.cc = cc
	return c, nil
}

// NewWithClient wraps an existing service client.
func NewWithClient(client CASClient, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := opts.OpenTimeout
	if openTimeout == 0 {
		openTimeout = defaultOpenTimeout
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "grpccas",
		MaxRequests: 1,
		Interval:    defaultInterval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, storage.ErrNotFound) ||
				errors.Is(err, storage.ErrInvalidCID) ||
				errors.Is(err, storage.ErrImmutable)
		},
	})
	return &Client{client: client, breaker: breaker, timeout: opts.Timeout}
}

// State reports the breaker state for health output.
func (c *Client) State() gobreaker.State { return c.breaker.State() }

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Put(data []byte) (cid.Cid, error) {
	want, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	var reply *wrapperspb.StringValue
	err = c.call(func(ctx context.Context) (err error) {
		reply, err = c.client.Put(ctx, wrapperspb.Bytes(data))
		return err
	})
	if err != nil {
		return cid.Undef, err
	}
	id, err := cid.Decode(reply.GetValue())
	if err != nil || !id.Defined() {
		return cid.Undef, storage.ErrInvalidCID
	}
	if id != want {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return id, nil
}

func (c *Client) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	var reply *wrapperspb.BytesValue
	err := c.call(func(ctx context.Context) (err error) {
		reply, err = c.client.Get(ctx, wrapperspb.String(id.String()))
		return err
	})
	if err != nil {
		return nil, err
	}
	b := reply.GetValue()
	if cidutil.CIDv1RawSHA256(b) != id.String() {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

// Has reports false when the remote is unreachable.
func (c *Client) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	var reply *wrapperspb.BoolValue
	err := c.call(func(ctx context.Context) (err error) {
		reply, err = c.client.Has(ctx, wrapperspb.String(id.String()))
		return err
	})
	return err == nil && reply.GetValue()
}

func (c *Client) call(rpc func(context.Context) error) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		ctx, cancel := c.ctx()
		defer cancel()
		return struct{}{}, fromStatus(rpc(ctx))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.timeout)
}
