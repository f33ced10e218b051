package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/KevoDB/flashkv/pkg/common/log"
	"github.com/KevoDB/flashkv/pkg/flash"
	"github.com/KevoDB/flashkv/pkg/telemetry"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	DefaultCallTimeout    = 5 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 50 * time.Millisecond
)

// Client is a flash.Device backed by a remote Server.
//
// flash.Device calls carry no context, so every call runs under the client's
// own timeout. Calls that fail with a transient status are retried with
// exponential backoff; device errors are returned at once.
type Client struct {
	conn  *grpc.ClientConn
	owned bool

	timeout        time.Duration
	maxRetries     uint64
	initialBackoff time.Duration
	maxReadSize    uint32
	logger         log.Logger
	tel            telemetry.Telemetry

	geoMu    sync.Mutex
	geometry *Geometry
}

var _ flash.Device = (*Client)(nil)

type clientOptions struct {
	timeout        time.Duration
	maxRetries     uint64
	initialBackoff time.Duration
	maxReadSize    uint32
	tlsConfig      *tls.Config
	dialOptions    []grpc.DialOption
	logger         log.Logger
	tel            telemetry.Telemetry
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

// WithCallTimeout bounds each attempt of a device call.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n uint64, initialBackoff time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.maxRetries = n
		o.initialBackoff = initialBackoff
	}
}

// WithReadChunk splits reads into requests of at most n bytes.
func WithReadChunk(n uint32) ClientOption {
	return func(o *clientOptions) {
		o.maxReadSize = n
	}
}

// WithClientTLS dials with TLS instead of plaintext. Only used by Dial.
func WithClientTLS(cfg *tls.Config) ClientOption {
	return func(o *clientOptions) {
		o.tlsConfig = cfg
	}
}

// WithDialOptions appends raw gRPC dial options. Only used by Dial.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(o *clientOptions) {
		o.dialOptions = append(o.dialOptions, opts...)
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger log.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithClientTelemetry records per-call metrics.
func WithClientTelemetry(tel telemetry.Telemetry) ClientOption {
	return func(o *clientOptions) {
		o.tel = tel
	}
}

func buildOptions(opts []ClientOption) clientOptions {
	o := clientOptions{
		timeout:        DefaultCallTimeout,
		maxRetries:     DefaultMaxRetries,
		initialBackoff: DefaultInitialBackoff,
		maxReadSize:    DefaultMaxReadSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "remote-client")
	}
	if o.tel == nil {
		o.tel = telemetry.NewNoop()
	}
	return o
}

// Dial creates a client for the server at address. The connection is
// established lazily on the first call.
func Dial(address string, opts ...ClientOption) (*Client, error) {
	o := buildOptions(opts)

	dialOptions := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                15 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if o.tlsConfig != nil {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewTLS(o.tlsConfig)))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	dialOptions = append(dialOptions, o.dialOptions...)

	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", address, err)
	}

	c := newClient(conn, o)
	c.owned = true
	return c, nil
}

// NewClient wraps an existing connection. Close does not close conn.
func NewClient(conn *grpc.ClientConn, opts ...ClientOption) *Client {
	return newClient(conn, buildOptions(opts))
}

func newClient(conn *grpc.ClientConn, o clientOptions) *Client {
	return &Client{
		conn:           conn,
		timeout:        o.timeout,
		maxRetries:     o.maxRetries,
		initialBackoff: o.initialBackoff,
		maxReadSize:    o.maxReadSize,
		logger:         o.logger,
		tel:            o.tel,
	}
}

// Read implements flash.Device.
func (c *Client) Read(addr uint32, buf []byte) error {
	for off := 0; off < len(buf); {
		n := len(buf) - off
		if c.maxReadSize > 0 && n > int(c.maxReadSize) {
			n = int(c.maxReadSize)
		}

		out := new(wrapperspb.BytesValue)
		if err := c.invoke(methodRead, encodeRange(addr+uint32(off), uint32(n)), out); err != nil {
			return err
		}
		if len(out.GetValue()) != n {
			return fmt.Errorf("%w: read returned %d bytes, want %d", ErrRemote, len(out.GetValue()), n)
		}
		copy(buf[off:], out.GetValue())
		off += n
	}
	return nil
}

// Write implements flash.Device.
func (c *Client) Write(addr uint32, data []byte) error {
	return c.invoke(methodWrite, encodeWrite(addr, data), new(emptypb.Empty))
}

// Erase implements flash.Device.
func (c *Client) Erase(addr uint32, n uint32) error {
	return c.invoke(methodErase, encodeRange(addr, n), new(emptypb.Empty))
}

// Geometry returns the remote device geometry. The first successful answer
// is cached.
func (c *Client) Geometry() (Geometry, error) {
	c.geoMu.Lock()
	defer c.geoMu.Unlock()

	if c.geometry != nil {
		return *c.geometry, nil
	}

	out := new(wrapperspb.BytesValue)
	if err := c.invoke(methodGeometry, &emptypb.Empty{}, out); err != nil {
		return Geometry{}, err
	}
	g, err := decodeGeometry(out)
	if err != nil {
		return Geometry{}, fmt.Errorf("%w: %v", ErrRemote, err)
	}
	c.geometry = &g
	return g, nil
}

// CheckRegion verifies that region fits the remote device and uses its
// page and sector sizes.
func (c *Client) CheckRegion(region flash.Region) error {
	g, err := c.Geometry()
	if err != nil {
		return err
	}
	if region.PageSize != g.PageSize || region.SectorSize != g.SectorSize {
		return fmt.Errorf("%w: region uses page %d sector %d, device has page %d sector %d",
			flash.ErrInvalidRegion, region.PageSize, region.SectorSize, g.PageSize, g.SectorSize)
	}
	if region.End() > uint64(g.Size) {
		return fmt.Errorf("%w: region %s extends past device size %d", flash.ErrInvalidRegion, region, g.Size)
	}
	return nil
}

// Close releases the connection if Dial created it.
func (c *Client) Close() error {
	if c.owned && c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(method string, in, out proto.Message) error {
	start := time.Now()
	attempts := 0

	operation := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		err := c.conn.Invoke(ctx, method, in, out)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithMaxRetries(policy, c.maxRetries))

	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRemote),
		attribute.String("rpc.method", method),
		attribute.String("rpc.grpc.status_code", status.Code(err).String()),
	}
	telemetry.RecordDuration(ctx, c.tel, "flashkv.remote.client.duration", start, attrs...)
	if attempts > 1 {
		c.tel.RecordCounter(ctx, "flashkv.remote.client.retries", int64(attempts-1), attrs...)
	}

	if err != nil {
		c.logger.Debug("%s failed after %d attempts: %v", method, attempts, err)
		return fromStatus(err)
	}
	return nil
}
