package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	v1 "github.com/theburgerllc/nycayen-telemetry/internal/api/v1"
)

// Sender delivers one ordered batch to a collector. Any error counts as a
// failed attempt and the batch is requeued.
type Sender interface {
	Send(ctx context.Context, events []v1.Event) error
}

// DeliveryError describes a failed delivery attempt. StatusCode is zero
// when the request never produced a response.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("collector %s responded %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("collector %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// ParseCompression parses a compression name. The empty string means none.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown compression: %q", name)
	}
}

const (
	DefaultRequestTimeout = 10 * time.Second

	// maxDrainBytes bounds how much of a response body is read before the
	// connection is returned to the pool.
	maxDrainBytes = 64 << 10
)

type HTTPSenderOptions struct {
	Timeout     time.Duration
	Compression Compression
	Headers     map[string]string

	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client
}

// HTTPSender POSTs {"events": [...]} as JSON to a single collector endpoint.
type HTTPSender struct {
	endpoint    string
	client      *http.Client
	compression Compression
	headers     map[string]string
	encoder     *zstd.Encoder
}

func NewHTTPSender(endpoint string, opts HTTPSenderOptions) (*HTTPSender, error) {
	if endpoint == "" {
		return nil, errors.New("collector endpoint is required")
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}

	s := &HTTPSender{
		endpoint:    endpoint,
		client:      client,
		compression: opts.Compression,
		headers:     opts.Headers,
	}
	if s.compression == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		s.encoder = enc
	}
	return s, nil
}

func (s *HTTPSender) Endpoint() string { return s.endpoint }

func (s *HTTPSender) Send(ctx context.Context, events []v1.Event) error {
	body, err := json.Marshal(v1.Batch{Events: events})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if s.encoder != nil {
		body = s.encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Endpoint: s.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.encoder != nil {
		req.Header.Set("Content-Encoding", "zstd")
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{Endpoint: s.endpoint, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Endpoint: s.endpoint, StatusCode: resp.StatusCode}
	}
	return nil
}

// MultiSender delivers the same batch to every endpoint concurrently. The
// batch succeeds only when all endpoints accept it, so a retry may resend
// to endpoints that already accepted; collectors dedupe by event id.
type MultiSender []Sender

func (m MultiSender) Send(ctx context.Context, events []v1.Event) error {
	if len(m) == 1 {
		return m[0].Send(ctx, events)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m {
		g.Go(func() error {
			return s.Send(gctx, events)
		})
	}
	return g.Wait()
}

// DiscardSender accepts every batch without sending it. It is used when no
// collector endpoint is configured.
type DiscardSender struct{}

func (DiscardSender) Send(_ context.Context, events []v1.Event) error {
	slog.Debug("[Worker] No collector configured, discarding batch", "batch_size", len(events))
	return nil
}
