package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	DefaultWebhookQueueSize = 256
	defaultWebhookTimeout   = 5 * time.Second
)

// ErrQueueFull is returned when the webhook backlog is saturated. The
// event is dropped.
var ErrQueueFull = errors.New("webhook queue full")

var ErrProviderClosed = errors.New("provider closed")

type webhookMessage struct {
	Event      string                 `json:"event"`
	Properties map[string]interface{} `json:"properties"`
	SentAt     int64                  `json:"sent_at"`
}

// Webhook forwards events to an HTTP endpoint. Report only enqueues; a
// background goroutine performs the POSTs, so a slow endpoint never
// blocks the caller.
type Webhook struct {
	name     string
	endpoint string
	client   *http.Client

	queue chan webhookMessage
	done  chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWebhook starts the delivery goroutine. Close stops it.
func NewWebhook(name, endpoint string, queueSize int, client *http.Client) *Webhook {
	if queueSize <= 0 {
		queueSize = DefaultWebhookQueueSize
	}
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	w := &Webhook{
		name:     name,
		endpoint: endpoint,
		client:   client,
		queue:    make(chan webhookMessage, queueSize),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Report(eventName string, props map[string]interface{}) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrProviderClosed
	}

	msg := webhookMessage{Event: eventName, Properties: props, SentAt: time.Now().UnixMilli()}
	select {
	case w.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s dropped", ErrQueueFull, eventName)
	}
}

func (w *Webhook) run() {
	defer w.wg.Done()
	for {
		select {
		case msg := <-w.queue:
			w.send(msg)
		case <-w.done:
			// Drain what was accepted before Close.
			for {
				select {
				case msg := <-w.queue:
					w.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (w *Webhook) send(msg webhookMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("[Webhook] Failed to encode event", "provider", w.name, "event", msg.Event, "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		slog.Warn("[Webhook] Failed to build request", "provider", w.name, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		slog.Warn("[Webhook] Delivery failed", "provider", w.name, "event", msg.Event, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("[Webhook] Endpoint rejected event",
			"provider", w.name,
			"event", msg.Event,
			"status", resp.StatusCode,
		)
	}
}

// Close stops accepting events, flushes the backlog and waits for the
// delivery goroutine to exit.
func (w *Webhook) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	return nil
}
