package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// Headers set on every webhook delivery.
const (
	HeaderSignature = "X-Recap-Signature"
	HeaderDelivery  = "X-Recap-Delivery"
	HeaderEvent     = "X-Recap-Event"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Target is a webhook endpoint. Secret signs the body; empty means unsigned.
type Target struct {
	URL    string `mapstructure:"url" yaml:"url" json:"url"`
	Secret string `mapstructure:"secret" yaml:"secret" json:"-"`
}

// Envelope is the JSON body POSTed to every target.
type Envelope struct {
	ID        string                    `json:"id"`
	Type      string                    `json:"type"`
	Timestamp time.Time                 `json:"timestamp"`
	Data      ledger.SubmissionRecorded `json:"data"`
}

// DefaultRetryDelays is the wait before each delivery attempt.
var DefaultRetryDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second}

// Webhooks delivers SubmissionRecorded events to a fixed set of targets.
// Notify returns immediately; deliveries run on their own goroutines until
// Close.
type Webhooks struct {
	targets    []Target
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add in Notify before wg.Wait in Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewWebhooks creates a dispatcher for targets.
func NewWebhooks(targets []Target, logger *zap.Logger) *Webhooks {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Webhooks{
		targets:    targets,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     DefaultRetryDelays,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (w *Webhooks) SetMetricsRecorder(fn MetricsRecorder) {
	w.onMetrics = fn
}

// SetRetryDelays replaces the per-attempt delays. The number of delays is the
// number of attempts.
func (w *Webhooks) SetRetryDelays(delays []time.Duration) {
	w.delays = delays
}

// SetHTTPClient replaces the client used for deliveries.
func (w *Webhooks) SetHTTPClient(c *http.Client) {
	w.httpClient = c
}

// Notify implements ledger.Notifier.
func (w *Webhooks) Notify(_ context.Context, ev ledger.SubmissionRecorded) {
	if len(w.targets) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	for _, t := range w.targets {
		env := Envelope{
			ID:        uuid.NewString(),
			Type:      ledger.EventSubmissionRecorded,
			Timestamp: time.Now().UTC(),
			Data:      ev,
		}
		w.wg.Add(1)
		go func(t Target) {
			defer w.wg.Done()
			w.deliver(t, env)
		}(t)
	}
}

// Close stops pending retries and waits for in-flight deliveries. Events
// passed to Notify after Close are dropped.
func (w *Webhooks) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
}

func (w *Webhooks) deliver(t Target, env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		w.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	var signature string
	if t.Secret != "" {
		signature = Sign(body, t.Secret)
	}

	for attempt, delay := range w.delays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-w.ctx.Done():
				return
			}
		}

		status, err := w.post(t.URL, env.ID, body, signature)
		success := err == nil
		if w.onMetrics != nil {
			w.onMetrics(success)
		}
		if success {
			w.logger.Debug("webhook delivered",
				zap.String("url", t.URL),
				zap.String("delivery_id", env.ID),
				zap.Int("attempt", attempt+1),
			)
			return
		}

		w.logger.Warn("webhook: delivery failed",
			zap.String("url", t.URL),
			zap.String("delivery_id", env.ID),
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
}

func (w *Webhooks) post(url, id string, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(w.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDelivery, id)
	req.Header.Set(HeaderEvent, ledger.EventSubmissionRecorded)
	if signature != "" {
		req.Header.Set(HeaderSignature, signature)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign computes the X-Recap-Signature value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid X-Recap-Signature for body.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
