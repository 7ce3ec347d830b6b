// internal/replication/replicator.go
package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/FairForge/roomd/internal/common"
	"github.com/FairForge/roomd/internal/ledger"
	"go.uber.org/zap"
)

// SyncPath is the backup endpoint that accepts SyncMessages
const SyncPath = "/v1/sync"

// DefaultQueueSize bounds the messages waiting for the sender
const DefaultQueueSize = 1024

var (
	// ErrQueueFull is reported to the observer when a message is dropped
	ErrQueueFull = errors.New("replication queue full")

	// ErrStopped is reported for messages queued after Wait
	ErrStopped = errors.New("replicator stopped")
)

// Reply acknowledges a SyncMessage
type Reply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Observer is told the outcome of every send
type Observer func(kind ledger.SyncKind, err error)

// Replicator pushes SyncMessages to the backup. A single sender drains a
// FIFO queue so the backup applies mutations in commit order. Sends are
// bounded by timeout, never retried, and never fail the caller.
type Replicator struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
	observe Observer

	mu        sync.Mutex
	queue     chan ledger.SyncMessage
	closed    bool
	startOnce sync.Once
	done      chan struct{}
}

// NewReplicator targets the backup sync listener at addr; an empty addr
// disables replication
func NewReplicator(addr string, timeout time.Duration, logger *zap.Logger) *Replicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Replicator{
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
		queue:   make(chan ledger.SyncMessage, DefaultQueueSize),
		done:    make(chan struct{}),
	}
	if addr != "" {
		r.url = common.BaseURL(addr) + SyncPath
	}
	return r
}

// SetObserver installs an outcome callback
func (r *Replicator) SetObserver(fn Observer) {
	r.observe = fn
}

// Enabled reports whether a backup target is configured
func (r *Replicator) Enabled() bool {
	return r != nil && r.url != ""
}

// Replicate queues msg behind every earlier message and returns immediately.
// A full queue drops msg rather than block the caller.
func (r *Replicator) Replicate(msg ledger.SyncMessage) {
	if !r.Enabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.drop(msg, ErrStopped)
		return
	}
	r.startOnce.Do(r.start)

	select {
	case r.queue <- msg:
	default:
		r.drop(msg, ErrQueueFull)
	}
}

func (r *Replicator) start() {
	go r.run()
}

// run is the only sender for queued messages
func (r *Replicator) run() {
	defer close(r.done)
	for msg := range r.queue {
		_ = r.Send(context.Background(), msg)
	}
}

func (r *Replicator) drop(msg ledger.SyncMessage, err error) {
	r.logger.Error("replication message dropped",
		zap.String("kind", string(msg.Kind)),
		zap.Int64("sequence_id", sequenceOf(msg)),
		zap.Error(err),
	)
	if r.observe != nil {
		r.observe(msg.Kind, err)
	}
}

// Send delivers msg and waits at most the configured timeout for the ack.
// The error is returned for observability only; it has already been logged.
func (r *Replicator) Send(ctx context.Context, msg ledger.SyncMessage) error {
	if !r.Enabled() {
		return nil
	}
	err := r.send(ctx, msg)
	if err != nil {
		r.logger.Warn("replication not acknowledged",
			zap.String("kind", string(msg.Kind)),
			zap.String("target", r.url),
			zap.Error(err),
		)
	} else {
		r.logger.Debug("replicated", zap.String("kind", string(msg.Kind)))
	}
	if r.observe != nil {
		r.observe(msg.Kind, err)
	}
	return err
}

func (r *Replicator) send(ctx context.Context, msg ledger.SyncMessage) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode sync message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post sync: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode sync reply (http %d): %w", resp.StatusCode, err)
	}
	if reply.Status != "ok" {
		return fmt.Errorf("backup rejected %s: %s", msg.Kind, reply.Message)
	}
	return nil
}

// Wait stops accepting messages and blocks until the queue is drained
func (r *Replicator) Wait() {
	if !r.Enabled() {
		return
	}

	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.startOnce.Do(r.start)
		close(r.queue)
	}
	r.mu.Unlock()

	<-r.done
}
