// Package outbox holds messages whose upstream send failed and retries
// them with exponential backoff. Entries are persisted in the KV before
// the originating call returns, so a crash cannot lose a message the
// caller believes was queued.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"autosync/pkg/logger"
	"autosync/pkg/metrics"
	"autosync/pkg/models"
	"autosync/pkg/store"
)

const keyPrefix = "outbox:"

var (
	// ErrOutboxFull is returned by Add when the outbox is at capacity.
	ErrOutboxFull = errors.New("outbox at capacity")
	// ErrPermanent wraps send failures that must not be retried. The
	// send function reports a rejection by wrapping this error.
	ErrPermanent = errors.New("permanent send failure")
)

// Entry is one queued send. Key is the KV key and is not part of the
// stored value.
type Entry struct {
	Key            string `json:"-"`
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	RecipientID    string `json:"recipientId,omitempty"`
	EnqueuedAt     int64  `json:"enqueuedAt"`
	Attempts       int    `json:"attempts"`
	NextAttempt    int64  `json:"nextAttempt"`
	LastError      string `json:"lastError,omitempty"`
}

// SendFunc performs one delivery attempt. A nil error acknowledges the
// entry; an error wrapping ErrPermanent drops it without further
// retries.
type SendFunc func(ctx context.Context, e Entry) (confirmed, autoReply *models.Message, err error)

type Config struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	QueueCapacity int
	SweepInterval time.Duration
}

func (c *Config) fillDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 15 * time.Minute
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
}

// Outbox owns the durable retry queue. One sweep runs at a time;
// sweeps are triggered by the interval ticker, by Kick, or directly by
// the refresh scheduler calling Sweep.
type Outbox struct {
	kv   store.KV
	cfg  Config
	send SendFunc

	onConfirmed func(e Entry, confirmed, autoReply *models.Message)
	onExhausted func(e Entry, cause string)

	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	sweeping bool
	depth    atomic.Int64
}

func New(kv store.KV, cfg Config, send SendFunc) *Outbox {
	cfg.fillDefaults()
	return &Outbox{
		kv:   kv,
		cfg:  cfg,
		send: send,
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// OnConfirmed registers the callback invoked after a queued send is
// acknowledged upstream. Must be set before Start.
func (o *Outbox) OnConfirmed(fn func(e Entry, confirmed, autoReply *models.Message)) {
	o.onConfirmed = fn
}

// OnExhausted registers the callback invoked when an entry is dropped,
// either rejected or out of attempts. Must be set before Start.
func (o *Outbox) OnExhausted(fn func(e Entry, cause string)) {
	o.onExhausted = fn
}

// Start counts the persisted backlog and launches the sweep loop.
func (o *Outbox) Start() error {
	entries, err := o.loadAll()
	if err != nil {
		return fmt.Errorf("outbox scan: %w", err)
	}
	o.depth.Store(int64(len(entries)))
	metrics.OutboxDepth.Set(float64(len(entries)))
	if len(entries) > 0 {
		logger.Info("outbox_backlog_found", "count", len(entries))
	}
	go o.loop()
	return nil
}

func (o *Outbox) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// Kick asks the loop for an immediate sweep. Non-blocking; a pending
// kick absorbs further ones.
func (o *Outbox) Kick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

func (o *Outbox) loop() {
	t := time.NewTicker(o.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-t.C:
			o.Sweep(context.Background())
		case <-o.kick:
			o.Sweep(context.Background())
		}
	}
}

// Add persists a new entry. The failed live send counts as the first
// attempt, so the first redelivery waits one backoff period.
func (o *Outbox) Add(e Entry) error {
	if e.ID == "" || e.Text == "" {
		return errors.New("outbox entry needs an id and text")
	}
	if int(o.depth.Load()) >= o.cfg.QueueCapacity {
		return ErrOutboxFull
	}
	now := time.Now()
	if e.EnqueuedAt == 0 {
		e.EnqueuedAt = now.UnixMilli()
	}
	if e.Attempts == 0 {
		e.Attempts = 1
	}
	if e.NextAttempt == 0 {
		e.NextAttempt = now.Add(o.backoff(e.Attempts)).UnixMilli()
	}
	e.Key = fmt.Sprintf("%s%020d:%s", keyPrefix, now.UnixNano(), e.ID)
	if err := o.put(e); err != nil {
		return err
	}
	metrics.OutboxDepth.Set(float64(o.depth.Add(1)))
	logger.Info("outbox_enqueued", "id", e.ID, "conversation", e.ConversationID, "next_attempt_ms", e.NextAttempt)
	return nil
}

// Pending returns the persisted backlog in enqueue order.
func (o *Outbox) Pending() ([]Entry, error) {
	return o.loadAll()
}

// Depth returns the current backlog size.
func (o *Outbox) Depth() int { return int(o.depth.Load()) }

// Sweep attempts every due entry once. Skips entirely if another sweep
// is running.
func (o *Outbox) Sweep(ctx context.Context) {
	o.mu.Lock()
	if o.sweeping {
		o.mu.Unlock()
		return
	}
	o.sweeping = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.sweeping = false
		o.mu.Unlock()
	}()

	entries, err := o.loadAll()
	if err != nil {
		logger.Error("outbox_sweep_scan_failed", "error", err)
		return
	}
	o.depth.Store(int64(len(entries)))
	metrics.OutboxDepth.Set(float64(len(entries)))

	now := time.Now().UnixMilli()
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if e.NextAttempt > now {
			continue
		}
		o.attempt(ctx, e)
	}
}

func (o *Outbox) attempt(ctx context.Context, e Entry) {
	metrics.OutboxRetries.Inc()
	confirmed, autoReply, err := o.send(ctx, e)
	if err == nil {
		o.remove(e.Key)
		metrics.OutboxDelivered.Inc()
		logger.Info("outbox_delivered", "id", e.ID, "attempts", e.Attempts)
		if o.onConfirmed != nil {
			o.onConfirmed(e, confirmed, autoReply)
		}
		return
	}

	e.Attempts++
	e.LastError = err.Error()
	if errors.Is(err, ErrPermanent) || e.Attempts >= o.cfg.MaxAttempts {
		o.remove(e.Key)
		metrics.OutboxExhausted.Inc()
		logger.Warn("outbox_gave_up", "id", e.ID, "attempts", e.Attempts, "error", err)
		if o.onExhausted != nil {
			o.onExhausted(e, e.LastError)
		}
		return
	}
	e.NextAttempt = time.Now().Add(o.backoff(e.Attempts)).UnixMilli()
	if perr := o.put(e); perr != nil {
		logger.Error("outbox_update_failed", "id", e.ID, "error", perr)
		return
	}
	logger.Info("outbox_retry_scheduled", "id", e.ID, "attempts", e.Attempts, "next_attempt_ms", e.NextAttempt)
}

func (o *Outbox) backoff(attempts int) time.Duration {
	d := o.cfg.BackoffBase
	for i := 1; i < attempts && d < o.cfg.BackoffCap; i++ {
		d *= 2
	}
	if d > o.cfg.BackoffCap {
		d = o.cfg.BackoffCap
	}
	return d
}

func (o *Outbox) put(e Entry) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(e); err != nil {
		return err
	}
	return o.kv.Set(e.Key, bb.B)
}

func (o *Outbox) remove(key string) {
	if err := o.kv.Delete(key); err != nil {
		logger.Error("outbox_delete_failed", "key", key, "error", err)
		return
	}
	metrics.OutboxDepth.Set(float64(o.depth.Add(-1)))
}

// loadAll reads the backlog. Undecodable entries can never be sent and
// are removed on sight.
func (o *Outbox) loadAll() ([]Entry, error) {
	raw, err := o.kv.List(keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, kvEntry := range raw {
		var e Entry
		if err := json.Unmarshal(kvEntry.Value, &e); err != nil {
			logger.Warn("outbox_entry_corrupt", "key", kvEntry.Key, "error", err)
			_ = o.kv.Delete(kvEntry.Key)
			continue
		}
		e.Key = kvEntry.Key
		if !strings.HasPrefix(e.Key, keyPrefix) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
