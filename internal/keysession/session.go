// Package keysession implements the Session: the per-muxing-job owner of
// the scope state machine, the delay queue, the Polling Worker, and the
// session's publishing destinations.
package keysession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/exmg/keysync/internal/filesink"
	"github.com/exmg/keysync/internal/fragment"
	"github.com/exmg/keysync/internal/keyqueue"
	"github.com/exmg/keysync/internal/mqttpub"
)

// ErrQueueFull wraps keyqueue.ErrFull to make it identifiable at the
// Session boundary without importing internal/keyqueue, replacing the
// original's exit(1) with a surfaced error.
var ErrQueueFull = errors.New("keysession: delay queue is full, publish_delay_secs is likely misconfigured")

// Config holds the tunables read from the session's external
// configuration, independent of internal/config's Viper binding so this
// package has no dependency on it.
type Config struct {
	DryRun            bool
	NoEncryption      bool
	FSPubBasepath     string
	PublishDelaySecs  float64
	FragmentsPerKey   uint32
	KeyIndexMaxWindow int
	PollInterval      time.Duration
	QueueCapacity     int

	MQTTEnabled bool
	MQTTURL     string
	MQTTConfig  mqttpub.Config
}

// Validate checks that publish_delay_secs is non-negative and
// fragments_per_key/queue_capacity are at least 1.
func (c Config) Validate() error {
	if c.PublishDelaySecs < 0 {
		return fmt.Errorf("keysession: publish_delay_secs must be non-negative, got %v", c.PublishDelaySecs)
	}
	if c.FragmentsPerKey < 1 {
		return fmt.Errorf("keysession: fragments_per_key must be at least 1, got %d", c.FragmentsPerKey)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("keysession: queue_capacity must be at least 1, got %d", c.QueueCapacity)
	}
	return nil
}

// Stats is an introspection snapshot for tests and the demo binary.
type Stats struct {
	KeyIndexCounter   uint64
	QueueLen          int
	ScopeFragCounter  uint32
	KeyIndexMaxWindow int
}

// Session owns one muxing job's scope state, delay queue, worker, and
// publishing destinations.
type Session struct {
	cfg    Config
	logger *slog.Logger

	handler *fragment.Handler
	queue   *keyqueue.Queue

	sink     *filesink.Sink
	registry *mqttpub.Registry
	mqtt     *mqttpub.Handle

	lastFragStart atomic.Int64
	lastTimescale atomic.Uint32

	workerDone chan struct{}
	cancel     context.CancelFunc

	mu              sync.Mutex
	keyIndexCounter uint64
}

// New constructs a Session and starts its Polling Worker. registry may be
// nil when cfg.MQTTEnabled is false. The returned Session's worker runs
// until ctx is cancelled or Close is called.
func New(ctx context.Context, cfg Config, registry *mqttpub.Registry, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", uuid.NewString())

	s := &Session{
		cfg:        cfg,
		logger:     logger,
		handler:    fragment.New(cfg.FragmentsPerKey, logger),
		queue:      keyqueue.New(cfg.QueueCapacity),
		registry:   registry,
		workerDone: make(chan struct{}),
	}

	if cfg.FSPubBasepath != "" {
		s.sink = filesink.New(cfg.FSPubBasepath, logger)
	}

	if cfg.MQTTEnabled {
		if registry == nil {
			return nil, fmt.Errorf("keysession: mqtt enabled but no publisher registry supplied")
		}
		h, err := registry.Acquire(cfg.MQTTURL, cfg.MQTTConfig)
		if err != nil {
			return nil, fmt.Errorf("keysession: acquiring MQTT publisher handle: %w", err)
		}
		s.mqtt = h

		if err := h.Ping(ctx); err != nil {
			logger.Warn("MQTT health check ping failed at session init", "error", err)
		}
	}

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.runWorker(workerCtx)

	return s, nil
}

// OnFragment feeds one finalized fragment through the scope state machine
// and, if it closes a scope, enqueues the resulting key-message.
func (s *Session) OnFragment(src fragment.Source) error {
	s.lastFragStart.Store(src.FragStart())
	s.lastTimescale.Store(src.Timescale())

	res, err := s.handler.Handle(src)
	if err != nil {
		return err
	}
	if !res.Enqueue {
		return nil
	}

	data, err := res.Message.Marshal()
	if err != nil {
		return fmt.Errorf("keysession: formatting key-message: %w", err)
	}

	s.mu.Lock()
	s.keyIndexCounter = res.Message.KeyID
	s.mu.Unlock()

	item := keyqueue.Item{
		MessageBytes: data,
		MediaTime:    res.MediaTime,
		TrackID:      res.Message.Fragment.TrackID,
		CodecType:    res.Message.Fragment.CodecType,
		ScopeID:      ulid.Make().String(),
	}
	if err := s.queue.Push(item); err != nil {
		if errors.Is(err, keyqueue.ErrFull) {
			return ErrQueueFull
		}
		return err
	}
	return nil
}

// Stats returns a snapshot of the session's current state.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	keyID := s.keyIndexCounter
	s.mu.Unlock()

	return Stats{
		KeyIndexCounter:   keyID,
		QueueLen:          s.queue.Len(),
		ScopeFragCounter:  0, // scope counter resets to 0 on every close; not separately exposed by fragment.Handler
		KeyIndexMaxWindow: s.cfg.KeyIndexMaxWindow,
	}
}

// Close cancels the Polling Worker, drains any remaining queued messages
// (dropping them with a warning log — losing a key-message at shutdown
// does not corrupt anything already published), disconnects this
// session's MQTT publisher when it was the last session using it, and
// waits for the worker goroutine to exit or ctx to expire.
func (s *Session) Close(ctx context.Context) error {
	s.cancel()

	select {
	case <-s.workerDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	drained := 0
	for {
		item, ok := s.queue.PeekAndMaybePop(func(keyqueue.Item) bool { return true })
		if !ok {
			break
		}
		drained++
		s.logger.Warn("dropping undelivered key-message at session teardown", "media_time", item.MediaTime)
	}
	if drained > 0 {
		s.logger.Info("drained queue at session teardown", "dropped", drained)
	}

	if s.mqtt != nil {
		s.registry.Release(s.mqtt)
	}

	return nil
}
