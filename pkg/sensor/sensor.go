// Package sensor watches upstream reachability so the rest of the
// agent can react to outages ending: an online transition kicks the
// outbox and schedules a refresh without waiting for the next cron
// tick.
package sensor

import (
	"context"
	"sync"
	"time"

	"autosync/pkg/logger"
)

// Pinger is the probe the sensor polls. *client.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	// Interval between probes. Defaults to 30s.
	Interval time.Duration
	// ProbeTimeout bounds one probe. Defaults to 5s.
	ProbeTimeout time.Duration
	// FailThreshold is how many consecutive failures flip the sensor
	// offline. One success flips it back. Defaults to 2.
	FailThreshold int
	// HandlerTimeout bounds one transition handler run. Defaults to 10s.
	HandlerTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.FailThreshold <= 0 {
		c.FailThreshold = 2
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 10 * time.Second
	}
}

// Snapshot is the sensor's observable state.
type Snapshot struct {
	Online     bool          `json:"online"`
	LastChange time.Time     `json:"lastChange"`
	LastError  string        `json:"lastError,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// Sensor probes the upstream on an interval with hysteresis: flapping
// on a single dropped probe would stampede the outbox.
type Sensor struct {
	cfg    Config
	pinger Pinger

	mu       sync.RWMutex
	online   bool
	last     Snapshot
	fails    int
	handlers []func(online bool)

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg Config, p Pinger) *Sensor {
	cfg.fillDefaults()
	return &Sensor{
		cfg:    cfg,
		pinger: p,
		// optimistic start: the first failed probe-pair corrects it
		online: true,
		last:   Snapshot{Online: true, LastChange: time.Now()},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// OnTransition registers a handler run on every online/offline flip.
// Handlers run asynchronously with a bounded context. Register before
// Start.
func (s *Sensor) OnTransition(fn func(online bool)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// Online reports the current state.
func (s *Sensor) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// State returns a copy of the full observable state.
func (s *Sensor) State() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Start probes once immediately, then on the interval.
func (s *Sensor) Start() {
	go func() {
		defer close(s.done)
		s.probe()
		t := time.NewTicker(s.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				s.probe()
			}
		}
	}()
}

// Stop ends the probe loop and waits for it to finish.
func (s *Sensor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Probe runs one probe outside the schedule. Used by tests and the
// status endpoint's refresh-now path.
func (s *Sensor) Probe() { s.probe() }

func (s *Sensor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
	defer cancel()
	start := time.Now()
	err := s.pinger.Ping(ctx)
	latency := time.Since(start)

	s.mu.Lock()
	prev := s.online
	if err != nil {
		s.fails++
		s.last.LastError = err.Error()
		if s.fails >= s.cfg.FailThreshold {
			s.online = false
		}
	} else {
		s.fails = 0
		s.online = true
		s.last.LastError = ""
	}
	s.last.Online = s.online
	s.last.Latency = latency
	flipped := prev != s.online
	if flipped {
		s.last.LastChange = time.Now()
	}
	now := s.online
	handlers := append([]func(bool){}, s.handlers...)
	s.mu.Unlock()

	if !flipped {
		return
	}
	if now {
		logger.Info("upstream_online", "latency", latency.String())
	} else {
		logger.Warn("upstream_offline", "error", err)
	}
	for _, fn := range handlers {
		go s.runHandler(fn, now)
	}
}

func (s *Sensor) runHandler(fn func(online bool), online bool) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(online)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.HandlerTimeout):
		logger.Warn("sensor_handler_timeout", "online", online)
	}
}
