// internal/ha/monitor.go
package ha

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Transition is emitted whenever the monitor changes the role
type Transition struct {
	From      Role
	To        Role
	Timestamp time.Time
	Reason    string
}

// MonitorConfig configures the failover monitor
type MonitorConfig struct {
	Interval         time.Duration
	FailureThreshold int // consecutive failed probes before promotion
}

// Status is a point-in-time view of the monitor
type Status struct {
	Role             Role      `json:"-"`
	RoleName         string    `json:"role"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	FailureThreshold int       `json:"failure_threshold"`
	LastProbe        time.Time `json:"last_probe"`
	LastError        string    `json:"last_error,omitempty"`
	Promotions       int       `json:"promotions"`
	Demotions        int       `json:"demotions"`
}

// Monitor runs on the backup. While standby it promotes after FailureThreshold
// consecutive failed probes; while primary it steps down as soon as the
// original primary answers again. Its transitions are the only writers of role.
type Monitor struct {
	mu     sync.Mutex
	config MonitorConfig
	prober Prober
	role   *RoleState
	logger *zap.Logger

	consecutiveFails int
	lastProbe        time.Time
	lastErr          error
	promotions       int
	demotions        int

	subscribers []func(Transition)
	eventChan   chan Transition
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewMonitor creates a monitor for the given role, which should start as standby
func NewMonitor(config MonitorConfig, prober Prober, role *RoleState, logger *zap.Logger) *Monitor {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.Interval <= 0 {
		config.Interval = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		config:    config,
		prober:    prober,
		role:      role,
		logger:    logger,
		eventChan: make(chan Transition, 16),
		stopChan:  make(chan struct{}),
	}

	// Start event dispatcher
	go m.eventDispatcher()

	return m
}

// Run probes every interval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logger.Info("failover monitor started",
		zap.String("role", m.role.Load().String()),
		zap.Duration("interval", m.config.Interval),
		zap.Int("failure_threshold", m.config.FailureThreshold),
	)

	for {
		m.Check(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		}
	}
}

// Check runs one probe and applies its outcome; it returns the resulting role
func (m *Monitor) Check(ctx context.Context) Role {
	err := m.prober.Probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastProbe = time.Now()
	m.lastErr = err

	switch m.role.Load() {
	case RoleStandby:
		if err == nil {
			if m.consecutiveFails > 0 {
				m.logger.Info("primary reachable again", zap.Int("after_failures", m.consecutiveFails))
			}
			m.consecutiveFails = 0
			break
		}

		m.consecutiveFails++
		m.logger.Warn("heartbeat failed",
			zap.Int("failures", m.consecutiveFails),
			zap.Int("threshold", m.config.FailureThreshold),
			zap.Error(err),
		)
		if m.consecutiveFails >= m.config.FailureThreshold {
			m.promotions++
			m.transition(RolePrimary, "primary unreachable")
			m.logger.Warn("FAILOVER ACTIVATED: this server is now primary")
		}

	case RolePrimary:
		if err == nil {
			m.demotions++
			m.transition(RoleStandby, "original primary recovered")
			m.logger.Info("original primary recovered, returning to standby")
		}
	}

	return m.role.Load()
}

// transition must be called with mu held
func (m *Monitor) transition(to Role, reason string) {
	from := m.role.Load()
	m.role.store(to)
	m.consecutiveFails = 0

	m.emitEvent(Transition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
}

// Status returns a snapshot
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Role:             m.role.Load(),
		RoleName:         m.role.Load().String(),
		ConsecutiveFails: m.consecutiveFails,
		FailureThreshold: m.config.FailureThreshold,
		LastProbe:        m.lastProbe,
		Promotions:       m.promotions,
		Demotions:        m.demotions,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Subscribe registers a transition listener
func (m *Monitor) Subscribe(handler func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, handler)
}

// emitEvent sends an event to subscribers
func (m *Monitor) emitEvent(event Transition) {
	select {
	case m.eventChan <- event:
	default:
		m.logger.Warn("transition event dropped", zap.String("to", event.To.String()))
	}
}

// eventDispatcher dispatches events to subscribers
func (m *Monitor) eventDispatcher() {
	for {
		select {
		case event := <-m.eventChan:
			m.mu.Lock()
			handlers := append([]func(Transition){}, m.subscribers...)
			m.mu.Unlock()
			for _, handler := range handlers {
				handler(event)
			}
		case <-m.stopChan:
			return
		}
	}
}

// Stop shuts down the monitor
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}
