// Package ha provides failover for a fixed primary/backup pair of roomd servers.
//
// # Overview
//
// Every server answers heartbeats on its health listener. The backup runs a
// Monitor that probes the primary and owns the backup's RoleState:
//
//	STANDBY ──(N consecutive failed probes)──► PRIMARY
//	   ▲                                          │
//	   └──────(original primary answers)──────────┘
//
// A server started as primary is fixed at PRIMARY and runs no monitor.
//
// # Quick Start
//
//	role := ha.NewRoleState(ha.RoleStandby)
//	prober := ha.NewHTTPProber("10.0.0.1:5557", 5*time.Second)
//	monitor := ha.NewMonitor(ha.MonitorConfig{
//		Interval:         3 * time.Second,
//		FailureThreshold: 3,
//	}, prober, role, logger)
//	defer monitor.Stop()
//
//	monitor.Subscribe(func(t ha.Transition) {
//		logger.Warn("role changed", zap.String("to", t.To.String()))
//	})
//	go monitor.Run(ctx)
//
//	// request handlers gate on the shared role
//	if !role.IsPrimary() {
//		// reply 503
//	}
//
// # Heartbeats
//
// A probe is an HTTP POST of the body PING to HealthPath. Only a 200 reply
// with the body PONG inside the probe timeout counts as healthy.
//
// # Thread Safety
//
// RoleState is read lock-free by request handlers. Monitor transitions are
// its only writers. Subscribers run on the monitor's dispatcher goroutine,
// one event at a time.
package ha
