// internal/ha/monitor_test.go
package ha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errUnreachable = errors.New("connection refused")

// switchProber fails while down is set
type switchProber struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (p *switchProber) Probe(ctx context.Context) error {
	p.calls.Add(1)
	if p.down.Load() {
		return errUnreachable
	}
	return nil
}

func newTestMonitor(t *testing.T, threshold int) (*Monitor, *switchProber, *RoleState) {
	t.Helper()
	prober := &switchProber{}
	role := NewRoleState(RoleStandby)
	m := NewMonitor(MonitorConfig{Interval: 10 * time.Millisecond, FailureThreshold: threshold}, prober, role, zap.NewNop())
	t.Cleanup(m.Stop)
	return m, prober, role
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "standby", RoleStandby.String())
	assert.Equal(t, "primary", RolePrimary.String())
	assert.Equal(t, "unknown", Role(9).String())
}

func TestMonitor_PromotesAfterExactlyThreshold(t *testing.T) {
	m, prober, role := newTestMonitor(t, 3)
	ctx := context.Background()
	prober.down.Store(true)

	assert.Equal(t, RoleStandby, m.Check(ctx)) // 1 failure
	assert.Equal(t, RoleStandby, m.Check(ctx)) // 2 failures
	assert.Equal(t, 2, m.Status().ConsecutiveFails)

	assert.Equal(t, RolePrimary, m.Check(ctx)) // 3 failures
	assert.True(t, role.IsPrimary())

	// further failures do not promote again
	m.Check(ctx)
	m.Check(ctx)
	st := m.Status()
	assert.Equal(t, 1, st.Promotions)
	assert.Equal(t, 0, st.ConsecutiveFails)
	assert.Equal(t, "primary", st.RoleName)
	assert.Equal(t, errUnreachable.Error(), st.LastError)
}

func TestMonitor_SuccessResetsCounter(t *testing.T) {
	m, prober, role := newTestMonitor(t, 3)
	ctx := context.Background()

	prober.down.Store(true)
	m.Check(ctx)
	m.Check(ctx)

	prober.down.Store(false)
	m.Check(ctx)
	assert.Equal(t, 0, m.Status().ConsecutiveFails)

	// failures must be consecutive
	prober.down.Store(true)
	m.Check(ctx)
	m.Check(ctx)
	assert.Equal(t, RoleStandby, role.Load())
	m.Check(ctx)
	assert.Equal(t, RolePrimary, role.Load())
}

func TestMonitor_DemotesWhenPrimaryReturns(t *testing.T) {
	m, prober, role := newTestMonitor(t, 2)
	ctx := context.Background()

	prober.down.Store(true)
	m.Check(ctx)
	m.Check(ctx)
	require.Equal(t, RolePrimary, role.Load())

	prober.down.Store(false)
	assert.Equal(t, RoleStandby, m.Check(ctx))

	st := m.Status()
	assert.Equal(t, 1, st.Demotions)
	assert.Empty(t, st.LastError)

	// re-entrant: it can be promoted again
	prober.down.Store(true)
	m.Check(ctx)
	m.Check(ctx)
	assert.Equal(t, RolePrimary, role.Load())
	assert.Equal(t, 2, m.Status().Promotions)
}

func TestMonitor_NotifiesSubscribers(t *testing.T) {
	m, prober, _ := newTestMonitor(t, 1)

	var mu sync.Mutex
	var got []Transition
	received := make(chan struct{}, 4)
	m.Subscribe(func(tr Transition) {
		mu.Lock()
		got = append(got, tr)
		mu.Unlock()
		received <- struct{}{}
	})

	prober.down.Store(true)
	m.Check(context.Background())
	prober.down.Store(false)
	m.Check(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("transition not delivered")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, RoleStandby, got[0].From)
	assert.Equal(t, RolePrimary, got[0].To)
	assert.Equal(t, RoleStandby, got[1].To)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	m, prober, role := newTestMonitor(t, 2)
	prober.down.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, role.IsPrimary, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.GreaterOrEqual(t, prober.calls.Load(), int32(2))
}

func TestHTTPProber(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := httptest.NewServer(HealthHandler())
		defer srv.Close()

		p := NewHTTPProber(srv.URL, time.Second)
		assert.NoError(t, p.Probe(context.Background()))
	})

	t.Run("wrong reply", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("PANG"))
		}))
		defer srv.Close()

		p := NewHTTPProber(srv.URL, time.Second)
		assert.Error(t, p.Probe(context.Background()))
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		p := NewHTTPProber(srv.URL, 50*time.Millisecond)
		assert.Error(t, p.Probe(context.Background()))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(HealthHandler())
		addr := srv.URL
		srv.Close()

		p := NewHTTPProber(addr, 200*time.Millisecond)
		assert.Error(t, p.Probe(context.Background()))
	})
}

func TestHealthHandler_RejectsOtherBodies(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, HealthPath, strings.NewReader("HELLO"))
	w := httptest.NewRecorder()

	HealthHandler()(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMonitor_FailoverAgainstRealEndpoint(t *testing.T) {
	srv := httptest.NewServer(HealthHandler())

	role := NewRoleState(RoleStandby)
	m := NewMonitor(MonitorConfig{Interval: time.Millisecond, FailureThreshold: 3},
		NewHTTPProber(srv.URL, 100*time.Millisecond), role, zap.NewNop())
	defer m.Stop()
	ctx := context.Background()

	assert.Equal(t, RoleStandby, m.Check(ctx))

	srv.Close()
	m.Check(ctx)
	m.Check(ctx)
	assert.Equal(t, RoleStandby, role.Load())
	m.Check(ctx)
	assert.Equal(t, RolePrimary, role.Load())
}
