package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/FairForge/roomd/internal/api"
	"github.com/FairForge/roomd/internal/database"
	"github.com/FairForge/roomd/internal/ha"
	"github.com/FairForge/roomd/internal/ledger"
	"github.com/FairForge/roomd/internal/replication"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(context.Background(), database.NewMemory(), ledger.Totals{Rooms: 450, Labs: 140}, zap.NewNop())
	require.NoError(t, err)
	return l
}

// recordingServer answers with a fixed reply and remembers request ids
type recordingServer struct {
	*httptest.Server
	mu  sync.Mutex
	ids []string
}

func newRecordingServer(t *testing.T, code int, reply api.ReservationResponse) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.ReservationRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		rs.mu.Lock()
		rs.ids = append(rs.ids, req.RequestID)
		rs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) requestIDs() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.ids...)
}

func deadAddr() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	return addr
}

var okReply = api.ReservationResponse{Status: ledger.StatusSuccess, RoomsAllocated: 1, LabsAllocated: 1, RoomsRemaining: 449, LabsRemaining: 139}

func TestClient_PrimaryAnswers(t *testing.T) {
	primary := newRecordingServer(t, http.StatusOK, okReply)
	backup := newRecordingServer(t, http.StatusOK, okReply)

	c := NewClient([]string{primary.URL, backup.URL}, time.Second, zap.NewNop())
	resp, err := c.Send(context.Background(), "law", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, okReply, *resp)
	assert.Len(t, primary.requestIDs(), 1)
	assert.Empty(t, backup.requestIDs())
}

func TestClient_FallsBackWithSameRequestID(t *testing.T) {
	standby := newRecordingServer(t, http.StatusServiceUnavailable, api.ReservationResponse{Status: ledger.StatusError, Message: api.MsgStandby})
	backup := newRecordingServer(t, http.StatusOK, okReply)

	c := NewClient([]string{standby.URL, backup.URL}, time.Second, zap.NewNop())
	c.newID = func() string { return "fixed-id" }

	resp, err := c.Send(context.Background(), "law", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, resp.Status)
	assert.Equal(t, []string{"fixed-id"}, standby.requestIDs())
	assert.Equal(t, []string{"fixed-id"}, backup.requestIDs())
}

func TestClient_FreshIDPerSend(t *testing.T) {
	primary := newRecordingServer(t, http.StatusOK, okReply)
	c := NewClient([]string{primary.URL}, time.Second, zap.NewNop())

	_, err := c.Send(context.Background(), "law", 1, 1)
	require.NoError(t, err)
	_, err = c.Send(context.Background(), "law", 1, 1)
	require.NoError(t, err)

	ids := primary.requestIDs()
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestClient_DeadPrimary(t *testing.T) {
	backup := newRecordingServer(t, http.StatusOK, okReply)

	c := NewClient([]string{deadAddr(), backup.URL}, 200*time.Millisecond, zap.NewNop())
	resp, err := c.Send(context.Background(), "law", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, resp.Status)
}

func TestClient_SlowPrimaryTimesOut(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)
	backup := newRecordingServer(t, http.StatusOK, okReply)

	c := NewClient([]string{slow.URL, backup.URL}, 100*time.Millisecond, zap.NewNop())
	start := time.Now()
	resp, err := c.Send(context.Background(), "law", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, resp.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_FinalRepliesDoNotFallThrough(t *testing.T) {
	bad := newRecordingServer(t, http.StatusBadRequest, api.ReservationResponse{Status: ledger.StatusError, Message: "invalid"})
	backup := newRecordingServer(t, http.StatusOK, okReply)

	c := NewClient([]string{bad.URL, backup.URL}, time.Second, zap.NewNop())
	resp, err := c.Send(context.Background(), "law", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusError, resp.Status)
	assert.Empty(t, backup.requestIDs())
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient([]string{deadAddr(), deadAddr()}, 200*time.Millisecond, zap.NewNop())
	_, err := c.Send(context.Background(), "law", 1, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreachable))

	empty := NewClient([]string{"", ""}, time.Second, zap.NewNop())
	assert.Empty(t, empty.Endpoints())
	_, err = empty.Send(context.Background(), "law", 1, 1)
	assert.ErrorIs(t, err, ErrUnreachable)
}

// The primary commits and replicates but its reply is lost; the retry
// against the promoted backup must be recognised as a duplicate.
func TestClient_RetryAfterLostReplyIsDuplicate(t *testing.T) {
	backupLedger := openLedger(t)
	backupRouter := mux.NewRouter()
	replication.NewReceiver(backupLedger, zap.NewNop()).Routes(backupRouter)
	syncSrv := httptest.NewServer(backupRouter)
	defer syncSrv.Close()

	promoted := api.NewServer(api.Options{Ledger: backupLedger, Role: ha.NewRoleState(ha.RolePrimary)})
	backupSrv := httptest.NewServer(promoted.Handler())
	defer backupSrv.Close()

	rep := replication.NewReplicator(syncSrv.URL, time.Second, zap.NewNop())
	primary := api.NewServer(api.Options{Ledger: openLedger(t), Replicator: rep})
	crashing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primary.Handler().ServeHTTP(httptest.NewRecorder(), r)
		rep.Wait()
		hj, ok := w.(http.Hijacker)
		if !ok {
			panic("hijack unsupported")
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer crashing.Close()

	c := NewClient([]string{crashing.URL, backupSrv.URL}, time.Second, zap.NewNop())
	resp, err := c.Send(context.Background(), "engineering", 7, 2)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusDuplicate, resp.Status)
	assert.Equal(t, 7, resp.RoomsAllocated)
	assert.Equal(t, 2, resp.LabsAllocated)
	assert.Equal(t, 443, resp.RoomsRemaining)
	assert.Equal(t, 443, backupLedger.Pool().RoomsAvailable)
}
