package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FairForge/roomd/internal/database"
	"github.com/FairForge/roomd/internal/ledger"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(context.Background(), database.NewMemory(), ledger.Totals{Rooms: 450, Labs: 140}, zap.NewNop())
	require.NoError(t, err)
	return l
}

func newBackup(t *testing.T) (*ledger.Ledger, *httptest.Server) {
	t.Helper()
	backup := newLedger(t)
	router := mux.NewRouter()
	NewReceiver(backup, zap.NewNop()).Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return backup, srv
}

// delayedReservations serves the sync endpoint but holds reservation messages
// back, so a later delete would overtake them if sends were not ordered
func delayedReservations(t *testing.T, backup *ledger.Ledger, delay time.Duration) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	NewReceiver(backup, zap.NewNop()).Routes(router)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var msg ledger.SyncMessage
		if json.Unmarshal(body, &msg) == nil && msg.Kind == ledger.SyncReservation {
			time.Sleep(delay)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sequenceIDs(t *testing.T, l *ledger.Ledger) []int64 {
	t.Helper()
	records, err := l.Records(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.SequenceID)
	}
	return ids
}

func TestReplicator_PreservesCommitOrder(t *testing.T) {
	tests := []struct {
		name   string
		delete func(ctx context.Context, l *ledger.Ledger, rec ledger.Record) error
	}{
		{
			name: "reserve then delete one",
			delete: func(ctx context.Context, l *ledger.Ledger, rec ledger.Record) error {
				_, _, err := l.Delete(ctx, rec.SequenceID)
				return err
			},
		},
		{
			name: "reserve then delete all",
			delete: func(ctx context.Context, l *ledger.Ledger, rec ledger.Record) error {
				_, _, err := l.DeleteAll(ctx)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			primary := newLedger(t)
			backup := newLedger(t)
			srv := delayedReservations(t, backup, 100*time.Millisecond)

			rep := NewReplicator(srv.URL, time.Second, zap.NewNop())
			primary.SetPublisher(rep.Replicate)

			var failures []error
			var mu sync.Mutex
			rep.SetObserver(func(kind ledger.SyncKind, err error) {
				if err != nil {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
				}
			})

			a, err := primary.Allocate(ctx, ledger.Request{RequestID: "A", Requester: "engineering", Rooms: 7, Labs: 2})
			require.NoError(t, err)
			require.NoError(t, tt.delete(ctx, primary, a.Record))
			_, err = primary.Allocate(ctx, ledger.Request{RequestID: "B", Requester: "law", Rooms: 10, Labs: 4})
			require.NoError(t, err)

			rep.Wait()

			assert.Equal(t, primary.Pool(), backup.Pool())
			assert.Equal(t, sequenceIDs(t, primary), sequenceIDs(t, backup))
			mu.Lock()
			assert.Empty(t, failures)
			mu.Unlock()
		})
	}
}

func TestReplicator_StoppedAfterWait(t *testing.T) {
	_, srv := newBackup(t)
	rep := NewReplicator(srv.URL, time.Second, zap.NewNop())

	var got error
	rep.SetObserver(func(kind ledger.SyncKind, err error) { got = err })

	rep.Wait()
	rep.Wait()
	rep.Replicate(ledger.DeleteAllMessage())
	assert.ErrorIs(t, got, ErrStopped)
}

func TestReplicator_MirrorsEveryKind(t *testing.T) {
	ctx := context.Background()
	primary := newLedger(t)
	backup, srv := newBackup(t)
	rep := NewReplicator(srv.URL, time.Second, zap.NewNop())

	a, err := primary.Allocate(ctx, ledger.Request{RequestID: "A", Requester: "engineering", Rooms: 7, Labs: 2})
	require.NoError(t, err)
	b, err := primary.Allocate(ctx, ledger.Request{RequestID: "B", Requester: "law", Rooms: 10, Labs: 4})
	require.NoError(t, err)

	require.NoError(t, rep.Send(ctx, ledger.ReservationMessage(a.Record)))
	require.NoError(t, rep.Send(ctx, ledger.ReservationMessage(b.Record)))
	// duplicate delivery is acknowledged without effect
	require.NoError(t, rep.Send(ctx, ledger.ReservationMessage(a.Record)))
	assert.Equal(t, primary.Pool(), backup.Pool())

	_, _, err = primary.Delete(ctx, a.Record.SequenceID)
	require.NoError(t, err)
	require.NoError(t, rep.Send(ctx, ledger.DeleteOneMessage(a.Record.SequenceID)))
	assert.Equal(t, primary.Pool(), backup.Pool())

	_, _, err = primary.DeleteAll(ctx)
	require.NoError(t, err)
	require.NoError(t, rep.Send(ctx, ledger.DeleteAllMessage()))
	assert.Equal(t, primary.Pool(), backup.Pool())
}

func TestReplicator_AsyncAndObserved(t *testing.T) {
	backup, srv := newBackup(t)
	rep := NewReplicator(srv.URL, time.Second, zap.NewNop())

	var mu sync.Mutex
	outcomes := map[ledger.SyncKind]error{}
	rep.SetObserver(func(kind ledger.SyncKind, err error) {
		mu.Lock()
		outcomes[kind] = err
		mu.Unlock()
	})

	rec := ledger.Record{SequenceID: 1, RequestID: "A", Requester: "engineering", RoomsAllocated: 7, LabsAllocated: 2}
	rep.Replicate(ledger.ReservationMessage(rec))
	rep.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, outcomes, ledger.SyncReservation)
	assert.NoError(t, outcomes[ledger.SyncReservation])
	assert.Equal(t, 443, backup.Pool().RoomsAvailable)
}

func TestReplicator_BoundedWaitOnSlowBackup(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rep := NewReplicator(srv.URL, 50*time.Millisecond, zap.NewNop())

	start := time.Now()
	rep.Replicate(ledger.DeleteAllMessage())
	assert.Less(t, time.Since(start), 40*time.Millisecond, "Replicate must not block")

	err := rep.Send(context.Background(), ledger.DeleteAllMessage())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	rep.Wait()
}

func TestReplicator_DeadBackupIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	rep := NewReplicator(addr, 100*time.Millisecond, zap.NewNop())
	assert.Error(t, rep.Send(context.Background(), ledger.DeleteAllMessage()))
}

func TestReplicator_DisabledWithoutTarget(t *testing.T) {
	rep := NewReplicator("", time.Second, zap.NewNop())
	assert.False(t, rep.Enabled())
	assert.NoError(t, rep.Send(context.Background(), ledger.DeleteAllMessage()))
	rep.Replicate(ledger.DeleteAllMessage())
	rep.Wait()
}

func TestReceiver_RejectsBadMessages(t *testing.T) {
	_, srv := newBackup(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"unknown kind", `{"kind":"truncate"}`, http.StatusUnprocessableEntity},
		{"reservation without record", `{"kind":"reservation"}`, http.StatusUnprocessableEntity},
		{"delete without id", `{"kind":"delete_one"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+SyncPath, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}
