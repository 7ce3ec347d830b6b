// internal/replication/receiver.go
package replication

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/FairForge/roomd/internal/ledger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxSyncBody = 1 << 20

// Applier mirrors replicated mutations
type Applier interface {
	ApplyReplicated(ctx context.Context, msg ledger.SyncMessage) error
}

// Receiver is the backup side of the channel
type Receiver struct {
	applier Applier
	logger  *zap.Logger
}

// NewReceiver creates a receiver applying into applier
func NewReceiver(applier Applier, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{applier: applier, logger: logger}
}

// Routes registers the sync endpoint
func (rc *Receiver) Routes(router *mux.Router) {
	router.HandleFunc(SyncPath, rc.handleSync).Methods(http.MethodPost)
}

func (rc *Receiver) handleSync(w http.ResponseWriter, r *http.Request) {
	var msg ledger.SyncMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSyncBody)).Decode(&msg); err != nil {
		rc.reply(w, http.StatusBadRequest, Reply{Status: "error", Message: "invalid sync message: " + err.Error()})
		return
	}

	rc.logger.Info("sync received",
		zap.String("kind", string(msg.Kind)),
		zap.Int64("sequence_id", sequenceOf(msg)),
	)

	if err := rc.applier.ApplyReplicated(r.Context(), msg); err != nil {
		rc.logger.Error("sync apply failed", zap.String("kind", string(msg.Kind)), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, ledger.ErrMalformedRequest) || errors.Is(err, ledger.ErrPoolOverdrawn) {
			status = http.StatusUnprocessableEntity
		}
		rc.reply(w, status, Reply{Status: "error", Message: err.Error()})
		return
	}

	rc.reply(w, http.StatusOK, Reply{Status: "ok"})
}

func (rc *Receiver) reply(w http.ResponseWriter, code int, reply Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(reply)
}

func sequenceOf(msg ledger.SyncMessage) int64 {
	if msg.Record != nil {
		return msg.Record.SequenceID
	}
	return msg.SequenceID
}
