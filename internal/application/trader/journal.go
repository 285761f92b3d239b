package trader

// journal.go — ordered event journal of one session, for deterministic replay.

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/updown/internal/domain"
	"github.com/alejandrodnm/updown/internal/ports"
)

// Journal appends decision events to storage with a monotonic sequence.
// Append failures are logged, never propagated: the journal is an audit
// trail, not a trading dependency.
type Journal struct {
	store     ports.Store
	sessionID string
	seq       atomic.Int64
}

// NewJournal creates the journal for a session.
func NewJournal(store ports.Store, sessionID string) *Journal {
	return &Journal{store: store, sessionID: sessionID}
}

// SessionID returns the session this journal writes to.
func (j *Journal) SessionID() string {
	return j.sessionID
}

// Append records one event. detail is serialized to JSON; nil means no detail.
func (j *Journal) Append(ctx context.Context, kind, conditionID string, detail any) {
	var payload string
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			slog.Warn("journal: marshal detail", "kind", kind, "err", err)
		} else {
			payload = string(b)
		}
	}

	e := domain.Event{
		SessionID:   j.sessionID,
		Seq:         j.seq.Add(1),
		Kind:        kind,
		ConditionID: conditionID,
		Detail:      payload,
		At:          time.Now().UTC(),
	}
	if err := j.store.AppendEvent(ctx, e); err != nil {
		slog.Warn("journal: append", "kind", kind, "err", err)
	}
}
