package monitor

import (
	"context"
	"time"

	"github.com/harlan/fieldsync/internal/status"
	"github.com/harlan/fieldsync/internal/store"
)

const historyLimit = 50

// FetchData retrieves all data needed for the monitor display
func FetchData(st *store.Store, prober status.Prober) RefreshDataMsg {
	msg := RefreshDataMsg{
		Timestamp: time.Now(),
	}

	if prober != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		msg.Online = prober.Health(ctx) == nil
		cancel()
	}

	lastSync, err := st.LastSyncAt()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.LastSyncAt = lastSync

	pending, err := st.ListPending()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Pending = pending

	dead, err := st.ListDeadLetters()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.DeadLetters = dead

	conflicts, err := st.ListUnresolvedConflicts()
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.Conflicts = conflicts

	history, err := st.HistoryTail(historyLimit)
	if err != nil {
		msg.Err = err
		return msg
	}
	msg.History = history

	return msg
}
