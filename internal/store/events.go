package store

import "github.com/dispatchcore/dispatch/pkg/models"

// TerminalEvent is emitted whenever a task reaches a terminal state. The
// messaging front-end subscribes to these to notify the operator.
type TerminalEvent struct {
	// TaskID identifies the task.
	TaskID string
	// State is the terminal state reached (completed or interrupted).
	State models.TaskState
	// Result is the task output when State is completed.
	Result string
	// Err is the task failure when State is interrupted.
	Err *models.TaskError
}

// Watch returns a channel receiving terminal events and a cancel function
// that unsubscribes it. Slow subscribers drop events rather than blocking
// state transitions.
func (db *DB) Watch() (<-chan TerminalEvent, func()) {
	ch := make(chan TerminalEvent, 64)

	db.watchMu.Lock()
	db.watchers = append(db.watchers, ch)
	db.watchMu.Unlock()

	cancel := func() {
		db.watchMu.Lock()
		defer db.watchMu.Unlock()
		for i, w := range db.watchers {
			if w == ch {
				db.watchers = append(db.watchers[:i], db.watchers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// emitTerminal fans a terminal event out to all watchers.
func (db *DB) emitTerminal(event TerminalEvent) {
	db.watchMu.Lock()
	defer db.watchMu.Unlock()

	for _, ch := range db.watchers {
		select {
		case ch <- event:
		default:
		}
	}
}
