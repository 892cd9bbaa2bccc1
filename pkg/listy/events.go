package listy

import (
	"github.com/bft-labs/listycity/internal/app"
	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
)

// Types shared with the internal packages.
type (
	// Record is a city entry.
	Record = domain.Record
	// Entry is a record in the list, possibly pending confirmation.
	Entry = domain.Entry
	// ListState is a copy of the list.
	ListState = domain.ListState
	// Selection is the row chosen for deletion.
	Selection = domain.Selection
	// Document is a raw document as delivered by a store.
	Document = domain.Document

	// RemoteStore is the contract every store driver implements.
	RemoteStore = ports.RemoteStore
	// Subscription is a live snapshot stream.
	Subscription = ports.Subscription

	// Notice is a short user-facing message.
	Notice = ports.Notice
	// NoticeKind classifies a Notice.
	NoticeKind = ports.NoticeKind
	// Notifier receives notices.
	Notifier = ports.Notifier
	// NotifierFunc adapts a function to Notifier.
	NotifierFunc = ports.NotifierFunc

	// ChangeCause says why the list changed.
	ChangeCause = app.ChangeCause
	// ListListener observes list changes.
	ListListener = app.ListListener
)

// Notice kinds.
const (
	NoticeNoSelection  = ports.NoticeNoSelection
	NoticeDeleted      = ports.NoticeDeleted
	NoticeDeleteFailed = ports.NoticeDeleteFailed
	NoticeSaveFailed   = ports.NoticeSaveFailed
)

// Change causes.
const (
	ChangeSnapshot = app.ChangeSnapshot
	ChangeAdd      = app.ChangeAdd
	ChangeEdit     = app.ChangeEdit
)

// Errors returned by the API; check with errors.Is.
var (
	ErrRemoteWrite      = domain.ErrRemoteWrite
	ErrRemoteDelete     = domain.ErrRemoteDelete
	ErrNoSelection      = domain.ErrNoSelection
	ErrNoSuchRow        = domain.ErrNoSuchRow
	ErrSubscriptionLost = domain.ErrSubscriptionLost
	ErrAlreadyRunning   = domain.ErrAlreadyRunning
	ErrNotRunning       = domain.ErrNotRunning
	ErrShutdownTimeout  = domain.ErrShutdownTimeout
	ErrInvalidConfig    = domain.ErrInvalidConfig
	ErrClosed           = domain.ErrClosed
)

// State is the lifecycle state of an instance.
type State int

const (
	// StateIdle means no subscription is held.
	StateIdle State = iota
	// StateSubscribed means snapshots are being applied.
	StateSubscribed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSubscribed:
		return "Subscribed"
	default:
		return "Unknown"
	}
}

// StateChangeEvent is emitted on every lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// SnapshotEvent is emitted after a snapshot replaced the list.
type SnapshotEvent struct {
	// Kept is the number of records in the new list.
	Kept int
	// Skipped is the number of malformed documents left out.
	Skipped int
}

// RemoteErrorEvent is emitted when a store call fails.
type RemoteErrorEvent struct {
	// Op is "write", "delete" or "subscribe".
	Op    string
	Error error
}

// EventHandler receives notifications. Calls are synchronous, from the
// goroutine that caused the event; implementations should return quickly.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnSnapshot(event SnapshotEvent)
	OnRemoteError(event RemoteErrorEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to
// override only some methods.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}
func (BaseEventHandler) OnSnapshot(SnapshotEvent)       {}
func (BaseEventHandler) OnRemoteError(RemoteErrorEvent) {}

// eventFanout adapts handlers to the internal emitter interfaces.
type eventFanout struct {
	handler   EventHandler
	lifecycle []app.EventEmitter
	sync      []app.SyncEventEmitter
}

func (e *eventFanout) OnStateChange(previous, current app.State, reason string) {
	for _, l := range e.lifecycle {
		l.OnStateChange(previous, current, reason)
	}
	if e.handler != nil {
		e.handler.OnStateChange(StateChangeEvent{
			Previous: convertState(previous),
			Current:  convertState(current),
			Reason:   reason,
		})
	}
}

func (e *eventFanout) OnSnapshotApplied(kept, skipped int) {
	for _, s := range e.sync {
		s.OnSnapshotApplied(kept, skipped)
	}
	if e.handler != nil {
		e.handler.OnSnapshot(SnapshotEvent{Kept: kept, Skipped: skipped})
	}
}

func (e *eventFanout) OnRemoteError(op string, err error) {
	for _, s := range e.sync {
		s.OnRemoteError(op, err)
	}
	if e.handler != nil {
		e.handler.OnRemoteError(RemoteErrorEvent{Op: op, Error: err})
	}
}

func convertState(s app.State) State {
	if s == app.StateSubscribed {
		return StateSubscribed
	}
	return StateIdle
}
