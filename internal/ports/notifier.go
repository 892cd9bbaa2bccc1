package ports

// NoticeKind classifies a user-facing notice.
type NoticeKind int

const (
	NoticeNoSelection NoticeKind = iota
	NoticeDeleted
	NoticeDeleteFailed
	NoticeSaveFailed
)

// String returns a short identifier for the notice kind.
func (k NoticeKind) String() string {
	switch k {
	case NoticeNoSelection:
		return "no-selection"
	case NoticeDeleted:
		return "deleted"
	case NoticeDeleteFailed:
		return "delete-failed"
	case NoticeSaveFailed:
		return "save-failed"
	default:
		return "unknown"
	}
}

// Notice is a transient, non-blocking status message.
type Notice struct {
	Kind    NoticeKind
	Name    string
	Message string
}

// Notifier shows notices to the user.
// Implementations must not block.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }
