package shared

import (
	"context"
	"log/slog"
	"sync"
)

// NoticeKind classifies a transient user notification.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
	NoticeLoading NoticeKind = "loading"
)

// Notice is a fire-and-forget message for the user.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Notify sends a notice through n, tolerating a nil notifier.
func Notify(ctx context.Context, n Notifier, kind NoticeKind, message string) {
	if n == nil {
		return
	}
	n.Notify(ctx, Notice{Kind: kind, Message: message})
}

// Notifiers fans a notice out to every non-nil notifier.
func Notifiers(list ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, n Notice) {
		for _, item := range list {
			if item != nil {
				item.Notify(ctx, n)
			}
		}
	})
}

// LogNotifier mirrors notices into the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, n Notice) {
	if l.Logger == nil {
		return
	}
	level := slog.LevelDebug
	if n.Kind == NoticeError {
		level = slog.LevelWarn
	}
	l.Logger.Log(ctx, level, "notice", slog.String("kind", string(n.Kind)), slog.String("message", n.Message))
}

// NoticeQueue buffers notices until the owner drains them, typically once per
// HTTP response. The oldest entries are dropped once the limit is reached.
type NoticeQueue struct {
	mu      sync.Mutex
	limit   int
	notices []Notice
}

// NewNoticeQueue returns a queue holding at most limit notices.
func NewNoticeQueue(limit int) *NoticeQueue {
	if limit <= 0 {
		limit = 32
	}
	return &NoticeQueue{limit: limit}
}

// Notify implements Notifier.
func (q *NoticeQueue) Notify(_ context.Context, n Notice) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notices = append(q.notices, n)
	if over := len(q.notices) - q.limit; over > 0 {
		q.notices = append([]Notice(nil), q.notices[over:]...)
	}
}

// Drain returns the buffered notices and empties the queue.
func (q *NoticeQueue) Drain() []Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.notices
	q.notices = nil
	if out == nil {
		return []Notice{}
	}
	return out
}
