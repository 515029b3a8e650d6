package walletstore

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
)

type (
	// Change describes one committed mutation, or a custom event emitted by a
	// transaction. Topic is the entity name for mutations.
	Change struct {
		topic  string
		entity string
		op     Op
		key    string
		row    Record
		oldRow Record
	}

	// Listener receives changes after they are committed. Listeners run on
	// the writer's goroutine while the write lock is held: they must not write
	// to the store and should return quickly. Errors and panics are logged.
	Listener func(chg *Change) error

	Op int
)

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
	OpEvent  Op = 3
)

func (chg *Change) Topic() string  { return chg.topic }
func (chg *Change) Entity() string { return chg.entity }
func (chg *Change) Op() Op         { return chg.op }
func (chg *Change) Key() string    { return chg.key }

// Row is the post-commit record (nil for deletions).
func (chg *Change) Row() Record { return chg.row }

// OldRow is the record before the change, nil for creations.
func (chg *Change) OldRow() Record { return chg.oldRow }

func (chg *Change) HasRow() bool    { return chg.row != nil }
func (chg *Change) HasOldRow() bool { return chg.oldRow != nil }

// IsCreate reports a put of a record that did not exist before.
func (chg *Change) IsCreate() bool {
	return chg.op == OpPut && chg.oldRow == nil
}

// clone gives each listener its own copy of the rows.
func (chg *Change) clone() *Change {
	c := *chg
	c.row = chg.row.Clone()
	c.oldRow = chg.oldRow.Clone()
	return &c
}

func (chg *Change) String() string {
	return fmt.Sprintf("%s %s/%s", chg.op, chg.topic, chg.key)
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpEvent:
		return "event"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

type subscription struct {
	topic string
	fn    Listener
}

type subscribers struct {
	mu   sync.Mutex
	subs []*subscription
}

func (ss *subscribers) add(topic string, fn Listener) func() {
	sub := &subscription{topic, fn}
	ss.mu.Lock()
	ss.subs = append(ss.subs, sub)
	ss.mu.Unlock()

	return func() {
		ss.mu.Lock()
		defer ss.mu.Unlock()
		ss.subs = slices.DeleteFunc(ss.subs, func(s *subscription) bool { return s == sub })
	}
}

func (ss *subscribers) snapshot() []*subscription {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return slices.Clone(ss.subs)
}

// deliver notifies listeners of committed changes in commit order.
func (ss *subscribers) deliver(logger *slog.Logger, changes []*Change) {
	if len(changes) == 0 {
		return
	}
	subs := ss.snapshot()
	for _, chg := range changes {
		for _, sub := range subs {
			if sub.topic != chg.topic {
				continue
			}
			if err := safelyNotify(sub.fn, chg.clone()); err != nil {
				logger.Warn("store: listener failed", "topic", chg.topic, "key", chg.key, "err", err)
			}
		}
	}
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyNotify(fn Listener, chg *Change) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(chg)
}
