package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoResponse is returned when a request sees no matching response
	// before its deadline.
	ErrNoResponse = errors.New("no response before deadline")
)

// Kind classifies a message.
type Kind string

const (
	// KindRequest expects a correlated response.
	KindRequest Kind = "request"
	// KindResponse answers a request, carrying its correlation ID.
	KindResponse Kind = "response"
	// KindEvent is fire-and-forget.
	KindEvent Kind = "event"
)

// Message is one mailbox message. The filename carries ordering; the body
// carries meaning.
type Message struct {
	ID            string          `json:"id"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Kind          Kind            `json:"kind"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// seq disambiguates messages written within the same nanosecond.
var seq atomic.Uint64

// messageName builds a filename that sorts in send order and cannot
// collide across processes: nanosecond timestamp, then a process-local
// sequence number, then a random suffix.
func messageName(now time.Time) string {
	return fmt.Sprintf("%020d-%06d-%s.json", now.UnixNano(), seq.Add(1)%1_000_000, uuid.New().String()[:8])
}

// Mailbox is one agent's view of the shared mailbox root. Every agent has
// an inbox directory under the root; anyone can write into it, only the
// owner consumes from it.
type Mailbox struct {
	root  string
	agent string
}

// New creates a mailbox for the named agent under root, creating its
// inbox directory.
func New(root, agent string) (*Mailbox, error) {
	if agent == "" {
		return nil, errors.New("mailbox agent name is empty")
	}
	mb := &Mailbox{root: root, agent: agent}
	if err := os.MkdirAll(mb.inboxDir(agent), 0755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	return mb, nil
}

// Agent returns the owning agent's name.
func (mb *Mailbox) Agent() string {
	return mb.agent
}

// InboxDir returns the owner's inbox directory.
func (mb *Mailbox) InboxDir() string {
	return mb.inboxDir(mb.agent)
}

func (mb *Mailbox) inboxDir(agent string) string {
	return filepath.Join(mb.root, agent, "inbox")
}

// Send delivers a message to another agent's inbox. The message ID and
// timestamps are filled in here.
func (mb *Mailbox) Send(to string, kind Kind, correlationID string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := time.Now()
	msg := &Message{
		ID:            uuid.New().String(),
		From:          mb.agent,
		To:            to,
		Kind:          kind,
		CorrelationID: correlationID,
		Payload:       raw,
		CreatedAt:     now,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if err := writeAtomic(mb.inboxDir(to), messageName(now), data); err != nil {
		return nil, err
	}
	return msg, nil
}

// Receive consumes the oldest message in the inbox, removing its file.
// Returns nil, nil when the inbox is empty.
func (mb *Mailbox) Receive() (*Message, error) {
	names, err := mb.pendingNames()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		path := filepath.Join(mb.InboxDir(), name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				// Consumed by a concurrent reader.
				continue
			}
			return nil, fmt.Errorf("read message: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// A malformed file would block the inbox head forever;
			// quarantine it and move on.
			os.Rename(path, path+".corrupt")
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("consume message: %w", err)
		}
		return &msg, nil
	}
	return nil, nil
}

// ReceiveWait consumes the oldest message, waiting until one arrives or
// the context ends. It prefers filesystem notification and falls back to
// polling at pollInterval.
func (mb *Mailbox) ReceiveWait(ctx context.Context, pollInterval time.Duration) (*Message, error) {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}

	w, err := newDirWatcher(mb.InboxDir())
	if err == nil {
		defer w.Close()
	}

	for {
		msg, err := mb.Receive()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		var notify <-chan struct{}
		if w != nil {
			notify = w.Events()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		case <-time.After(pollInterval):
		}
	}
}

// Request sends a request and waits for the correlated response in the
// sender's own inbox. Unrelated messages observed while waiting are left
// in place for later consumption. Returns ErrNoResponse when the timeout
// elapses first.
func (mb *Mailbox) Request(ctx context.Context, to string, payload any, timeout time.Duration) (*Message, error) {
	correlationID := uuid.New().String()
	if _, err := mb.Send(to, KindRequest, correlationID, payload); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := mb.awaitMatch(waitCtx, func(m *Message) bool {
		return m.Kind == KindResponse && m.CorrelationID == correlationID
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: request %s to %s", ErrNoResponse, correlationID, to)
		}
		return nil, err
	}
	return msg, nil
}

// Respond answers a request, preserving its correlation ID.
func (mb *Mailbox) Respond(req *Message, payload any) (*Message, error) {
	if req.CorrelationID == "" {
		return nil, errors.New("request has no correlation ID")
	}
	return mb.Send(req.From, KindResponse, req.CorrelationID, payload)
}

// awaitMatch consumes the first message satisfying match, leaving other
// messages untouched.
func (mb *Mailbox) awaitMatch(ctx context.Context, match func(*Message) bool) (*Message, error) {
	w, err := newDirWatcher(mb.InboxDir())
	if err == nil {
		defer w.Close()
	}

	for {
		msg, err := mb.peekMatch(match)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		var notify <-chan struct{}
		if w != nil {
			notify = w.Events()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// peekMatch scans the inbox in order and consumes only the first message
// that satisfies match.
func (mb *Mailbox) peekMatch(match func(*Message) bool) (*Message, error) {
	names, err := mb.pendingNames()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		path := filepath.Join(mb.InboxDir(), name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read message: %w", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			os.Rename(path, path+".corrupt")
			continue
		}
		if !match(&msg) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("consume message: %w", err)
		}
		return &msg, nil
	}
	return nil, nil
}

// Pending returns the number of messages waiting in the inbox.
func (mb *Mailbox) Pending() (int, error) {
	names, err := mb.pendingNames()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// PendingFor returns the number of messages waiting in another agent's
// inbox. Used by status surfaces; the messages are not consumed.
func (mb *Mailbox) PendingFor(agent string) (int, error) {
	names, err := pendingNamesIn(mb.inboxDir(agent))
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// pendingNames lists inbox message files oldest first. The name format
// makes lexical order send order.
func (mb *Mailbox) pendingNames() ([]string, error) {
	return pendingNamesIn(mb.InboxDir())
}

func pendingNamesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list inbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
