package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// heartbeatFile is the liveness stamp an agent maintains next to its inbox.
const heartbeatFile = "heartbeat.json"

type heartbeat struct {
	Agent string    `json:"agent"`
	PID   int       `json:"pid"`
	At    time.Time `json:"at"`
}

// Beat writes the owner's liveness stamp.
func (mb *Mailbox) Beat() error {
	hb := heartbeat{Agent: mb.agent, PID: os.Getpid(), At: time.Now()}
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	return writeAtomic(filepath.Join(mb.root, mb.agent), heartbeatFile, data)
}

// StartHeartbeat beats at the given interval until the context ends. The
// first beat happens immediately.
func (mb *Mailbox) StartHeartbeat(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if err := mb.Beat(); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mb.Beat()
			}
		}
	}()
	return nil
}

// LastBeat returns another agent's most recent heartbeat time. A zero
// time means the agent has never beaten.
func (mb *Mailbox) LastBeat(agent string) (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(mb.root, agent, heartbeatFile))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read heartbeat: %w", err)
	}
	var hb heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return time.Time{}, fmt.Errorf("decode heartbeat: %w", err)
	}
	return hb.At, nil
}

// Alive reports whether an agent has beaten within interval*deadMultiple.
// An agent that never beat is not alive.
func (mb *Mailbox) Alive(agent string, interval time.Duration, deadMultiple int) (bool, error) {
	if deadMultiple <= 0 {
		deadMultiple = 3
	}
	last, err := mb.LastBeat(agent)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return false, nil
	}
	return time.Since(last) <= interval*time.Duration(deadMultiple), nil
}

// Agents lists every agent directory under the mailbox root.
func (mb *Mailbox) Agents() ([]string, error) {
	entries, err := os.ReadDir(mb.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list agents: %w", err)
	}
	var agents []string
	for _, e := range entries {
		if e.IsDir() {
			agents = append(agents, e.Name())
		}
	}
	return agents, nil
}
