package delegate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Transcript persists delegate output append-only, one file per delegate.
// Secrets are masked before anything reaches disk.
type Transcript struct {
	dir string
	mu  sync.Mutex
}

// NewTranscript creates a transcript writer rooted at dir.
// An empty dir produces a no-op transcript.
func NewTranscript(dir string) (*Transcript, error) {
	if dir == "" {
		return &Transcript{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	return &Transcript{dir: dir}, nil
}

// Append writes one invocation record to the delegate's transcript file.
// The file is opened O_APPEND so concurrent workers interleave whole
// records rather than corrupting each other.
func (t *Transcript) Append(delegate, traceID, prompt, output string) error {
	if t == nil || t.dir == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	path := filepath.Join(t.dir, delegate+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	stamp := time.Now().UTC().Format(time.RFC3339)
	_, err = fmt.Fprintf(f, "--- %s trace=%s ---\nPROMPT:\n%s\nOUTPUT:\n%s\n\n",
		stamp, traceID, MaskSecrets(prompt), MaskSecrets(output))
	if err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
