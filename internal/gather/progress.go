package gather

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// progressTracker makes a gathering pass resumable. It remembers the target
// end date of the current pass (.target), the symbols already fetched for it
// (.fetched) and the last target that finished (.last-completed).
type progressTracker struct {
	mu      sync.Mutex
	dir     string
	fetched map[string]struct{}
	file    *os.File
	writer  *bufio.Writer
}

// newProgressTracker opens the tracker in dir for the given target. Progress
// recorded for a different target is discarded.
func newProgressTracker(dir, target string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}
	pt := &progressTracker{
		dir:     dir,
		fetched: make(map[string]struct{}),
	}

	fetchedPath := filepath.Join(dir, ".fetched")
	if pt.read(".target") == target {
		if data, err := os.ReadFile(fetchedPath); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if sym := strings.TrimSpace(line); sym != "" {
					pt.fetched[sym] = struct{}{}
				}
			}
		}
	} else {
		os.Remove(fetchedPath)
		if err := os.WriteFile(filepath.Join(dir, ".target"), []byte(target), 0o644); err != nil {
			return nil, fmt.Errorf("writing .target: %w", err)
		}
	}

	f, err := os.OpenFile(fetchedPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening .fetched: %w", err)
	}
	pt.file = f
	pt.writer = bufio.NewWriter(f)
	return pt, nil
}

// IsFetched reports whether symbol was already fetched for the target.
func (p *progressTracker) IsFetched(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.fetched[symbol]
	return ok
}

// MarkFetched records a batch of symbols as done.
func (p *progressTracker) MarkFetched(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sym := range symbols {
		if _, ok := p.fetched[sym]; ok {
			continue
		}
		p.fetched[sym] = struct{}{}
		if _, err := p.writer.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing to .fetched: %w", err)
		}
	}
	return p.writer.Flush()
}

// MarkCompleted writes target to .last-completed.
func (p *progressTracker) MarkCompleted(target string) error {
	return os.WriteFile(filepath.Join(p.dir, ".last-completed"), []byte(target), 0o644)
}

// IsCompleted returns true if .last-completed matches target.
func (p *progressTracker) IsCompleted(target string) bool {
	return p.read(".last-completed") == target
}

func (p *progressTracker) read(name string) string {
	data, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Close flushes and closes the .fetched file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
