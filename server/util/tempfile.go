package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TempFiles assigns temporary filenames for uploaded videos, and deletes files that were left behind.
// Callers normally remove their own files. The periodic sweep only catches files that were
// orphaned by a crash or a panic during an analysis.
type TempFiles struct {
	Root string

	lock            sync.Mutex // guards access to all internal state
	lastCleanup     time.Time
	cleanupInterval time.Duration
	maxAge          time.Duration
	counter         int64
}

// Wipes/recreates the root directory
func NewTempFiles(root string) (*TempFiles, error) {
	if err := os.MkdirAll(root, 0777); err != nil {
		return nil, fmt.Errorf("Failed to create temporary file directory '%v': %w", root, err)
	}

	all, _ := filepath.Glob(filepath.Join(root, "*"))
	for _, fn := range all {
		os.Remove(fn)
	}
	return &TempFiles{
		Root:            root,
		lastCleanup:     time.Now(),
		cleanupInterval: 10 * time.Minute,
		maxAge:          time.Hour,
	}, nil
}

// Get a new temporary filename. The caller may append an extension.
func (t *TempFiles) Get() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	if time.Since(t.lastCleanup) > t.cleanupInterval {
		t.lastCleanup = time.Now()
		go t.cleanOld(time.Now())
	}
	t.counter++
	return filepath.Join(t.Root, fmt.Sprintf("%d-%d", time.Now().UnixNano(), t.counter))
}

// Parse the creation time out of a name produced by Get
func createdAt(fn string) (time.Time, bool) {
	base := filepath.Base(fn)
	stamp, _, _ := strings.Cut(base, "-")
	ns, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// this must not touch any shared mutable state, or take the lock
func (t *TempFiles) cleanOld(now time.Time) int {
	all, _ := filepath.Glob(filepath.Join(t.Root, "*"))
	removed := 0
	for _, fn := range all {
		created, ok := createdAt(fn)
		if ok && now.Sub(created) > t.maxAge {
			if os.Remove(fn) == nil {
				removed++
			}
		}
	}
	return removed
}
