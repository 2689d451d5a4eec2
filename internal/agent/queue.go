package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const claimedDir = ".claimed"

var queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// RunSpec describes what to launch for a queue item.
type RunSpec struct {
	Image     string    `json:"image,omitempty"`
	Command   []string  `json:"command"`
	Project   string    `json:"project,omitempty"`
	Entity    string    `json:"entity,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	Overrides Overrides `json:"overrides,omitempty"`
}

type Overrides struct {
	Args []string `json:"args,omitempty"`
}

// Item is one entry in a run queue.
type Item struct {
	ID       string  `json:"id"`
	Queue    string  `json:"queue"`
	RunSpec  RunSpec `json:"run_spec"`
	QueuedAt string  `json:"queued_at"`
}

// Queue hands out queued items. Pop returns nil when the queue is empty.
type Queue interface {
	Pop(ctx context.Context, queue string) (*Item, error)
}

// DirQueue keeps each queue as a directory of JSON files under
// <Dir>/queues/<queue>. Items are claimed by renaming them, so several agents
// can share one directory.
type DirQueue struct {
	Dir string
	now func() time.Time
}

func NewDirQueue(dir string) *DirQueue {
	return &DirQueue{Dir: dir, now: time.Now}
}

func (q *DirQueue) queueDir(queue string) (string, error) {
	if !queueNamePattern.MatchString(queue) {
		return "", fmt.Errorf("invalid queue name %q", queue)
	}
	return filepath.Join(q.Dir, "queues", queue), nil
}

// Push appends spec to queue and returns the stored item.
func (q *DirQueue) Push(queue string, spec RunSpec) (Item, error) {
	dir, err := q.queueDir(queue)
	if err != nil {
		return Item{}, err
	}
	if len(spec.Command) == 0 {
		return Item{}, fmt.Errorf("run spec needs a command")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Item{}, fmt.Errorf("create queue dir: %w", err)
	}
	now := q.now().UTC()
	item := Item{
		ID:       uuid.NewString(),
		Queue:    queue,
		RunSpec:  spec,
		QueuedAt: now.Format(time.RFC3339Nano),
	}
	raw, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return Item{}, fmt.Errorf("marshal queue item: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".push-*")
	if err != nil {
		return Item{}, fmt.Errorf("create queue item: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Item{}, fmt.Errorf("write queue item: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Item{}, fmt.Errorf("close queue item: %w", err)
	}
	name := fmt.Sprintf("%020d-%s.json", now.UnixNano(), item.ID)
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return Item{}, fmt.Errorf("publish queue item: %w", err)
	}
	return item, nil
}

// Pop claims the oldest item in queue.
func (q *DirQueue) Pop(_ context.Context, queue string) (*Item, error) {
	dir, err := q.queueDir(queue)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list queue %s: %w", queue, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, nil
	}

	claimed := filepath.Join(dir, claimedDir)
	if err := os.MkdirAll(claimed, 0o755); err != nil {
		return nil, fmt.Errorf("create claim dir: %w", err)
	}
	for _, name := range names {
		dst := filepath.Join(claimed, name)
		if err := os.Rename(filepath.Join(dir, name), dst); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// another agent claimed it first
				continue
			}
			return nil, fmt.Errorf("claim %s: %w", name, err)
		}
		raw, err := os.ReadFile(dst)
		if err != nil {
			return nil, fmt.Errorf("read claimed item: %w", err)
		}
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode claimed item %s: %w", name, err)
		}
		return &item, nil
	}
	return nil, nil
}

// Len reports how many unclaimed items are waiting in queue.
func (q *DirQueue) Len(queue string) (int, error) {
	dir, err := q.queueDir(queue)
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") && !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n, nil
}
