package us

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

const stateFile = "sync-state.yaml"

// syncState is the on-disk progress of a bar sync, so an interrupted run
// resumes without refetching symbols already known to be empty.
type syncState struct {
	LastCompleted string   `yaml:"last_completed"`
	Target        string   `yaml:"target"`
	Empty         []string `yaml:"empty,omitempty"`
}

// progressTracker guards syncState and persists every change.
type progressTracker struct {
	mu    sync.Mutex
	path  string
	state syncState
	empty map[string]struct{}
}

// newProgressTracker loads the state kept in dir, creating dir if needed.
func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sync dir: %w", err)
	}
	pt := &progressTracker{
		path:  filepath.Join(dir, stateFile),
		empty: make(map[string]struct{}),
	}

	data, err := os.ReadFile(pt.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", pt.path, err)
	default:
		if err := yaml.Unmarshal(data, &pt.state); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", pt.path, err)
		}
	}
	for _, sym := range pt.state.Empty {
		pt.empty[sym] = struct{}{}
	}
	return pt, nil
}

// Begin starts (or resumes) a sync towards target. Empty markers from a
// different target date are stale and dropped.
func (p *progressTracker) Begin(target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Target == target {
		return nil
	}
	p.state.Target = target
	p.empty = make(map[string]struct{})
	return p.saveLocked()
}

// IsEmpty reports whether symbol returned no data for the current target.
func (p *progressTracker) IsEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.empty[symbol]
	return ok
}

// MarkEmpty records symbols that returned no data.
func (p *progressTracker) MarkEmpty(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := false
	for _, sym := range symbols {
		if _, ok := p.empty[sym]; !ok {
			p.empty[sym] = struct{}{}
			added = true
		}
	}
	if !added {
		return nil
	}
	return p.saveLocked()
}

// MarkCompleted records that the sync reached date.
func (p *progressTracker) MarkCompleted(date string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.LastCompleted = date
	return p.saveLocked()
}

// IsCompleted reports whether the last finished sync reached date.
func (p *progressTracker) IsCompleted(date string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.LastCompleted == date
}

func (p *progressTracker) saveLocked() error {
	p.state.Empty = p.state.Empty[:0]
	for sym := range p.empty {
		p.state.Empty = append(p.state.Empty, sym)
	}
	sort.Strings(p.state.Empty)

	data, err := yaml.Marshal(&p.state)
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing sync state: %w", err)
	}
	return os.Rename(tmp, p.path)
}
