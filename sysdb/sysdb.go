// Package sysdb resolves collection and segment metadata from the catalog.
package sysdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Ishiihara/chroma/core"
)

var ErrAlreadyExists = errors.New("sysdb: already exists")

// CollectionFilter selects collections. Empty fields match anything.
type CollectionFilter struct {
	ID    string
	Name  string
	Topic string
}

func (f CollectionFilter) match(c core.Collection) bool {
	return (f.ID == "" || f.ID == c.ID) &&
		(f.Name == "" || f.Name == c.Name) &&
		(f.Topic == "" || f.Topic == c.Topic)
}

// SegmentFilter selects segments. Empty fields match anything.
type SegmentFilter struct {
	ID           string
	Type         string
	Scope        core.SegmentScope
	Topic        string
	CollectionID string
}

func (f SegmentFilter) match(s core.Segment) bool {
	return (f.ID == "" || f.ID == s.ID) &&
		(f.Type == "" || f.Type == s.Type) &&
		(f.Scope == "" || f.Scope == s.Scope) &&
		(f.Topic == "" || f.Topic == s.Topic) &&
		(f.CollectionID == "" || f.CollectionID == s.CollectionID)
}

// SysDB is the catalog client.
type SysDB interface {
	GetCollections(ctx context.Context, filter CollectionFilter) ([]core.Collection, error)
	GetSegments(ctx context.Context, filter SegmentFilter) ([]core.Segment, error)
}

// Memory is an in-process catalog.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]core.Collection
	segments    map[string]core.Segment
}

var _ SysDB = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]core.Collection),
		segments:    make(map[string]core.Segment),
	}
}

func (m *Memory) CreateCollection(ctx context.Context, c core.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ID == "" {
		return &core.ValidationError{Field: "id", Message: "collection id must not be empty"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[c.ID]; ok {
		return fmt.Errorf("%w: collection %s", ErrAlreadyExists, c.ID)
	}
	m.collections[c.ID] = c
	return nil
}

// CreateSegment registers s. Its collection must exist.
func (m *Memory) CreateSegment(ctx context.Context, s core.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ID == "" {
		return &core.ValidationError{Field: "id", Message: "segment id must not be empty"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[s.CollectionID]; !ok {
		return fmt.Errorf("%w: %s", core.ErrCollectionNotFound, s.CollectionID)
	}
	if _, ok := m.segments[s.ID]; ok {
		return fmt.Errorf("%w: segment %s", ErrAlreadyExists, s.ID)
	}
	m.segments[s.ID] = s
	return nil
}

// DeleteCollection removes a collection and its segments.
func (m *Memory) DeleteCollection(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return fmt.Errorf("%w: %s", core.ErrCollectionNotFound, id)
	}
	delete(m.collections, id)
	for sid, s := range m.segments {
		if s.CollectionID == id {
			delete(m.segments, sid)
		}
	}
	return nil
}

func (m *Memory) GetCollections(ctx context.Context, filter CollectionFilter) ([]core.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Collection
	for _, c := range m.collections {
		if filter.match(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetSegments(ctx context.Context, filter SegmentFilter) ([]core.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Segment
	for _, s := range m.segments {
		if filter.match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
