package pipeline

import (
	"errors"
	"fmt"
	"sort"
)

// View is the read-only side of an execution context handed to stages.
type View interface {
	// Read returns the value stored under key or ErrKeyNotFound.
	Read(key string) (any, error)

	// Has reports whether key is visible.
	Has(key string) bool

	// Keys returns visible keys, outermost scope first, in write order.
	Keys() []string
}

// Entry is one key/value pair in write order.
type Entry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ExecutionContext is a write-once key/value store owned by a single run.
// It is not safe for concurrent use; a run only ever has one active stage.
type ExecutionContext struct {
	entries []Entry
	index   map[string]int
}

// NewExecutionContext creates an empty context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{index: make(map[string]int)}
}

// NewSeededContext creates a context holding seed, written in sorted key
// order so transcripts are deterministic.
func NewSeededContext(seed map[string]any) (*ExecutionContext, error) {
	ec := NewExecutionContext()
	keys := make([]string, 0, len(seed))
	for k := range seed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := ec.Write(k, seed[k]); err != nil {
			return nil, err
		}
	}
	return ec, nil
}

// Write stores value under key. Keys are immutable once written.
func (c *ExecutionContext) Write(key string, value any) error {
	if key == "" {
		return errors.New("context key cannot be empty")
	}
	if _, ok := c.index[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, Entry{Key: key, Value: value})
	return nil
}

// Read returns the value stored under key.
func (c *ExecutionContext) Read(key string) (any, error) {
	if i, ok := c.index[key]; ok {
		return c.entries[i].Value, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
}

// Has reports whether key has been written.
func (c *ExecutionContext) Has(key string) bool {
	_, ok := c.index[key]
	return ok
}

// Keys returns keys in write order.
func (c *ExecutionContext) Keys() []string {
	keys := make([]string, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.Key
	}
	return keys
}

// Len returns the number of keys written.
func (c *ExecutionContext) Len() int {
	return len(c.entries)
}

// Transcript returns a copy of all entries in write order.
func (c *ExecutionContext) Transcript() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Snapshot returns an immutable copy that does not observe later writes.
// Values are shared, not deep-copied; stages must treat them as read-only.
func (c *ExecutionContext) Snapshot() *Snapshot {
	s := newSnapshot(len(c.entries))
	for _, e := range c.entries {
		s.put(e.Key, e.Value)
	}
	return s
}

func (c *ExecutionContext) write(key string, value any) error { return c.Write(key, value) }
func (c *ExecutionContext) snapshot() *Snapshot                { return c.Snapshot() }
func (c *ExecutionContext) fixed(key string) bool              { return c.Has(key) }

// Snapshot is a frozen View.
type Snapshot struct {
	keys   []string
	values map[string]any
}

func newSnapshot(size int) *Snapshot {
	return &Snapshot{
		keys:   make([]string, 0, size),
		values: make(map[string]any, size),
	}
}

// put records key, letting later layers shadow earlier ones while keeping
// the first-seen position.
func (s *Snapshot) put(key string, value any) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Read returns the value stored under key.
func (s *Snapshot) Read(key string) (any, error) {
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
}

// Has reports whether key is present.
func (s *Snapshot) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns keys in first-write order.
func (s *Snapshot) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// ReadAs reads key and asserts its type. Values are never converted.
func ReadAs[T any](v View, key string) (T, error) {
	var zero T
	raw, err := v.Read(key)
	if err != nil {
		return zero, err
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: key %q holds %T, want %T", ErrTypeMismatch, key, raw, zero)
	}
	return typed, nil
}

// scope is where a node runs: readable, writable once per key, and able to
// freeze itself for a stage.
type scope interface {
	View
	write(key string, value any) error
	snapshot() *Snapshot
	// fixed reports whether key can never be written again in this scope.
	// Carried loop values are visible but not fixed.
	fixed(key string) bool
}

// carryover holds the latest value of each key written by earlier
// iterations of a loop. Unlike an ExecutionContext it may be overwritten.
type carryover struct {
	keys   []string
	values map[string]any
}

func newCarryover() *carryover {
	return &carryover{values: make(map[string]any)}
}

func (c *carryover) merge(ec *ExecutionContext) {
	for _, e := range ec.entries {
		if _, ok := c.values[e.Key]; !ok {
			c.keys = append(c.keys, e.Key)
		}
		c.values[e.Key] = e.Value
	}
}

func (c *carryover) entries() []Entry {
	out := make([]Entry, len(c.keys))
	for i, k := range c.keys {
		out[i] = Entry{Key: k, Value: c.values[k]}
	}
	return out
}

// iterationScope layers one loop iteration over the enclosing scope.
// Reads resolve current iteration, then carried values, then outer keys.
// Writes land in the iteration and may shadow carried keys, including those
// an enclosing loop carries, but never fixed outer ones.
type iterationScope struct {
	outer   scope
	carried *carryover
	local   *ExecutionContext
}

func newIterationScope(outer scope, carried *carryover) *iterationScope {
	return &iterationScope{outer: outer, carried: carried, local: NewExecutionContext()}
}

func (s *iterationScope) Read(key string) (any, error) {
	if v, err := s.local.Read(key); err == nil {
		return v, nil
	}
	if v, ok := s.carried.values[key]; ok {
		return v, nil
	}
	return s.outer.Read(key)
}

func (s *iterationScope) Has(key string) bool {
	if s.local.Has(key) {
		return true
	}
	if _, ok := s.carried.values[key]; ok {
		return true
	}
	return s.outer.Has(key)
}

func (s *iterationScope) Keys() []string {
	return s.snapshot().Keys()
}

func (s *iterationScope) fixed(key string) bool {
	return s.local.Has(key) || s.outer.fixed(key)
}

func (s *iterationScope) write(key string, value any) error {
	if s.outer.fixed(key) {
		return fmt.Errorf("%w: %q is owned by an enclosing scope", ErrDuplicateKey, key)
	}
	return s.local.Write(key, value)
}

func (s *iterationScope) snapshot() *Snapshot {
	outer := s.outer.snapshot()
	snap := newSnapshot(len(outer.keys) + len(s.carried.keys) + s.local.Len())
	for _, k := range outer.keys {
		snap.put(k, outer.values[k])
	}
	for _, k := range s.carried.keys {
		snap.put(k, s.carried.values[k])
	}
	for _, e := range s.local.entries {
		snap.put(e.Key, e.Value)
	}
	return snap
}
