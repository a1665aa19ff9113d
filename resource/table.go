package resource

import (
	"sort"
	"sync"

	"github.com/wippyai/op-runtime/errors"
)

// RID is an opaque reference to a resource in a table.
// RID 0 is reserved and always invalid.
type RID uint32

// Resource is anything a table can hold. The name appears in
// introspection listings and diagnostics.
type Resource interface {
	Name() string
}

// Closer is optionally implemented by resources that need teardown when
// they leave the table.
type Closer interface {
	Close() error
}

// Table maps resource ids to live resources. Ids are handed out
// sequentially starting at 1 and never reused for the table's lifetime,
// so a stale id can only miss, never alias a newer resource.
type Table struct {
	mu      sync.Mutex
	lastRID RID
	entries map[RID]Resource
}

// NewTable returns an empty resource table.
func NewTable() *Table {
	return &Table{entries: make(map[RID]Resource)}
}

// Add stores a resource and returns its id.
func (t *Table) Add(res Resource) RID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRID++
	t.entries[t.lastRID] = res
	return t.lastRID
}

// Get retrieves a resource by id.
func (t *Table) Get(rid RID) (Resource, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	res, ok := t.entries[rid]
	return res, ok
}

// Close removes a resource and runs its teardown if it has one. An
// unknown id yields a bad_resource operation error, the shape callers
// forward to the guest unchanged.
func (t *Table) Close(rid RID) error {
	t.mu.Lock()
	res, ok := t.entries[rid]
	if ok {
		delete(t.entries, rid)
	}
	t.mu.Unlock()
	if !ok {
		return errors.NewOpError(errors.OpKindBadResource, "no resource with id")
	}
	if c, ok := res.(Closer); ok {
		return c.Close()
	}
	return nil
}

// CloseAll removes every resource, running teardowns in ascending id
// order. The first teardown error is returned; the rest still run.
func (t *Table) CloseAll() error {
	t.mu.Lock()
	rids := make([]RID, 0, len(t.entries))
	for rid := range t.entries {
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	closers := make([]Resource, 0, len(rids))
	for _, rid := range rids {
		closers = append(closers, t.entries[rid])
		delete(t.entries, rid)
	}
	t.mu.Unlock()

	var first error
	for _, res := range closers {
		if c, ok := res.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Each visits live resources in ascending id order until fn returns
// false. The table lock is not held during visits.
func (t *Table) Each(fn func(RID, Resource) bool) {
	t.mu.Lock()
	rids := make([]RID, 0, len(t.entries))
	for rid := range t.entries {
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	snapshot := make([]Resource, len(rids))
	for i, rid := range rids {
		snapshot[i] = t.entries[rid]
	}
	t.mu.Unlock()

	for i, rid := range rids {
		if !fn(rid, snapshot[i]) {
			return
		}
	}
}

// List reports the ids and names of live resources, the payload behind
// resource-listing introspection.
func (t *Table) List() map[RID]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[RID]string, len(t.entries))
	for rid, res := range t.entries {
		out[rid] = res.Name()
	}
	return out
}
