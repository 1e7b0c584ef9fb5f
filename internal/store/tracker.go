package store

// Tracker records which entities a unit of work must write on Save.
// Entities are tracked by pointer identity, in the order they were first seen.
type Tracker struct {
	order   []any
	entries map[any]*trackedEntity
}

type trackedEntity struct {
	isNew bool
	dirty bool
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[any]*trackedEntity)}
}

// Track registers an entity returned by a find-or-create. New entities are
// always written; existing ones only once marked.
func (t *Tracker) Track(entity any, isNew bool) {
	if _, ok := t.entries[entity]; ok {
		return
	}
	t.entries[entity] = &trackedEntity{isNew: isNew}
	t.order = append(t.order, entity)
}

// MarkModified flags a tracked entity for writing. It reports false when the
// entity was never loaded through this tracker.
func (t *Tracker) MarkModified(entity any) bool {
	e, ok := t.entries[entity]
	if !ok {
		return false
	}
	e.dirty = true
	return true
}

// Pending returns the entities to write, in tracking order.
func (t *Tracker) Pending() []any {
	pending := make([]any, 0, len(t.order))
	for _, entity := range t.order {
		if e := t.entries[entity]; e.isNew || e.dirty {
			pending = append(pending, entity)
		}
	}
	return pending
}

// Reset forgets everything
func (t *Tracker) Reset() {
	t.order = nil
	t.entries = make(map[any]*trackedEntity)
}
