package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/orbit-simulator/model"
)

var (
	// ErrBodyExists is returned when adding a body whose ID is taken.
	ErrBodyExists = errors.New("body already exists")
	// ErrBodyNotFound is returned for unknown body IDs.
	ErrBodyNotFound = errors.New("body not found")
	// ErrParentNotFound is returned when a body names a parent that is not
	// registered.
	ErrParentNotFound = errors.New("parent body not found")
	// ErrBodyInUse is returned when removing a body that still has children.
	ErrBodyInUse = errors.New("body has orbiting children")
	// ErrCycle is returned when parent links form a loop.
	ErrCycle = errors.New("parent links form a cycle")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventBodyAdded EventType = iota
	EventBodyRemoved
	EventBodyUpdated
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Body model.BodyDefinition
}

// KnowledgeBase is an in-memory, thread-safe store of bodies and their
// parent links.
type KnowledgeBase struct {
	mu sync.RWMutex

	bodies map[string]*model.BodyDefinition

	// order caches the topological update order; nil means stale.
	order []string

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		bodies: make(map[string]*model.BodyDefinition),
		subs:   make(map[int]func(Event)),
	}
}

// AddBody registers a body. Parents may be added after their children;
// UpdateOrder reports any parent that is still missing.
func (kb *KnowledgeBase) AddBody(b *model.BodyDefinition) error {
	if b == nil || b.ID == "" {
		return fmt.Errorf("body with empty ID")
	}
	kb.mu.Lock()
	if _, exists := kb.bodies[b.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBodyExists, b.ID)
	}
	// store pointer so that motion models can update in-place
	kb.bodies[b.ID] = b
	kb.order = nil
	event := Event{Type: EventBodyAdded, Body: *b}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// RemoveBody deletes a body. It fails while other bodies orbit it.
func (kb *KnowledgeBase) RemoveBody(id string) error {
	kb.mu.Lock()
	b, ok := kb.bodies[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBodyNotFound, id)
	}
	for _, other := range kb.bodies {
		if other.ParentID == id {
			kb.mu.Unlock()
			return fmt.Errorf("%w: %q is the parent of %q", ErrBodyInUse, id, other.ID)
		}
	}
	delete(kb.bodies, id)
	kb.order = nil
	event := Event{Type: EventBodyRemoved, Body: *b}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// GetBody returns a copy of the body with the given ID.
func (kb *KnowledgeBase) GetBody(id string) (model.BodyDefinition, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	b, ok := kb.bodies[id]
	if !ok {
		return model.BodyDefinition{}, fmt.Errorf("%w: %q", ErrBodyNotFound, id)
	}
	return *b, nil
}

// ListBodies returns copies of all bodies sorted by ID.
func (kb *KnowledgeBase) ListBodies() []model.BodyDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.BodyDefinition, 0, len(kb.bodies))
	for _, b := range kb.bodies {
		res = append(res, *b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Children returns the IDs of bodies whose parent is id, sorted.
func (kb *KnowledgeBase) Children(id string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var res []string
	for _, b := range kb.bodies {
		if b.ParentID == id {
			res = append(res, b.ID)
		}
	}
	sort.Strings(res)
	return res
}

// Len returns the number of registered bodies.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.bodies)
}

// UpdateBodyPosition sets a body's coordinates and notifies subscribers.
func (kb *KnowledgeBase) UpdateBodyPosition(id string, pos model.Vec3) error {
	kb.mu.Lock()
	b, ok := kb.bodies[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBodyNotFound, id)
	}
	b.Coordinates = pos
	event := Event{
		Type: EventBodyUpdated,
		Body: *b, // copy for safety
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, event)
	return nil
}

// UpdateElements replaces a body's configured elements.
func (kb *KnowledgeBase) UpdateElements(id string, el model.ElementsConfig) error {
	kb.mu.Lock()
	b, ok := kb.bodies[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBodyNotFound, id)
	}
	b.Elements = el
	event := Event{Type: EventBodyUpdated, Body: *b}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// UpdateOrder returns body IDs ordered so that every parent precedes its
// children. Roots come first; ties are broken by ID so the order is stable.
// The result is cached until a body is added or removed.
func (kb *KnowledgeBase) UpdateOrder() ([]string, error) {
	kb.mu.RLock()
	if kb.order != nil {
		order := append([]string(nil), kb.order...)
		kb.mu.RUnlock()
		return order, nil
	}
	kb.mu.RUnlock()

	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.order != nil {
		return append([]string(nil), kb.order...), nil
	}

	children := make(map[string][]string, len(kb.bodies))
	var queue []string
	for id, b := range kb.bodies {
		if b.IsRoot() {
			queue = append(queue, id)
			continue
		}
		if _, ok := kb.bodies[b.ParentID]; !ok {
			return nil, fmt.Errorf("%w: %q (parent of %q)", ErrParentNotFound, b.ParentID, id)
		}
		children[b.ParentID] = append(children[b.ParentID], id)
	}
	sort.Strings(queue)
	for _, c := range children {
		sort.Strings(c)
	}

	order := make([]string, 0, len(kb.bodies))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		queue = append(queue, children[id]...)
	}
	if len(order) != len(kb.bodies) {
		placed := make(map[string]bool, len(order))
		for _, id := range order {
			placed[id] = true
		}
		var stuck []string
		for id := range kb.bodies {
			if !placed[id] {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %v", ErrCycle, stuck)
	}

	kb.order = order
	return append([]string(nil), order...), nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}
