package eventbus

import (
	"sync"

	"github.com/NoLS-Tanzania/nols-app-sub010/pkg/datastructure"
)

// handlers keeps subscribers of one event type in registration order.
type handlers[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	ids    []uint64
	fns    []func(T)
}

func (h *handlers[T]) add(fn func(T)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.ids = append(h.ids, id)
	h.fns = append(h.fns, fn)

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *handlers[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, got := range h.ids {
		if got == id {
			h.ids = append(h.ids[:i:i], h.ids[i+1:]...)
			h.fns = append(h.fns[:i:i], h.fns[i+1:]...)
			return
		}
	}
}

func (h *handlers[T]) snapshot() []func(T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fns
}

func (h *handlers[T]) emit(v T) {
	// handlers may unsubscribe while we iterate; remove never mutates the slice we hold
	for _, fn := range h.snapshot() {
		fn(v)
	}
}

/*
Bus. typed event emitter between the tracking pipeline and its consumers (renderer, geofence
watchers, websocket sessions). Emit calls every handler synchronously in registration order.
Values are passed by value; slices inside RouteOptions are copied before delivery.
*/
type Bus struct {
	smoothed   handlers[datastructure.SmoothedPosition]
	snap       handlers[*datastructure.SnapResult]
	options    handlers[datastructure.RouteOptions]
	navigation handlers[datastructure.NavigationState]
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) OnSmoothedPosition(fn func(datastructure.SmoothedPosition)) (unsubscribe func()) {
	return b.smoothed.add(fn)
}

// OnSnap handlers receive nil when the driver is farther than the snap tolerance from every route.
func (b *Bus) OnSnap(fn func(*datastructure.SnapResult)) (unsubscribe func()) {
	return b.snap.add(fn)
}

func (b *Bus) OnRouteOptions(fn func(datastructure.RouteOptions)) (unsubscribe func()) {
	return b.options.add(fn)
}

func (b *Bus) OnNavigationState(fn func(datastructure.NavigationState)) (unsubscribe func()) {
	return b.navigation.add(fn)
}

func (b *Bus) EmitSmoothedPosition(pos datastructure.SmoothedPosition) {
	b.smoothed.emit(pos)
}

func (b *Bus) EmitSnap(snap *datastructure.SnapResult) {
	for _, fn := range b.snap.snapshot() {
		if snap == nil {
			fn(nil)
			continue
		}
		cp := *snap
		fn(&cp)
	}
}

func (b *Bus) EmitRouteOptions(opts datastructure.RouteOptions) {
	for _, fn := range b.options.snapshot() {
		cp := opts
		cp.Candidates = append([]datastructure.RouteOption(nil), opts.Candidates...)
		fn(cp)
	}
}

func (b *Bus) EmitNavigationState(state datastructure.NavigationState) {
	for _, fn := range b.navigation.snapshot() {
		cp := state
		if state.Instruction != nil {
			text := *state.Instruction
			cp.Instruction = &text
		}
		fn(cp)
	}
}
