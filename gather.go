package fio

import "runtime"

// GatherEntry is one collected outcome. Reading it replays the
// member's success or failure independently: one failing input never
// aborts collection of the others.
type GatherEntry struct {
	value any
	err   error
}

// Unpack replays the collected outcome.
func (e GatherEntry) Unpack() (any, error) {
	return e.value, e.err
}

// ResultGatheringFuture collects (value, error) pairs from its inputs
// in completion order and resolves once count entries are collected.
// Its result value is the []GatherEntry accumulator.
type ResultGatheringFuture struct {
	Future

	entries []GatherEntry
	count   int
	tracked map[*Future]struct{}
}

// NewResultGatheringFuture creates a gatherer that resolves after
// count completions among futures, immediately if count is zero.
func NewResultGatheringFuture(loop *Loop, count int, futures ...Awaitable) *ResultGatheringFuture {
	g := &ResultGatheringFuture{
		count:   count,
		tracked: make(map[*Future]struct{}, len(futures)),
	}
	g.Future.init(loop)
	g.Future.owner = g
	g.Future.cancelHook = g.cascadeCancel
	runtime.SetFinalizer(g, func(g *ResultGatheringFuture) { finalizeFuture(&g.Future) })

	if count <= 0 {
		g.finishCompleted(g.entries)
		return g
	}

	for _, a := range futures {
		f := a.future()
		if f.IsDone() {
			g.collect(f)
			continue
		}
		g.tracked[f] = struct{}{}
		f.addCallback(callback{fn: g.collect, key: funcKey(g.collect), owner: g})
	}
	return g
}

// Gather collects the outcome of every input.
func Gather(loop *Loop, futures ...Awaitable) *ResultGatheringFuture {
	return NewResultGatheringFuture(loop, len(futures), futures...)
}

// Gatherer wraps each flow as a driven Task and gathers all of them.
func Gatherer(loop *Loop, flows ...FlowFunc) *ResultGatheringFuture {
	futures := make([]Awaitable, len(flows))
	for i, fn := range flows {
		futures[i] = NewTask(loop, fn)
	}
	return Gather(loop, futures...)
}

// Entries returns the accumulator as collected so far.
func (g *ResultGatheringFuture) Entries() []GatherEntry {
	return g.entries
}

func (g *ResultGatheringFuture) collect(f *Future) {
	if g.state.isDone() {
		return
	}
	delete(g.tracked, f)
	v, err := f.Result()
	g.entries = append(g.entries, GatherEntry{value: v, err: err})
	if len(g.entries) >= g.count {
		g.finishCompleted(g.entries)
	}
}

func (g *ResultGatheringFuture) cascadeCancel(cause error) bool {
	for f := range g.tracked {
		f.CancelWith(cause)
	}
	g.finishCancelled(cause)
	return true
}
