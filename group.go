package fio

// Group runs flows as tasks, remembers the first error, and cancels
// the remaining members once one fails. Wait reports the first error
// after every member settles.
type Group struct {
	loop  *Loop
	tasks []*Task
	err   error
}

// Group creates a task group on the flow's loop.
func (fl *Flow) Group() *Group {
	return &Group{loop: fl.Loop()}
}

// Go starts fn as a new task in the group.
func (g *Group) Go(fn FlowFunc) {
	t := NewTask(g.loop, fn)
	g.tasks = append(g.tasks, t)
	t.AddDoneCallback(func(f *Future) {
		_, err := f.Result()
		if err == nil || g.err != nil {
			return
		}
		g.err = err
		for _, sibling := range g.tasks {
			if !sibling.IsDone() {
				sibling.Cancel()
			}
		}
	})
}

// Wait suspends the flow until every member settles and returns the
// first error, or the flow's own cancellation if it is cancelled
// while waiting (which cascades onto the members).
func (g *Group) Wait(fl *Flow) error {
	members := make([]Awaitable, len(g.tasks))
	for i, t := range g.tasks {
		members[i] = t
	}
	all := NewWaitTillAll(g.loop, members...)
	if _, err := fl.Await(all); err != nil {
		return err
	}
	return g.err
}

// singleCall is one in-flight deduplicated task and its share count.
type singleCall struct {
	task *Task
	dups int
}

// SingleFlight deduplicates concurrent flows by key: while a call for
// a key is in flight, every other Do with that key awaits the same
// task instead of starting its own.
type SingleFlight struct {
	calls map[any]*singleCall
}

// Do runs fn for key, sharing one task among concurrent callers.
// Returns the outcome and whether it was shared with another caller.
func (sf *SingleFlight) Do(fl *Flow, key any, fn FlowFunc) (any, error, bool) {
	if sf.calls == nil {
		sf.calls = make(map[any]*singleCall)
	}

	if c, ok := sf.calls[key]; ok {
		c.dups++
		v, err := fl.Await(c.task)
		return v, err, true
	}

	c := &singleCall{task: NewTask(fl.Loop(), fn)}
	sf.calls[key] = c
	c.task.AddDoneCallback(func(*Future) {
		if sf.calls[key] == c {
			delete(sf.calls, key)
		}
	})

	v, err := fl.Await(c.task)
	return v, err, c.dups > 0
}
