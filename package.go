// Package fio implements the concurrency core of a cooperative async
// runtime: one-shot Futures, Tasks that drive suspendable computations
// to completion, composite futures that watch sets of other futures,
// and wrapper types that expose a loop-bound Future safely to other
// threads and other loops.
//
// Key components:
//
//   - Future: A one-shot container for a result or error produced
//     later, with an insertion-ordered done-callback list. Callbacks
//     always run through the owning loop's run queue, never inline.
//
//   - Task: A Future driven by repeatedly resuming a suspendable
//     computation (a Flow). Tasks suspend by awaiting another Future
//     and are resumed by a done-callback once it resolves.
//
//   - Wait combinators and gathering: WaitTillFirst, WaitTillAll,
//     WaitContinuously, and ResultGatheringFuture track sets of input
//     futures and resolve on first/all/each completion.
//
//   - Wrappers: FutureWrapperSync and FutureWrapperAsync adapt a
//     loop-bound Future for use from plain OS threads or from tasks
//     running on another loop. Mutations are marshaled onto the
//     owning loop and followed by an explicit wake-up.
//
//   - Loop: A single-threaded cooperative scheduler with a run queue,
//     timers, a bounded executor pool, and thread-safe call
//     scheduling.
//
//   - Synchronization primitives: Mutex, WaitGroup, Group, and
//     SingleFlight expressed over Futures and Tasks.
//
// Cancellation is advisory: requesting it never interrupts a running
// step; it is injected at the next suspension point and cascades onto
// whatever Future the Task is currently suspended on. Timeouts are
// cancellations with a distinguishable cause type.
package fio
