// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package forge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// actionKind is the state of one tracked action in an Executor's bookkeeping.
type actionKind int

const (
	kindFresh actionKind = iota
	kindStarted
	kindUpToDate
	kindSucceeded
	kindFailed
	kindSkipped
)

func (k actionKind) terminal() bool {
	return k == kindUpToDate || k == kindSucceeded || k == kindFailed || k == kindSkipped
}

func (k actionKind) successful() bool {
	return k == kindUpToDate || k == kindSucceeded
}

type trackedAction struct {
	kind          actionKind
	pendingInputs int
}

// AlreadyRunning is returned by Executor.Want once Run has been called.
type AlreadyRunning struct{}

func (AlreadyRunning) Error() string { return "forge: want called after run started" }

// IoError wraps a filesystem error surfaced by statNode's CannotRead path,
// or an error returned by World.Execute itself (the action could not be
// run at all); either aborts the run (§4.6, §5).
type IoError struct {
	Path string
	Err  error
}

func (e *IoError) Error() string { return fmt.Sprintf("forge: cannot read %s: %v", e.Path, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// Status is a point-in-time snapshot of an Executor's progress (§4.6).
type Status struct {
	Total   int
	Started int
	Done    int
	Failed  int
}

// Executor runs a BuildGraph's actions in dependency order, bounded by a
// fixed worker pool, per the state machine in spec.md §4.6. Want, Run and
// Status all touch the controller's bookkeeping without locking, so they
// are called from a single controller goroutine (Status while Run is not
// in progress, or after it returns); only the workers Run spawns run
// concurrently.
type Executor struct {
	g        *BuildGraph
	world    World
	cache    Cache
	progress Progress
	metrics  *instrumentation
	userState any

	parallelism int

	tracked     map[ActionId]*trackedAction
	pendingList []ActionId // insertion-ordered ready set

	running      int
	finished     int
	failed       int
	buildStarted bool
	runCalled    bool
}

type completion struct {
	id    ActionId
	kind  actionKind
	ioErr *IoError
}

// NewExecutor returns an Executor over g. parallelism must be >= 1.
// progress may be NopProgress{}. metrics instrumentation is created
// internally from the global otel MeterProvider (a no-op one if the
// caller never configured a real one).
func NewExecutor(g *BuildGraph, world World, cache Cache, progress Progress, userState any, parallelism int) (*Executor, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	if progress == nil {
		progress = NopProgress{}
	}
	inst, err := newInstrumentation()
	if err != nil {
		return nil, err
	}
	return &Executor{
		g:           g,
		world:       world,
		cache:       cache,
		progress:    progress,
		metrics:     inst,
		userState:   userState,
		parallelism: parallelism,
		tracked:     make(map[ActionId]*trackedAction),
	}, nil
}

// Want adds ids and their transitive dependencies to the set of tracked
// actions, per the DFS construction in §4.6. Returns AlreadyRunning if
// called after Run.
func (e *Executor) Want(ids []ActionId) error {
	if e.runCalled {
		return AlreadyRunning{}
	}
	for _, id := range ids {
		e.wantOne(id)
	}
	return nil
}

func (e *Executor) wantOne(id ActionId) {
	if _, ok := e.tracked[id]; ok {
		return
	}
	deps := e.g.DependenciesOf(id)
	t := &trackedAction{kind: kindFresh, pendingInputs: len(deps)}
	e.tracked[id] = t
	for _, dep := range deps {
		e.wantOne(dep)
	}
	if t.pendingInputs == 0 {
		e.pendingList = append(e.pendingList, id)
	}
}

// Run executes the run loop to completion (§4.6) and returns the overall
// result: nil if every tracked action succeeded or was already up to
// date, an *IoError if a worker hit an unreadable path or World.Execute
// returned an error, or a generic
// error if one or more actions failed or were skipped.
func (e *Executor) Run(ctx context.Context) error {
	e.runCalled = true
	e.buildStarted = true
	e.progress.Started(len(e.tracked))

	completions := make(chan completion)
	dispatch := make(chan ActionId)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < e.parallelism; i++ {
		go e.worker(workerCtx, dispatch, completions)
	}
	defer close(dispatch)

	for {
		// Step 1: drain pending, dispatching every ready action.
		for len(e.pendingList) > 0 {
			id := e.pendingList[0]
			e.pendingList = e.pendingList[1:]
			t := e.tracked[id]
			t.kind = kindStarted
			e.running++
			e.metrics.recordStart(ctx)
			e.progress.ActionStarted(e.g, id)
			select {
			case dispatch <- id:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if e.finished == len(e.tracked) || e.failed > 0 && e.running == 0 {
			break
		}
		if e.running == 0 {
			panic("forge: executor stalled with no running work and none pending")
		}

		var c completion
		select {
		case c = <-completions:
		case <-ctx.Done():
			return ctx.Err()
		}

		if c.ioErr != nil {
			e.progress.Finished(c.ioErr)
			return c.ioErr
		}
		e.handleCompletion(ctx, c.id, c.kind)
	}

	var result error
	if e.failed > 0 {
		result = fmt.Errorf("forge: build failed: %d action(s) failed or were skipped", e.failed)
	}
	e.progress.Finished(result)
	return result
}

// handleCompletion applies one worker result to the bookkeeping,
// propagating readiness to dependents on success or Skipped to
// consumers on failure, exactly per §4.6's "Completion handling".
func (e *Executor) handleCompletion(ctx context.Context, id ActionId, kind actionKind) {
	t := e.tracked[id]
	if t.kind != kindStarted {
		panic(fmt.Sprintf("forge: completion for action %d in unexpected state %d", id, t.kind))
	}
	e.running--
	e.finished++
	t.kind = kind

	if kind.successful() {
		for _, d := range e.g.DependentsOf(id) {
			dt := e.tracked[d]
			if dt == nil {
				continue
			}
			if dt.kind.terminal() && dt.kind.successful() {
				panic(fmt.Sprintf("forge: dependent action %d already terminally successful before dependency %d finished", d, id))
			}
			if dt.kind.terminal() {
				continue // already failed/skipped
			}
			dt.pendingInputs--
			if dt.pendingInputs == 0 {
				e.pendingList = append(e.pendingList, d)
			}
		}
		return
	}

	e.failed++
	e.skipConsumers(id)
}

// skipConsumers marks every not-yet-terminal transitive consumer of id as
// Skipped, via DFS over incoming edges (DependentsOf).
func (e *Executor) skipConsumers(id ActionId) {
	var walk func(ActionId)
	walk = func(cur ActionId) {
		for _, d := range e.g.DependentsOf(cur) {
			dt := e.tracked[d]
			if dt == nil || dt.kind.terminal() {
				continue
			}
			dt.kind = kindSkipped
			e.finished++
			e.failed++
			e.metrics.recordSkip(context.Background())
			e.progress.ActionFinished(e.g, d, ExecFailed, "", fmt.Errorf("forge: skipped, dependency failed"))
			walk(d)
		}
	}
	walk(id)
}

// worker is the C9 per-action fiber: hash, stat, execute, commit or
// invalidate. One goroutine per pool slot, looping until dispatch closes.
func (e *Executor) worker(ctx context.Context, dispatch <-chan ActionId, completions chan<- completion) {
	for id := range dispatch {
		start := time.Now()
		kind, ioErr, outcome, output, execErr := e.runOne(ctx, id)
		e.metrics.recordFinish(ctx, outcome, time.Since(start))
		if ioErr == nil {
			e.progress.ActionFinished(e.g, id, outcome, output, execErr)
		}
		select {
		case completions <- completion{id: id, kind: kind, ioErr: ioErr}:
		case <-ctx.Done():
			return
		}
	}
}

// runOne implements the "Worker body" of §4.6 for a single action.
func (e *Executor) runOne(ctx context.Context, id ActionId) (actionKind, *IoError, ExecOutcome, string, error) {
	actionHash := hashAction(e.g, id)
	inputHash := hashInputSet(e.g, id)

	stat := statNode(ctx, e.cache, e.world, e.g, id, actionHash, inputHash)
	switch stat.Kind {
	case FreshUpToDate:
		return kindUpToDate, nil, ExecSucceeded, "", nil
	case FreshCannotRead:
		return kindFailed, &IoError{Path: stat.BadPath, Err: stat.ReadErr}, ExecFailed, "", stat.ReadErr
	case FreshMissing:
		path := e.g.PathFor(stat.MissingFile)
		return kindFailed, nil, ExecFailed, "", fmt.Errorf("forge: missing input %s", path)
	}

	outcome, output, err := e.world.Execute(ctx, e.userState, e.g, id, e.progress)
	a := e.g.Action(id)
	if err != nil {
		// A genuine World-level error (exec couldn't even start, e.g. the
		// executable is missing) rather than an ordinary non-zero exit:
		// §7's error table treats ExecuteError(io) the same as CannotRead,
		// so the action's cache records are invalidated and the run aborts
		// instead of skip-propagating to dependents.
		e.invalidate(actionHash, a)
		return kindFailed, &IoError{Path: describeAction(e.g, id), Err: err}, ExecFailed, output, err
	}

	switch outcome {
	case ExecSucceeded, ExecUpToDate:
		if outcome == ExecUpToDate {
			slog.WarnContext(ctx, "World.Execute returned UpToDate unexpectedly, treating as Succeeded", "action", id)
		}
		w, werr := e.cache.BeginWrite()
		if werr != nil {
			return kindFailed, nil, ExecFailed, output, werr
		}
		now := e.world.Now()
		w.SetAction(actionHash, ActionRecord{LastStart: now, InputSetDigest: inputHash})
		for _, out := range a.Outs {
			w.SetFile(e.g.PathFor(out), FileRecord{LastSeen: now, GeneratedBy: actionHash})
		}
		if cerr := w.Commit(); cerr != nil {
			return kindFailed, nil, ExecFailed, output, cerr
		}
		return kindSucceeded, nil, ExecSucceeded, output, nil
	default: // ExecFailed
		e.invalidate(actionHash, a)
		return kindFailed, nil, ExecFailed, output, fmt.Errorf("forge: action failed")
	}
}

// invalidate drops the cached action record and every declared output's
// file record, best-effort: a cache write failure here doesn't itself
// change the outcome already decided by the caller.
func (e *Executor) invalidate(actionHash ActionHash, a *Action) {
	w, err := e.cache.BeginWrite()
	if err != nil {
		return
	}
	w.InvalidateAction(actionHash)
	for _, out := range a.Outs {
		w.InvalidateFile(e.g.PathFor(out))
	}
	_ = w.Commit()
}

// Status returns a snapshot of the executor's current progress.
func (e *Executor) Status() Status {
	return Status{
		Total:   len(e.tracked),
		Started: e.running + e.finished,
		Done:    e.finished,
		Failed:  e.failed,
	}
}
