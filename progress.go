// Copyright 2016 Google Inc. All Rights Reserved.
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
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Progress is the callback surface the executor (C7) drives as it plans
// and runs actions (§5). Implementations must be safe for concurrent use:
// ActionStarted is invoked from the controller goroutine as it dispatches
// each action, while ActionFinished and StdoutLine are invoked from worker
// goroutines (ActionFinished also from the controller for skipped
// actions), interleaved freely across actions.
type Progress interface {
	// Started is called once, after the executor has computed the total
	// number of actions it intends to run.
	Started(total int)
	// ActionStarted is called when the executor dispatches id to a worker.
	ActionStarted(g *BuildGraph, id ActionId)
	// ActionFinished is called when id completes, whether it succeeded,
	// failed, or was skipped because a dependency failed.
	ActionFinished(g *BuildGraph, id ActionId, outcome ExecOutcome, output string, err error)
	// StdoutLine is called once per line of captured subprocess output, as
	// it is produced, before ActionFinished delivers the full buffer. line
	// excludes the trailing newline.
	StdoutLine(g *BuildGraph, id ActionId, line []byte)
	// Finished is called once the build stops, successfully or not.
	Finished(err error)

	Warning(format string, args ...any)
	Error(format string, args ...any)
}

// NopProgress discards every event. Useful for library callers and tests
// that don't want console output at all.
type NopProgress struct{}

var _ Progress = NopProgress{}

func (NopProgress) Started(int)                                        {}
func (NopProgress) ActionStarted(*BuildGraph, ActionId)                 {}
func (NopProgress) ActionFinished(*BuildGraph, ActionId, ExecOutcome, string, error) {}
func (NopProgress) StdoutLine(*BuildGraph, ActionId, []byte)            {}
func (NopProgress) Finished(error)                                     {}
func (NopProgress) Warning(string, ...any)                              {}
func (NopProgress) Error(string, ...any)                                {}

// LineProgress prints one "[n/total]" line per started action to w, plus a
// FAILED line (and the captured output) per failed or skipped action, in
// the style of a non-interactive build log: no overprinting, no carriage returns, safe
// to pipe to a file or CI log collector. This is the "dumb terminal"
// branch of the teacher's LinePrinter::Print (the `else` that just does
// `printf("%s\n", to_print)`), promoted to its own implementation instead
// of a runtime flag.
type LineProgress struct {
	w    io.Writer
	mu   sync.Mutex
	total, finished int
}

var _ Progress = (*LineProgress)(nil)

func NewLineProgress(w io.Writer) *LineProgress {
	return &LineProgress{w: w}
}

func (p *LineProgress) Started(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.finished = 0
}

func (p *LineProgress) ActionStarted(g *BuildGraph, id ActionId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	desc := describeAction(g, id)
	fmt.Fprintf(p.w, "[%d/%d] %s\n", p.finished+1, p.total, desc)
}

func (p *LineProgress) ActionFinished(g *BuildGraph, id ActionId, outcome ExecOutcome, output string, err error) {
	p.mu.Lock()
	p.finished++
	p.mu.Unlock()
	if outcome == ExecFailed {
		fmt.Fprintf(p.w, "FAILED: %s\n", describeAction(g, id))
		if strings.TrimSpace(output) != "" {
			fmt.Fprintln(p.w, output)
		}
	}
}

// StdoutLine prints each streamed line immediately rather than waiting
// for ActionFinished's buffered output, so a long-running action's
// progress is visible while it's still running.
func (p *LineProgress) StdoutLine(g *BuildGraph, id ActionId, line []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w.Write(line)
	fmt.Fprintln(p.w)
}

func (p *LineProgress) Finished(err error) {
	if err != nil {
		fmt.Fprintf(p.w, "build stopped: %v\n", err)
	}
}

func (p *LineProgress) Warning(format string, args ...any) {
	fmt.Fprintf(p.w, "warning: "+format+"\n", args...)
}

func (p *LineProgress) Error(format string, args ...any) {
	fmt.Fprintf(p.w, "error: "+format+"\n", args...)
}

// ConsoleProgress overprints a single status line on a smart terminal,
// the way the teacher's StatusPrinter/LinePrinter pair does, generalized
// from Ninja's fixed "[%f/%t]" counters to a sliding completion rate.
// Falls back to LineProgress-like plain output when stdout isn't a TTY.
type ConsoleProgress struct {
	w            io.Writer
	smartTerminal bool

	mu            sync.Mutex
	total         int
	started       int
	finished      int
	running       int
	haveBlankLine bool
	rate          slidingRate
}

var _ Progress = (*ConsoleProgress)(nil)

// NewConsoleProgress returns a ConsoleProgress writing to f, auto-detecting
// whether f is a smart terminal via isatty. parallelism sizes the sliding
// rate window, matching the teacher's use of BuildConfig.parallelism for
// current_rate_.N.
func NewConsoleProgress(f *os.File, parallelism int) *ConsoleProgress {
	if parallelism < 1 {
		parallelism = 1
	}
	smart := isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	if os.Getenv("TERM") == "dumb" {
		smart = false
	}
	return &ConsoleProgress{
		w:             f,
		smartTerminal: smart,
		haveBlankLine: true,
		rate:          newSlidingRate(parallelism),
	}
}

func (p *ConsoleProgress) Started(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.started = 0
	p.finished = 0
	p.running = 0
}

func (p *ConsoleProgress) ActionStarted(g *BuildGraph, id ActionId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started++
	p.running++
	p.printStatusLocked(g, id)
}

func (p *ConsoleProgress) ActionFinished(g *BuildGraph, id ActionId, outcome ExecOutcome, output string, err error) {
	p.mu.Lock()
	p.finished++
	p.running--
	p.rate.update(p.finished, time.Now())
	p.mu.Unlock()

	if outcome == ExecFailed {
		p.printOnNewLine(fmt.Sprintf("FAILED: %s\n", describeAction(g, id)))
		if strings.TrimSpace(output) != "" {
			p.printOnNewLine(output)
		}
	} else if strings.TrimSpace(output) != "" {
		p.printOnNewLine(output)
	}
}

// StdoutLine streams one line of a running action's captured output,
// breaking out of the overprinted status line the same way a failure
// recap does.
func (p *ConsoleProgress) StdoutLine(g *BuildGraph, id ActionId, line []byte) {
	p.printOnNewLine(string(line))
}

func (p *ConsoleProgress) Finished(err error) {
	p.printOnNewLine("")
	if err != nil {
		fmt.Fprintf(p.w, "build stopped: %v\n", err)
	}
}

func (p *ConsoleProgress) Warning(format string, args ...any) {
	p.printOnNewLine("warning: " + fmt.Sprintf(format, args...))
}

func (p *ConsoleProgress) Error(format string, args ...any) {
	p.printOnNewLine("error: " + fmt.Sprintf(format, args...))
}

// printStatusLocked prints the current "[finished/total] description"
// line (with the sliding completions/sec rate once enough samples exist),
// overprinting the previous one on a smart terminal. Caller must hold p.mu.
func (p *ConsoleProgress) printStatusLocked(g *BuildGraph, id ActionId) {
	line := fmt.Sprintf("[%d/%d] %s", p.finished, p.total, describeAction(g, id))
	if rate := p.rate.perSecond(); rate >= 0 {
		line = fmt.Sprintf("[%d/%d, %.1f/s] %s", p.finished, p.total, rate, describeAction(g, id))
	}
	if p.smartTerminal {
		fmt.Fprintf(p.w, "\r%s\x1B[K", line)
	} else {
		fmt.Fprintf(p.w, "%s\n", line)
	}
	p.haveBlankLine = false
}

// printOnNewLine emits text on its own line, first breaking out of any
// in-progress overprinted status line. Mirrors LinePrinter::PrintOnNewLine.
func (p *ConsoleProgress) printOnNewLine(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.haveBlankLine {
		fmt.Fprint(p.w, "\n")
	}
	if text != "" {
		fmt.Fprint(p.w, text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Fprint(p.w, "\n")
		}
	}
	p.haveBlankLine = true
}

// describeAction returns the action's Description if set, falling back to
// its first output path, matching the teacher's
// GetBinding("description")-or-GetBinding("command") fallback chain in
// StatusPrinter::PrintStatus.
func describeAction(g *BuildGraph, id ActionId) string {
	a := g.Action(id)
	if a.Description != "" {
		return a.Description
	}
	if len(a.Outs) > 0 {
		return g.PathFor(a.Outs[0])
	}
	return fmt.Sprintf("action %d", id)
}

// slidingRate tracks a moving average of finished-actions-per-second over
// the last N completions, replacing the teacher's slidingRateInfo (which
// keyed its window on finished-edge counts and millisecond timestamps
// sourced from the Ninja-specific BuildConfig).
type slidingRate struct {
	n     int
	times []time.Time
}

func newSlidingRate(n int) slidingRate {
	return slidingRate{n: n}
}

func (r *slidingRate) update(finishedHint int, now time.Time) {
	if len(r.times) == r.n {
		r.times = r.times[1:]
	}
	r.times = append(r.times, now)
}

// perSecond returns the current rate, or -1 if not enough samples exist yet.
func (r *slidingRate) perSecond() float64 {
	if len(r.times) < 2 {
		return -1
	}
	elapsed := r.times[len(r.times)-1].Sub(r.times[0]).Seconds()
	if elapsed <= 0 {
		return -1
	}
	return float64(len(r.times)-1) / elapsed
}
