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
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/xerrors"
)

// ExecOutcome is the result of running one action's Method through a
// World, per spec.md §4.3.
type ExecOutcome int

const (
	ExecSucceeded ExecOutcome = iota
	ExecFailed
	// ExecUpToDate is not returned by LocalWorld, but the contract allows a
	// World to report it when the underlying tool it wraps already knows an
	// action didn't need to run (e.g. delegating to another build system
	// with its own freshness check). The executor treats it like
	// ExecSucceeded and logs it as unexpected (§4.6).
	ExecUpToDate
)

func (o ExecOutcome) String() string {
	switch o {
	case ExecSucceeded:
		return "Succeeded"
	case ExecUpToDate:
		return "UpToDate"
	default:
		return "Failed"
	}
}

// World is the contract C9 workers use to touch the outside world: stat
// files, read the clock, and run an action's Method. Implementations
// must be safe for concurrent use by multiple worker goroutines (§5).
//
// This replaces the teacher's split DiskInterface/SubprocessSet pair with
// a single capability-table interface, generalized to also dispatch
// Callback and Phony actions (the teacher only ever ran subcommands).
type World interface {
	Exists(path string) bool
	MTime(path string) (time.Time, error)
	Now() time.Time
	// Execute runs id's Method. progress.StdoutLine (§4.7) must be called
	// once per complete line of captured output as it becomes available,
	// not only after the action finishes; progress is never nil.
	Execute(ctx context.Context, userState any, g *BuildGraph, id ActionId, progress Progress) (ExecOutcome, string, error)
}

// LocalWorld is the real World: it stats the local filesystem and spawns
// real subprocesses. It holds no mutable state, so it is trivially safe
// for concurrent use, same as the teacher's RealDiskInterface aimed to
// be before statcache made that more complicated — this implementation
// deliberately has no stat cache, since the freshness predicate (C6)
// already does at most one stat per declared path per run.
type LocalWorld struct{}

var _ World = LocalWorld{}

func (LocalWorld) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (LocalWorld) MTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, xerrors.Errorf("stat %s: %w", path, err)
	}
	return fi.ModTime(), nil
}

func (LocalWorld) Now() time.Time {
	return time.Now()
}

// Execute runs the action's method. Subcommands spawn their executable
// directly with their args (see createCmd; the Ninja front-end in
// spec.md §6 already wraps rules as `shell -c "<command>"`), Callbacks
// invoke their handler directly, and Phony is a pure no-op.
func (LocalWorld) Execute(ctx context.Context, userState any, g *BuildGraph, id ActionId, progress Progress) (ExecOutcome, string, error) {
	a := g.Action(id)
	switch m := a.Method.(type) {
	case Subcommand:
		cmd := createCmd(ctx, m.Executable, m.Args)
		var buf bytes.Buffer
		stream := &lineStreamer{g: g, id: id, progress: progress, sink: &buf}
		cmd.Stdout = stream
		cmd.Stderr = stream
		err := cmd.Run()
		stream.flush()
		if err == nil {
			return ExecSucceeded, buf.String(), nil
		}
		var exitErr *exec.ExitError
		if xerrors.As(err, &exitErr) {
			return ExecFailed, buf.String(), nil
		}
		return ExecFailed, buf.String(), xerrors.Errorf("exec %s: %w", m.Executable, err)
	case Callback:
		if err := m.Handler(ctx, userState); err != nil {
			return ExecFailed, err.Error(), nil
		}
		return ExecSucceeded, "", nil
	case Phony:
		return ExecSucceeded, "", nil
	default:
		panic("forge: unknown Method implementation")
	}
}

// lineStreamer is an io.Writer shim that tees every byte into sink (the
// full captured buffer returned to the caller) while also calling
// progress.StdoutLine once per complete line, so output is visible while
// a long-running subprocess is still writing it (§4.7's stdout_line).
// Not safe for concurrent use; a Cmd only ever writes from one goroutine
// per stream but Stdout and Stderr here are the same writer, so partial
// writes from either interleave byte-for-byte rather than racing.
type lineStreamer struct {
	g        *BuildGraph
	id       ActionId
	progress Progress
	sink     io.Writer
	buf      []byte
}

func (s *lineStreamer) Write(p []byte) (int, error) {
	n, err := s.sink.Write(p)
	if err != nil {
		return n, err
	}
	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		s.progress.StdoutLine(s.g, s.id, s.buf[:i])
		s.buf = s.buf[i+1:]
	}
	return n, nil
}

// flush delivers a final partial line with no trailing newline, if any
// output remains buffered when the subprocess exits.
func (s *lineStreamer) flush() {
	if len(s.buf) > 0 {
		s.progress.StdoutLine(s.g, s.id, s.buf)
		s.buf = nil
	}
}

// createCmd spawns executable with args directly (no extra shell hop,
// unlike the teacher's SubprocessSetGeneric.Add which always forked
// /bin/sh -c); the Ninja front-end is responsible for handing us an
// already-shell-wrapped Subcommand when its source rule needs shell
// features. Runs in its own process group on POSIX so a cancelled
// context does not leak descendants into the caller's group, matching
// subprocess_posix.go's Setpgid use.
func createCmd(ctx context.Context, executable string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}
