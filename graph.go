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

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Method is the sum type of the three ways an Action can run: Subcommand,
// Callback, or Phony. Only one of the concrete types below should be
// stored in Action.Method.
type Method interface {
	methodKind() string
}

// Subcommand runs executable with args through the World's process spawner.
type Subcommand struct {
	Executable string
	Args       []string
}

func (Subcommand) methodKind() string { return "subcmd" }

// Callback invokes a user-registered handler by name. Function identity is
// never hashed (func values aren't comparable or portable); callers that
// change what a callback does must rename it, or stale cache entries will
// be considered fresh. See hash.go.
type Callback struct {
	Name    string
	Handler func(ctx context.Context, userState any) error
}

func (Callback) methodKind() string { return "callback" }

// Phony always succeeds immediately and produces no files.
type Phony struct{}

func (Phony) methodKind() string { return "phony" }

// Action is one node of the build DAG.
type Action struct {
	Method      Method
	Ins         []FileId
	Outs        []FileId
	Description string
}

// CyclicGraph is returned by Builder.Freeze when the edge set contains a
// cycle.
type CyclicGraph struct {
	Cycle []ActionId
}

func (e *CyclicGraph) Error() string {
	return fmt.Sprintf("forge: cyclic build graph, cycle touches %d action(s)", len(e.Cycle))
}

// UnknownId is returned when an operation references an ActionId or
// FileId the Builder never minted.
type UnknownId struct {
	What string
	Id   int
}

func (e *UnknownId) Error() string {
	return fmt.Sprintf("forge: unknown %s id %d", e.What, e.Id)
}

// Builder accumulates files, actions, and edges before producing an
// immutable BuildGraph. It mirrors State's role in the teacher
// (State.GetNode / State.AddEdge), generalized to the spec's dense-id
// contract: ids handed out here are exactly the ids observable on the
// frozen graph.
type Builder struct {
	arena   *pathArena
	actions []Action

	// deps[c] lists the direct dependencies of action c, in add_edge order.
	deps [][]ActionId
	// edgeSeen dedups (consumer,dependency) pairs; add_edge is append-only
	// but repeating an edge is harmless, not an error.
	edgeSeen map[[2]ActionId]struct{}
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{arena: newPathArena(), edgeSeen: make(map[[2]ActionId]struct{})}
}

// AddFile interns path and returns its FileId. Idempotent.
func (b *Builder) AddFile(path string) FileId {
	return b.arena.intern(path)
}

// AddAction appends a new action and returns its id. Append-only: ids are
// handed out in call order starting at 0.
func (b *Builder) AddAction(a Action) ActionId {
	id := ActionId(len(b.actions))
	b.actions = append(b.actions, a)
	b.deps = append(b.deps, nil)
	return id
}

// AddEdge records that consumer structurally depends on dependency. Edges
// are explicit, not inferred from Ins/Outs, per spec.md §3. Returns
// *UnknownId if either id was never produced by AddAction.
func (b *Builder) AddEdge(consumer, dependency ActionId) error {
	if int(consumer) < 0 || int(consumer) >= len(b.actions) {
		return &UnknownId{What: "action", Id: int(consumer)}
	}
	if int(dependency) < 0 || int(dependency) >= len(b.actions) {
		return &UnknownId{What: "action", Id: int(dependency)}
	}
	key := [2]ActionId{consumer, dependency}
	if _, ok := b.edgeSeen[key]; ok {
		return nil
	}
	b.edgeSeen[key] = struct{}{}
	b.deps[consumer] = append(b.deps[consumer], dependency)
	return nil
}

// Freeze validates acyclicity and returns the immutable BuildGraph.
//
// Cycle detection is delegated to gonum's topological sort rather than a
// hand-rolled DFS colouring: gonum reports the offending strongly
// connected components directly via topo.Unorderable, which is more
// informative than a single back-edge.
func (b *Builder) Freeze() (*BuildGraph, error) {
	g := simple.NewDirectedGraph()
	for id := range b.actions {
		g.AddNode(simple.Node(id))
	}
	for consumer, ds := range b.deps {
		for _, dep := range ds {
			// gonum's topo.Sort treats an edge u->v as "u before v"; a
			// dependency must sort before its consumer, so the edge goes
			// dependency -> consumer here (the reverse of our own adjacency,
			// which is indexed consumer -> dependencies for fast lookup).
			g.SetEdge(g.NewEdge(simple.Node(dep), simple.Node(consumer)))
		}
	}

	if _, err := topo.Sort(g); err != nil {
		if uo, ok := err.(topo.Unorderable); ok {
			var cycle []ActionId
			for _, component := range uo {
				for _, n := range component {
					cycle = append(cycle, ActionId(n.ID()))
				}
			}
			return nil, &CyclicGraph{Cycle: cycle}
		}
		return nil, fmt.Errorf("forge: freeze: %w", err)
	}

	actions := make([]Action, len(b.actions))
	copy(actions, b.actions)
	deps := make([][]ActionId, len(b.deps))
	dependents := make([][]ActionId, len(b.actions))
	for consumer, ds := range b.deps {
		cp := make([]ActionId, len(ds))
		copy(cp, ds)
		deps[consumer] = cp
		for _, dep := range ds {
			dependents[dep] = append(dependents[dep], ActionId(consumer))
		}
	}

	return &BuildGraph{
		arena:      b.arena,
		actions:    actions,
		deps:       deps,
		dependents: dependents,
	}, nil
}

// BuildGraph is an immutable, cycle-free DAG over ActionIds, frozen by
// Builder.Freeze. All queries are id-indexed lookups on central tables,
// so a frozen graph can be shared across worker goroutines without
// synchronization (mirrors the "shared ownership" design note in
// spec.md §9).
type BuildGraph struct {
	arena      *pathArena
	actions    []Action
	deps       [][]ActionId
	dependents [][]ActionId
}

// ActionCount returns the number of actions in the graph.
func (g *BuildGraph) ActionCount() int { return len(g.actions) }

// Action returns the action record for id. Panics if id is out of range;
// callers are expected to only use ids obtained from this graph or its
// Builder.
func (g *BuildGraph) Action(id ActionId) *Action { return &g.actions[id] }

// DependenciesOf returns the direct dependencies of id, in add_edge order.
func (g *BuildGraph) DependenciesOf(id ActionId) []ActionId { return g.deps[id] }

// DependentsOf returns the direct dependents of id (consumers with an edge
// pointing at id).
func (g *BuildGraph) DependentsOf(id ActionId) []ActionId { return g.dependents[id] }

// PathFor returns the path string for a FileId.
func (g *BuildGraph) PathFor(id FileId) string { return g.arena.path(id) }

// FileFor looks up the FileId for path, if it was interned.
func (g *BuildGraph) FileFor(path string) (FileId, bool) { return g.arena.lookup(path) }
