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
	"fmt"
	"io"
	"strings"
)

// WriteGraphviz writes a GraphViz .dot rendering of the transitive
// closure of roots to w. Actions with a single input and single output
// draw as a plain edge; everything else draws the action itself as an
// ellipse node with edges to/from its files, matching the teacher's
// GraphViz::AddTarget split.
func WriteGraphviz(w io.Writer, g *BuildGraph, roots []ActionId) error {
	gv := &graphvizWriter{w: w, g: g, visitedFiles: make(map[FileId]struct{}), visitedActions: make(map[ActionId]struct{})}
	gv.start()
	for _, root := range roots {
		gv.addAction(root)
	}
	gv.finish()
	return gv.err
}

type graphvizWriter struct {
	w              io.Writer
	g              *BuildGraph
	visitedFiles   map[FileId]struct{}
	visitedActions map[ActionId]struct{}
	err            error
}

func (gv *graphvizWriter) printf(format string, args ...any) {
	if gv.err != nil {
		return
	}
	_, gv.err = fmt.Fprintf(gv.w, format, args...)
}

func (gv *graphvizWriter) start() {
	gv.printf("digraph forge {\n")
	gv.printf("rankdir=\"LR\"\n")
	gv.printf("node [fontsize=10, shape=box, height=0.25]\n")
	gv.printf("edge [fontsize=10]\n")
}

func (gv *graphvizWriter) finish() {
	gv.printf("}\n")
}

func (gv *graphvizWriter) fileLabel(id FileId) string {
	return strings.ReplaceAll(gv.g.PathFor(id), "\\", "/")
}

func (gv *graphvizWriter) addFileNode(id FileId) {
	if _, ok := gv.visitedFiles[id]; ok {
		return
	}
	gv.visitedFiles[id] = struct{}{}
	gv.printf("\"f%d\" [label=\"%s\"]\n", id, gv.fileLabel(id))
}

// addAction renders id and recurses into its dependencies. It is keyed by
// the action that produces each file, so AddTarget's node-vs-edge recursion
// in the teacher (which walked Node.in_edge()) becomes a direct recursion
// over DependenciesOf.
func (gv *graphvizWriter) addAction(id ActionId) {
	if _, ok := gv.visitedActions[id]; ok {
		return
	}
	gv.visitedActions[id] = struct{}{}

	a := gv.g.Action(id)
	for _, out := range a.Outs {
		gv.addFileNode(out)
	}

	if len(a.Ins) == 1 && len(a.Outs) == 1 {
		gv.printf("\"f%d\" -> \"f%d\" [label=\" %s\"]\n", a.Ins[0], a.Outs[0], actionLabel(a))
	} else {
		gv.printf("\"a%d\" [label=\"%s\", shape=ellipse]\n", id, actionLabel(a))
		for _, out := range a.Outs {
			gv.printf("\"a%d\" -> \"f%d\"\n", id, out)
		}
		for _, in := range a.Ins {
			gv.addFileNode(in)
			gv.printf("\"f%d\" -> \"a%d\" [arrowhead=none]\n", in, id)
		}
	}

	for _, in := range a.Ins {
		gv.addFileNode(in)
	}
	for _, dep := range gv.g.DependenciesOf(id) {
		gv.addAction(dep)
	}
}

func actionLabel(a *Action) string {
	if a.Description != "" {
		return a.Description
	}
	switch m := a.Method.(type) {
	case Subcommand:
		return m.Executable
	case Callback:
		return m.Name
	case Phony:
		return "phony"
	default:
		return "?"
	}
}
