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
	"strings"
	"testing"
)

func TestLoadManifest_Empty(t *testing.T) {
	b := NewBuilder()
	if err := LoadManifest(strings.NewReader(""), b); err != nil {
		t.Fatal(err)
	}
	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	if g.ActionCount() != 0 {
		t.Fatalf("ActionCount() = %d, want 0", g.ActionCount())
	}
}

func TestLoadManifest_SimpleRuleAndBuild(t *testing.T) {
	const manifest = `
rule cc
  command = gcc -c $in -o $out
  description = Compiling $out

build out.o: cc in.c
`
	b := NewBuilder()
	if err := LoadManifest(strings.NewReader(manifest), b); err != nil {
		t.Fatal(err)
	}
	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	if g.ActionCount() != 1 {
		t.Fatalf("ActionCount() = %d, want 1", g.ActionCount())
	}
	a := g.Action(0)
	sc, ok := a.Method.(Subcommand)
	if !ok {
		t.Fatalf("Method = %T, want Subcommand", a.Method)
	}
	if sc.Executable != "/bin/sh" || len(sc.Args) != 2 || sc.Args[0] != "-c" {
		t.Fatalf("Subcommand = %+v", sc)
	}
	if sc.Args[1] != "gcc -c in.c -o out.o" {
		t.Fatalf("expanded command = %q", sc.Args[1])
	}
	if a.Description != "Compiling out.o" {
		t.Fatalf("Description = %q", a.Description)
	}
	if len(a.Ins) != 1 || g.PathFor(a.Ins[0]) != "in.c" {
		t.Fatalf("Ins = %v", a.Ins)
	}
	if len(a.Outs) != 1 || g.PathFor(a.Outs[0]) != "out.o" {
		t.Fatalf("Outs = %v", a.Outs)
	}
}

func TestLoadManifest_PhonyAndWiredEdge(t *testing.T) {
	const manifest = `
rule cc
  command = gcc -c $in -o $out

build mid.o: cc src.c
build final.o: cc mid.o
build all: phony final.o
`
	b := NewBuilder()
	if err := LoadManifest(strings.NewReader(manifest), b); err != nil {
		t.Fatal(err)
	}
	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	if g.ActionCount() != 3 {
		t.Fatalf("ActionCount() = %d, want 3", g.ActionCount())
	}

	var phonyID, finalID, midID ActionId
	for id := ActionId(0); int(id) < g.ActionCount(); id++ {
		a := g.Action(id)
		if _, ok := a.Method.(Phony); ok {
			phonyID = id
			continue
		}
		for _, out := range a.Outs {
			switch g.PathFor(out) {
			case "final.o":
				finalID = id
			case "mid.o":
				midID = id
			}
		}
	}

	deps := g.DependenciesOf(finalID)
	if len(deps) != 1 || deps[0] != midID {
		t.Fatalf("DependenciesOf(final) = %v, want [%d]", deps, midID)
	}
	deps = g.DependenciesOf(phonyID)
	if len(deps) != 1 || deps[0] != finalID {
		t.Fatalf("DependenciesOf(all) = %v, want [%d]", deps, finalID)
	}
}

func TestLoadManifest_ImplicitAndOrderOnlyInputs(t *testing.T) {
	const manifest = `
rule cc
  command = gcc -c $in -o $out

build out.o: cc in.c | header.h || dir_stamp
`
	b := NewBuilder()
	if err := LoadManifest(strings.NewReader(manifest), b); err != nil {
		t.Fatal(err)
	}
	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	a := g.Action(0)
	var paths []string
	for _, in := range a.Ins {
		paths = append(paths, g.PathFor(in))
	}
	want := map[string]bool{"in.c": true, "header.h": true, "dir_stamp": true}
	if len(paths) != len(want) {
		t.Fatalf("Ins = %v", paths)
	}
	for _, p := range paths {
		if !want[p] {
			t.Errorf("unexpected input %q", p)
		}
	}
	sc := a.Method.(Subcommand)
	// $in expands to explicit inputs only, not implicit/order-only ones.
	if sc.Args[1] != "gcc -c in.c -o out.o" {
		t.Fatalf("expanded command = %q", sc.Args[1])
	}
}

func TestLoadManifest_UnknownRule(t *testing.T) {
	b := NewBuilder()
	err := LoadManifest(strings.NewReader("build out: missing in\n"), b)
	if err == nil {
		t.Fatal("expected an error for an undeclared rule")
	}
}

func TestLoadManifest_LineContinuation(t *testing.T) {
	const manifest = "rule cc\n  command = gcc $\n    -c $in -o $out\n\nbuild out.o: cc in.c\n"
	b := NewBuilder()
	if err := LoadManifest(strings.NewReader(manifest), b); err != nil {
		t.Fatal(err)
	}
	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	sc := g.Action(0).Method.(Subcommand)
	if !strings.Contains(sc.Args[1], "-c in.c -o out.o") {
		t.Fatalf("expanded command = %q", sc.Args[1])
	}
}
