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

import "testing"

func oneActionGraph(t *testing.T, method Method, ins, outs []string) (*BuildGraph, ActionId) {
	t.Helper()
	b := NewBuilder()
	var insIds, outsIds []FileId
	for _, p := range ins {
		insIds = append(insIds, b.AddFile(p))
	}
	for _, p := range outs {
		outsIds = append(outsIds, b.AddFile(p))
	}
	a := b.AddAction(Action{Method: method, Ins: insIds, Outs: outsIds})
	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	return g, a
}

func TestHashAction_StableAcrossCalls(t *testing.T) {
	g, a := oneActionGraph(t, Subcommand{Executable: "cc", Args: []string{"-c", "in.c"}}, []string{"in.c"}, []string{"out.o"})
	h1 := hashAction(g, a)
	h2 := hashAction(g, a)
	if h1 != h2 {
		t.Fatalf("hashAction is not stable: %x != %x", h1, h2)
	}
}

func TestHashAction_DiffersOnCommand(t *testing.T) {
	g1, a1 := oneActionGraph(t, Subcommand{Executable: "cc", Args: []string{"-O2"}}, []string{"in.c"}, []string{"out.o"})
	g2, a2 := oneActionGraph(t, Subcommand{Executable: "cc", Args: []string{"-O0"}}, []string{"in.c"}, []string{"out.o"})
	if hashAction(g1, a1) == hashAction(g2, a2) {
		t.Fatal("hashAction should differ when the command differs")
	}
}

func TestHashAction_IgnoresDeclaredInputs(t *testing.T) {
	// hashAction covers method + declared outputs only (§4.2); the input
	// set is hashInputSet's job. Changing Ins without changing Method or
	// Outs must not move the ActionHash.
	g1, a1 := oneActionGraph(t, Subcommand{Executable: "cc"}, []string{"a.c"}, []string{"out.o"})
	g2, a2 := oneActionGraph(t, Subcommand{Executable: "cc"}, []string{"b.c"}, []string{"out.o"})
	if hashAction(g1, a1) != hashAction(g2, a2) {
		t.Fatal("hashAction should not depend on declared inputs")
	}
}

func TestHashAction_DiffersByMethodKind(t *testing.T) {
	g1, a1 := oneActionGraph(t, Subcommand{Executable: "cc"}, nil, []string{"out"})
	g2, a2 := oneActionGraph(t, Phony{}, nil, []string{"out"})
	if hashAction(g1, a1) == hashAction(g2, a2) {
		t.Fatal("hashAction should differ between a Subcommand and a Phony over the same outputs")
	}
}

func TestHashInputSet_OrderIndependent(t *testing.T) {
	b := NewBuilder()
	x := b.AddFile("x")
	y := b.AddFile("y")
	a1 := b.AddAction(Action{Method: Phony{}, Ins: []FileId{x, y}})
	a2 := b.AddAction(Action{Method: Phony{}, Ins: []FileId{y, x}})
	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	if hashInputSet(g, a1) != hashInputSet(g, a2) {
		t.Fatal("hashInputSet should be independent of input declaration order")
	}
}

func TestHashInputSet_SensitiveToMembership(t *testing.T) {
	b := NewBuilder()
	x := b.AddFile("x")
	y := b.AddFile("y")
	z := b.AddFile("z")
	a1 := b.AddAction(Action{Method: Phony{}, Ins: []FileId{x, y}})
	a2 := b.AddAction(Action{Method: Phony{}, Ins: []FileId{x, z}})
	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	if hashInputSet(g, a1) == hashInputSet(g, a2) {
		t.Fatal("hashInputSet should differ when the input membership differs")
	}
}

func TestHashInputSet_IncludesDirectDependencyOutputs(t *testing.T) {
	// consumer declares no Ins of its own: hashInputSet must still pick
	// up gen's declared output, the "union of declared inputs and
	// dependency outputs" half of §4.2.
	buildWithGenOutput := func(outPath string) InputHash {
		b := NewBuilder()
		src := b.AddFile("src")
		out := b.AddFile(outPath)
		gen := b.AddAction(Action{Method: Subcommand{Executable: "cc"}, Ins: []FileId{src}, Outs: []FileId{out}})
		consumer := b.AddAction(Action{Method: Subcommand{Executable: "ld"}})
		if err := b.AddEdge(consumer, gen); err != nil {
			t.Fatal(err)
		}
		g, err := b.Freeze()
		if err != nil {
			t.Fatal(err)
		}
		return hashInputSet(g, consumer)
	}

	if buildWithGenOutput("mid.o") == buildWithGenOutput("mid2.o") {
		t.Fatal("hashInputSet should include dependency outputs, not just declared Ins")
	}
}

func TestBits64Add_Carries(t *testing.T) {
	sum, carry := bits64Add(^uint64(0), 1)
	if sum != 0 || carry != 1 {
		t.Fatalf("bits64Add(max, 1) = %d, %d, want 0, 1", sum, carry)
	}
	sum, carry = bits64Add(1, 2)
	if sum != 3 || carry != 0 {
		t.Fatalf("bits64Add(1, 2) = %d, %d, want 3, 0", sum, carry)
	}
}
