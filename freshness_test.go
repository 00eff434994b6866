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
	"errors"
	"testing"
	"time"
)

func buildOneAction(t *testing.T) (*BuildGraph, ActionId) {
	t.Helper()
	b := NewBuilder()
	in := b.AddFile("in.txt")
	out := b.AddFile("out.txt")
	a := b.AddAction(Action{Method: Subcommand{Executable: "cp"}, Ins: []FileId{in}, Outs: []FileId{out}})
	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}
	return g, a
}

func TestStatNode_MissingInput(t *testing.T) {
	g, a := buildOneAction(t)
	w := NewMockWorld()
	c := NewMemoryCache()

	res := statNode(context.Background(), c, w, g, a, hashAction(g, a), hashInputSet(g, a))
	if res.Kind != FreshMissing {
		t.Fatalf("got %v, want FreshMissing", res.Kind)
	}
}

func TestStatNode_CannotReadInput(t *testing.T) {
	g, a := buildOneAction(t)
	w := NewMockWorld()
	w.FailStat("in.txt", errors.New("permission denied"))
	c := NewMemoryCache()

	res := statNode(context.Background(), c, w, g, a, hashAction(g, a), hashInputSet(g, a))
	if res.Kind != FreshCannotRead {
		t.Fatalf("got %v, want FreshCannotRead", res.Kind)
	}
}

func TestStatNode_OutdatedNoRecord(t *testing.T) {
	g, a := buildOneAction(t)
	w := NewMockWorld()
	w.Touch("in.txt", time.Unix(100, 0))
	c := NewMemoryCache()

	res := statNode(context.Background(), c, w, g, a, hashAction(g, a), hashInputSet(g, a))
	if res.Kind != FreshOutdated {
		t.Fatalf("got %v, want FreshOutdated (no cached action record)", res.Kind)
	}
}

func TestStatNode_UpToDate(t *testing.T) {
	g, a := buildOneAction(t)
	w := NewMockWorld()
	w.Touch("in.txt", time.Unix(100, 0))
	w.Touch("out.txt", time.Unix(200, 0))
	c := NewMemoryCache()

	ah := hashAction(g, a)
	ih := hashInputSet(g, a)

	wr, err := c.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	wr.SetAction(ah, ActionRecord{LastStart: time.Unix(150, 0), InputSetDigest: ih})
	wr.SetFile("out.txt", FileRecord{LastSeen: time.Unix(200, 0), GeneratedBy: ah})
	if err := wr.Commit(); err != nil {
		t.Fatal(err)
	}

	res := statNode(context.Background(), c, w, g, a, ah, ih)
	if res.Kind != FreshUpToDate {
		t.Fatalf("got %v, want FreshUpToDate", res.Kind)
	}
}

func TestStatNode_OutdatedInputTouchedAfterRun(t *testing.T) {
	g, a := buildOneAction(t)
	w := NewMockWorld()
	w.Touch("in.txt", time.Unix(300, 0)) // newer than last_start below
	w.Touch("out.txt", time.Unix(200, 0))
	c := NewMemoryCache()

	ah := hashAction(g, a)
	ih := hashInputSet(g, a)
	wr, _ := c.BeginWrite()
	wr.SetAction(ah, ActionRecord{LastStart: time.Unix(150, 0), InputSetDigest: ih})
	wr.SetFile("out.txt", FileRecord{LastSeen: time.Unix(200, 0), GeneratedBy: ah})
	wr.Commit()

	res := statNode(context.Background(), c, w, g, a, ah, ih)
	if res.Kind != FreshOutdated {
		t.Fatalf("got %v, want FreshOutdated (input touched after run)", res.Kind)
	}
}

func TestStatNode_OutdatedForeignOutputModification(t *testing.T) {
	g, a := buildOneAction(t)
	w := NewMockWorld()
	w.Touch("in.txt", time.Unix(100, 0))
	w.Touch("out.txt", time.Unix(999, 0)) // modified after last_seen, outside forge

	c := NewMemoryCache()
	ah := hashAction(g, a)
	ih := hashInputSet(g, a)
	wr, _ := c.BeginWrite()
	wr.SetAction(ah, ActionRecord{LastStart: time.Unix(150, 0), InputSetDigest: ih})
	wr.SetFile("out.txt", FileRecord{LastSeen: time.Unix(200, 0), GeneratedBy: ah})
	wr.Commit()

	res := statNode(context.Background(), c, w, g, a, ah, ih)
	if res.Kind != FreshOutdated {
		t.Fatalf("got %v, want FreshOutdated (foreign output modification)", res.Kind)
	}
}

func TestStatNode_OutdatedInputSetChanged(t *testing.T) {
	g, a := buildOneAction(t)
	w := NewMockWorld()
	w.Touch("in.txt", time.Unix(100, 0))
	w.Touch("out.txt", time.Unix(200, 0))

	c := NewMemoryCache()
	ah := hashAction(g, a)
	wr, _ := c.BeginWrite()
	wr.SetAction(ah, ActionRecord{LastStart: time.Unix(150, 0), InputSetDigest: InputHash{0xff}})
	wr.SetFile("out.txt", FileRecord{LastSeen: time.Unix(200, 0), GeneratedBy: ah})
	wr.Commit()

	res := statNode(context.Background(), c, w, g, a, ah, hashInputSet(g, a))
	if res.Kind != FreshOutdated {
		t.Fatalf("got %v, want FreshOutdated (input set digest mismatch)", res.Kind)
	}
}
