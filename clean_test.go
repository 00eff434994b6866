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
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCleaner_CleanAll(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder()
	in1 := b.AddFile(filepath.Join(dir, "in1"))
	out1 := b.AddFile(filepath.Join(dir, "out1"))
	in2 := b.AddFile(filepath.Join(dir, "in2"))
	out2 := b.AddFile(filepath.Join(dir, "out2"))

	a1 := b.AddAction(Action{Method: Phony{}, Ins: []FileId{in1}, Outs: []FileId{out1}})
	a2 := b.AddAction(Action{Method: Subcommand{Executable: "cat"}, Ins: []FileId{in2}, Outs: []FileId{out2}})
	_ = a1
	_ = a2

	for _, p := range []string{"in1", "out1", "in2", "out2"} {
		touch(t, filepath.Join(dir, p))
	}

	g, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	c := NewCleaner(g, nil)
	n, err := c.CleanAll()
	if err != nil {
		t.Fatalf("CleanAll: %v", err)
	}
	// a1 is phony: its output is not removed. a2 is a real action: out2 is.
	if n != 1 {
		t.Errorf("CleanAll removed %d files, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "out1")); err != nil {
		t.Errorf("phony output out1 should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out2")); !os.IsNotExist(err) {
		t.Errorf("out2 should have been removed, stat err = %v", err)
	}
}

func TestCleaner_CleanTargets(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder()
	src := b.AddFile(filepath.Join(dir, "src"))
	mid := b.AddFile(filepath.Join(dir, "mid"))
	final := b.AddFile(filepath.Join(dir, "final"))

	genMid := b.AddAction(Action{Method: Subcommand{Executable: "cp"}, Ins: []FileId{src}, Outs: []FileId{mid}})
	genFinal := b.AddAction(Action{Method: Subcommand{Executable: "cp"}, Ins: []FileId{mid}, Outs: []FileId{final}})
	if err := b.AddEdge(genFinal, genMid); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"src", "mid", "final"} {
		touch(t, filepath.Join(dir, p))
	}

	g, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	c := NewCleaner(g, nil)
	n, err := c.CleanTargets([]ActionId{genFinal})
	if err != nil {
		t.Fatalf("CleanTargets: %v", err)
	}
	if n != 2 {
		t.Errorf("CleanTargets removed %d files, want 2 (mid, final)", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "src")); err != nil {
		t.Errorf("src should survive: %v", err)
	}
}
