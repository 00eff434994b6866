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

func TestWriteGraphviz(t *testing.T) {
	b := NewBuilder()
	in := b.AddFile("in.c")
	out := b.AddFile("out.o")
	a := b.AddAction(Action{Method: Subcommand{Executable: "cc"}, Ins: []FileId{in}, Outs: []FileId{out}})

	g, err := b.Freeze()
	if err != nil {
		t.Fatal(err)
	}

	var sb strings.Builder
	if err := WriteGraphviz(&sb, g, []ActionId{a}); err != nil {
		t.Fatal(err)
	}
	out_ := sb.String()
	if !strings.HasPrefix(out_, "digraph forge {\n") {
		t.Errorf("missing digraph header:\n%s", out_)
	}
	if !strings.Contains(out_, "out.o") || !strings.Contains(out_, "in.c") {
		t.Errorf("missing file labels:\n%s", out_)
	}
	if !strings.HasSuffix(out_, "}\n") {
		t.Errorf("missing closing brace:\n%s", out_)
	}
}
