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

// FileId is a dense, non-negative, opaque identifier for an interned path.
// It is stable for the lifetime of the BuildGraph it was minted from.
type FileId int32

// ActionId is a dense, non-negative, opaque identifier for an action. It
// indexes directly into BuildGraph.actions.
type ActionId int32

// pathArena interns paths, handing out dense FileIds in insertion order
// and deduplicating by exact path equality. Mirrors State.paths_ /
// State.GetNode in the teacher, minus the Node machinery that now lives
// in per-run executor state.
type pathArena struct {
	byPath map[string]FileId
	paths  []string
}

func newPathArena() *pathArena {
	return &pathArena{byPath: make(map[string]FileId)}
}

// intern returns the FileId for path, minting a new one if path has not
// been seen before. Idempotent: repeated calls with the same path return
// the same id.
func (a *pathArena) intern(path string) FileId {
	if id, ok := a.byPath[path]; ok {
		return id
	}
	id := FileId(len(a.paths))
	a.paths = append(a.paths, path)
	a.byPath[path] = id
	return id
}

func (a *pathArena) lookup(path string) (FileId, bool) {
	id, ok := a.byPath[path]
	return id, ok
}

func (a *pathArena) path(id FileId) string {
	return a.paths[id]
}

func (a *pathArena) len() int {
	return len(a.paths)
}
