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
	"os"
)

// Cleaner removes the declared outputs of a BuildGraph's actions, and
// clears their cache entries so a subsequent build treats them as never
// having run. Unlike the teacher's Cleaner, there is no DiskInterface
// split: removal goes straight through os.Remove, since only LocalWorld
// ever has real files to clean.
type Cleaner struct {
	g       *BuildGraph
	cache   Cache
	Verbose bool
	DryRun  bool

	removed map[FileId]struct{}
	visited map[ActionId]struct{}
	count   int
	failed  bool
}

// NewCleaner returns a Cleaner over g, clearing cache entries from cache
// as it removes files. cache may be nil to only remove files.
func NewCleaner(g *BuildGraph, cache Cache) *Cleaner {
	return &Cleaner{
		g:       g,
		cache:   cache,
		removed: make(map[FileId]struct{}),
		visited: make(map[ActionId]struct{}),
	}
}

func (c *Cleaner) reset() {
	c.count = 0
	c.failed = false
	c.removed = make(map[FileId]struct{})
	c.visited = make(map[ActionId]struct{})
}

func (c *Cleaner) removeFile(id FileId) {
	if _, ok := c.removed[id]; ok {
		return
	}
	c.removed[id] = struct{}{}
	path := c.g.PathFor(id)
	if c.DryRun {
		if _, err := os.Stat(path); err == nil {
			c.report(path)
		}
		return
	}
	err := os.Remove(path)
	if err == nil {
		c.report(path)
	} else if !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "forge: remove %s: %v\n", path, err)
		c.failed = true
	}
	if c.cache != nil {
		c.cache.ForgetFile(path)
	}
}

func (c *Cleaner) report(path string) {
	c.count++
	if c.Verbose {
		fmt.Printf("Remove %s\n", path)
	}
}

// CleanAction removes id's declared outputs (and, recursively, its
// dependencies' outputs), matching the teacher's Cleaner::DoCleanTarget.
func (c *Cleaner) CleanAction(id ActionId) {
	if _, ok := c.visited[id]; ok {
		return
	}
	a := c.g.Action(id)
	if _, isPhony := a.Method.(Phony); !isPhony {
		for _, out := range a.Outs {
			c.removeFile(out)
		}
		if c.cache != nil {
			c.cache.ForgetAction(hashAction(c.g, id))
		}
	}
	c.visited[id] = struct{}{}
	for _, dep := range c.g.DependenciesOf(id) {
		c.CleanAction(dep)
	}
}

// CleanAll removes the outputs of every non-phony action in the graph,
// matching the teacher's Cleaner::CleanAll.
func (c *Cleaner) CleanAll() (int, error) {
	c.reset()
	for id := ActionId(0); int(id) < c.g.ActionCount(); id++ {
		a := c.g.Action(id)
		if _, isPhony := a.Method.(Phony); isPhony {
			continue
		}
		for _, out := range a.Outs {
			c.removeFile(out)
		}
		if c.cache != nil {
			c.cache.ForgetAction(hashAction(c.g, id))
		}
	}
	if c.failed {
		return c.count, fmt.Errorf("forge: clean: one or more files could not be removed")
	}
	return c.count, nil
}

// CleanTargets removes the outputs of the named actions and everything
// they transitively depend on, matching the teacher's Cleaner::CleanTargets.
func (c *Cleaner) CleanTargets(ids []ActionId) (int, error) {
	c.reset()
	for _, id := range ids {
		if c.Verbose {
			fmt.Printf("Target action %d\n", id)
		}
		c.CleanAction(id)
	}
	if c.failed {
		return c.count, fmt.Errorf("forge: clean: one or more files could not be removed")
	}
	return c.count, nil
}
