// Copyright 2021 Google LLC
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

// Command forge is a ninja-compatible front-end over the forge build
// engine: it translates a manifest into a graph, then either lists what
// is out of date (-n) or runs it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/maruel/forge"
)

var (
	flagChdir       string
	flagManifest    string
	flagParallelism int
	flagVerbose     bool
	flagQuiet       bool
	flagDryRun      bool
	flagCacheDir    string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forge [targets...]",
		Short: "forge builds the targets named by a ninja-subset manifest",
		RunE:  runBuild,
	}
	cmd.Flags().StringVarP(&flagChdir, "chdir", "C", "", "change to DIR before doing anything else")
	cmd.Flags().StringVarP(&flagManifest, "file", "f", "build.ninja", "path to the manifest")
	cmd.Flags().IntVarP(&flagParallelism, "parallel", "j", 0, "number of actions to run in parallel (0: number of CPUs)")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "explain what is being done and why")
	cmd.Flags().BoolVar(&flagQuiet, "quiet", false, "don't report progress, only failures")
	cmd.Flags().BoolVarP(&flagDryRun, "dry-run", "n", false, "show what would run without running it")
	cmd.Flags().StringVar(&flagCacheDir, "cache-dir", ".forge", "directory holding the persistent build cache")
	return cmd
}

func runBuild(cmd *cobra.Command, args []string) error {
	setupLogging()

	if flagChdir != "" {
		if err := os.Chdir(flagChdir); err != nil {
			return fmt.Errorf("forge: -C %s: %w", flagChdir, err)
		}
	}

	f, err := os.Open(flagManifest)
	if err != nil {
		return fmt.Errorf("forge: %w", err)
	}
	b := forge.NewBuilder()
	loadErr := forge.LoadManifest(f, b)
	f.Close()
	if loadErr != nil {
		return loadErr
	}

	g, err := b.Freeze()
	if err != nil {
		return err
	}

	ids, err := resolveTargets(g, args)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "forge: nothing to do")
		return nil
	}

	if flagDryRun {
		return dryRun(g, ids)
	}

	parallelism := flagParallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism()
	}

	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	progress := newProgress(parallelism)
	ex, err := forge.NewExecutor(g, forge.LocalWorld{}, cache, progress, nil, parallelism)
	if err != nil {
		return err
	}
	if err := ex.Want(ids); err != nil {
		return err
	}
	return ex.Run(context.Background())
}

func setupLogging() {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
		forge.SetExplaining(true)
	}
	if flagQuiet {
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func defaultParallelism() int {
	return runtime.NumCPU()
}

// resolveTargets maps positional target names (declared output paths or
// phony alias names) to the actions that produce them. No args means
// "build everything the manifest declares" (spec.md §6: "empty means
// default targets, else all" — this repo has no `default` statement, so
// empty means all).
func resolveTargets(g *forge.BuildGraph, args []string) ([]forge.ActionId, error) {
	if len(args) == 0 {
		all := make([]forge.ActionId, g.ActionCount())
		for i := range all {
			all[i] = forge.ActionId(i)
		}
		return all, nil
	}
	producedBy := make(map[string]forge.ActionId)
	for i := 0; i < g.ActionCount(); i++ {
		id := forge.ActionId(i)
		for _, out := range g.Action(id).Outs {
			producedBy[g.PathFor(out)] = id
		}
	}
	ids := make([]forge.ActionId, 0, len(args))
	for _, a := range args {
		id, ok := producedBy[filepath.Clean(a)]
		if !ok {
			id, ok = producedBy[a]
		}
		if !ok {
			return nil, fmt.Errorf("forge: unknown target %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// dryRun walks every action transitively required by ids in dependency
// order and prints a "would run" line for each one that is not up to
// date (up-to-date actions print nothing), without executing or caching
// anything (§6's `-n`/dry-run flag).
func dryRun(g *forge.BuildGraph, ids []forge.ActionId) error {
	cache, err := openCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	visited := make(map[forge.ActionId]bool)
	var walk func(forge.ActionId) error
	walk = func(id forge.ActionId) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		for _, dep := range g.DependenciesOf(id) {
			if err := walk(dep); err != nil {
				return err
			}
		}
		res := forge.CheckFreshness(context.Background(), cache, forge.LocalWorld{}, g, id)
		if res.Kind == forge.FreshUpToDate {
			return nil
		}
		fmt.Printf("would run: %s\n", describeTarget(g, id))
		if res.Kind == forge.FreshCannotRead {
			return fmt.Errorf("forge: cannot read %s: %v", res.BadPath, res.ReadErr)
		}
		return nil
	}
	for _, id := range ids {
		if err := walk(id); err != nil {
			return err
		}
	}
	return nil
}

func describeTarget(g *forge.BuildGraph, id forge.ActionId) string {
	a := g.Action(id)
	if a.Description != "" {
		return a.Description
	}
	if len(a.Outs) == 0 {
		return fmt.Sprintf("action %d", id)
	}
	return g.PathFor(a.Outs[0])
}

func openCache() (forge.Cache, error) {
	if err := os.MkdirAll(flagCacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("forge: cache dir: %w", err)
	}
	return forge.OpenBadgerCache(flagCacheDir)
}

func newProgress(parallelism int) forge.Progress {
	if flagQuiet {
		return forge.NopProgress{}
	}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return forge.NewConsoleProgress(os.Stdout, parallelism)
	}
	return forge.NewLineProgress(os.Stdout)
}
