// Copyright 2012 Google Inc. All Rights Reserved.
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
	"log/slog"
	"sync/atomic"
)

// explaining toggles the "explain" trail: one slog.Debug line per
// stat_node decision (§4.5), the same on/off switch the teacher's
// g_explaining flag and EXPLAIN() gate, now routed through log/slog
// rather than a raw fprintf to stderr. statNode runs on worker
// goroutines, so this is an atomic.Bool rather than a bare bool: a
// library caller flipping SetExplaining while a build is in flight must
// not race with explain's reads.
var explaining atomic.Bool

// SetExplaining turns the freshness predicate's debug trail on or off.
// Meant to be wired to a CLI flag (-d explain in the teacher's CLI
// surface).
func SetExplaining(on bool) {
	explaining.Store(on)
}

// explain logs why stat_node reached a particular decision for id, when
// explaining is enabled. Cheap no-op otherwise.
func explain(ctx context.Context, g *BuildGraph, id ActionId, format string, args ...any) {
	if !explaining.Load() {
		return
	}
	slog.DebugContext(ctx, "explain: "+fmt.Sprintf(format, args...), "action", id)
}
