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
	"time"
)

// freshnessKind is the outcome of statNode.
type freshnessKind int

const (
	FreshOutdated freshnessKind = iota
	FreshUpToDate
	FreshMissing
	FreshCannotRead
)

// Freshness is the result of statNode: a kind plus the extra data that
// Missing and CannotRead carry.
type Freshness struct {
	Kind     freshnessKind
	MissingFile FileId
	BadPath  string
	ReadErr  error
}

func outdated() Freshness    { return Freshness{Kind: FreshOutdated} }
func upToDate() Freshness    { return Freshness{Kind: FreshUpToDate} }
func missing(id FileId) Freshness {
	return Freshness{Kind: FreshMissing, MissingFile: id}
}
func cannotRead(path string, err error) Freshness {
	return Freshness{Kind: FreshCannotRead, BadPath: path, ReadErr: err}
}

// CheckFreshness is the external entry point to the freshness predicate,
// for callers outside the executor (the `-n`/dry-run CLI path) that want
// an answer without committing to a run. It hashes id fresh on every
// call; the executor itself calls statNode directly since it already
// has the hashes at hand from runOne.
func CheckFreshness(ctx context.Context, cache Cache, world World, g *BuildGraph, id ActionId) Freshness {
	return statNode(ctx, cache, world, g, id, hashAction(g, id), hashInputSet(g, id))
}

// statNode implements the freshness predicate (§4.5): whether action id's
// cached result, if any, is still valid given the current state of the
// filesystem. actionHash and inputHash must be the caller's freshly
// computed hashAction/hashInputSet for id — passed in rather than
// recomputed here since the executor (C7) already has them at hand.
func statNode(ctx context.Context, cache Cache, world World, g *BuildGraph, id ActionId, actionHash ActionHash, inputHash InputHash) Freshness {
	r, err := cache.BeginRead()
	if err != nil {
		return cannotRead("<cache>", err)
	}
	defer r.Close()

	actionRec, haveAction := r.GetAction(actionHash)
	var watermark time.Time
	haveWatermark := false
	if haveAction {
		watermark = actionRec.LastStart
		haveWatermark = true
	}

	a := g.Action(id)

	for _, inID := range a.Ins {
		path := g.PathFor(inID)
		if !world.Exists(path) {
			explain(ctx, g, id, "input %s does not exist", path)
			return missing(inID)
		}
		mtime, err := world.MTime(path)
		if err != nil {
			return cannotRead(path, err)
		}
		if !haveWatermark || mtime.After(watermark) {
			explain(ctx, g, id, "input %s is newer than the cached run", path)
			return outdated()
		}
	}

	if !haveAction {
		explain(ctx, g, id, "no cached action record")
		return outdated()
	}

	for _, outID := range a.Outs {
		path := g.PathFor(outID)
		if !world.Exists(path) {
			explain(ctx, g, id, "output %s is missing", path)
			return outdated()
		}
		mtime, err := world.MTime(path)
		if err != nil {
			return cannotRead(path, err)
		}
		fileRec, haveFile := r.GetFile(path)
		if !haveFile {
			explain(ctx, g, id, "output %s has no cache record", path)
			return outdated()
		}
		if fileRec.GeneratedBy != actionHash {
			explain(ctx, g, id, "output %s was generated by a different action", path)
			return outdated()
		}
		if mtime.After(fileRec.LastSeen) {
			explain(ctx, g, id, "output %s was modified outside of forge", path)
			return outdated()
		}
	}

	if actionRec.InputSetDigest != inputHash {
		explain(ctx, g, id, "input set changed")
		return outdated()
	}

	for _, path := range actionRec.AdditionalInputs {
		if !world.Exists(path) {
			explain(ctx, g, id, "additional input %s is missing", path)
			return outdated()
		}
		mtime, err := world.MTime(path)
		if err != nil {
			return cannotRead(path, err)
		}
		if mtime.After(actionRec.LastStart) {
			explain(ctx, g, id, "additional input %s is newer than the cached run", path)
			return outdated()
		}
	}

	return upToDate()
}
