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

import "time"

// schemaVersion is bumped whenever ActionRecord or FileRecord's wire
// shape changes incompatibly. A backend that finds a stored version
// older than this should treat itself as empty rather than guess at a
// migration.
const schemaVersion = 1

// ActionRecord is the cached result of the most recent run of one action,
// keyed by its ActionHash (§3).
type ActionRecord struct {
	LastStart        time.Time
	LastEnd          time.Time
	InputSetDigest   InputHash
	AdditionalInputs []string
}

// FileRecord is the cached provenance of one output path (§3), keyed by
// the path itself.
type FileRecord struct {
	LastSeen    time.Time
	GeneratedBy ActionHash
}

// Reader is a snapshot-read transaction over a Cache.
type Reader interface {
	GetAction(hash ActionHash) (*ActionRecord, bool)
	GetFile(path string) (*FileRecord, bool)
	// Close releases the transaction. Readers never error on close.
	Close()
}

// Writer is a serialized-write transaction over a Cache. Dropping a
// Writer without calling Commit discards every pending change — callers
// that want writes to stick must call Commit explicitly.
type Writer interface {
	Reader
	SetAction(hash ActionHash, rec ActionRecord)
	InvalidateAction(hash ActionHash)
	SetFile(path string, rec FileRecord)
	InvalidateFile(path string)
	Commit() error
}

// Cache is the persistent store backing the freshness predicate (C6):
// ActionHash → ActionRecord and path → FileRecord, with snapshot reads and
// serialized writes. Concrete backends: memoryCache (tests), badgerCache
// (durable, default), jsonlCache (durable, human-inspectable append log).
type Cache interface {
	SchemaVersion() int
	Reset() error
	BeginRead() (Reader, error)
	BeginWrite() (Writer, error)

	// ForgetAction and ForgetFile are Cleaner (clean.go) conveniences that
	// invalidate a single record outside of the Reader/Writer transaction
	// pair, since clean doesn't need snapshot isolation against a build in
	// flight — it's meant to run standalone.
	ForgetAction(hash ActionHash)
	ForgetFile(path string)

	Close() error
}
