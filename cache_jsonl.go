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
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// jsonlCache is the "dumb" durable backend: every write appends one JSON
// line describing a put or a tombstone, and the whole log is replayed
// into memory on open. It trades compaction (the log only grows) for
// being trivially greppable and diffable, which is handy when debugging a
// cache discrepancy by hand — the same tradeoff the supplemented
// dumb-database backends in n2o5's src/db/dumb.rs make relative to its
// redb-backed one.
type jsonlCache struct {
	path string
	mu   sync.Mutex
	f    *os.File

	actions map[ActionHash]ActionRecord
	files   map[string]FileRecord
}

var _ Cache = (*jsonlCache)(nil)

type jsonlRecord struct {
	Kind        string    `json:"kind"`       // "action" or "file"
	Tombstone   bool      `json:"tombstone,omitempty"`
	ActionHash  string    `json:"action_hash,omitempty"`
	Path        string    `json:"path,omitempty"`
	LastStart   time.Time `json:"last_start,omitempty"`
	LastEnd     time.Time `json:"last_end,omitempty"`
	InputDigest string    `json:"input_digest,omitempty"`
	Additional  []string  `json:"additional_inputs,omitempty"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	GeneratedBy string    `json:"generated_by,omitempty"`
}

// OpenJSONLCache opens (creating if necessary) a jsonl-backed durable
// cache at path, replaying its existing contents into memory.
func OpenJSONLCache(path string) (Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("forge: open jsonl cache %s: %w", path, err)
	}
	c := &jsonlCache{
		path:    path,
		f:       f,
		actions: make(map[ActionHash]ActionRecord),
		files:   make(map[string]FileRecord),
	}
	if err := c.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *jsonlCache) replay() error {
	if _, err := c.f.Seek(0, 0); err != nil {
		return err
	}
	sc := bufio.NewScanner(c.f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("forge: corrupt jsonl cache entry: %w", err)
		}
		c.applyLocked(rec)
	}
	if _, err := c.f.Seek(0, 2); err != nil {
		return err
	}
	return sc.Err()
}

func (c *jsonlCache) applyLocked(rec jsonlRecord) {
	switch rec.Kind {
	case "action":
		var hash ActionHash
		decodeHashHex(rec.ActionHash, hash[:])
		if rec.Tombstone {
			delete(c.actions, hash)
			return
		}
		var digest InputHash
		decodeHashHex(rec.InputDigest, digest[:])
		c.actions[hash] = ActionRecord{
			LastStart:        rec.LastStart,
			LastEnd:          rec.LastEnd,
			InputSetDigest:   digest,
			AdditionalInputs: rec.Additional,
		}
	case "file":
		if rec.Tombstone {
			delete(c.files, rec.Path)
			return
		}
		var gen ActionHash
		decodeHashHex(rec.GeneratedBy, gen[:])
		c.files[rec.Path] = FileRecord{LastSeen: rec.LastSeen, GeneratedBy: gen}
	}
}

// decodeHashHex decodes a hex-encoded hash string into dst, leaving dst
// zeroed on malformed input (a corrupt log entry should not panic a
// replay).
func decodeHashHex(s string, dst []byte) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(dst) {
		return
	}
	copy(dst, b)
}

func (c *jsonlCache) appendLocked(rec jsonlRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = c.f.Write(b)
	return err
}

func (c *jsonlCache) SchemaVersion() int { return schemaVersion }

func (c *jsonlCache) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = make(map[ActionHash]ActionRecord)
	c.files = make(map[string]FileRecord)
	if err := c.f.Truncate(0); err != nil {
		return err
	}
	_, err := c.f.Seek(0, 0)
	return err
}

func (c *jsonlCache) ForgetAction(hash ActionHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.actions, hash)
	_ = c.appendLocked(jsonlRecord{Kind: "action", Tombstone: true, ActionHash: hex.EncodeToString(hash[:])})
}

func (c *jsonlCache) ForgetFile(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, path)
	_ = c.appendLocked(jsonlRecord{Kind: "file", Tombstone: true, Path: path})
}

func (c *jsonlCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f.Close()
}

func (c *jsonlCache) BeginRead() (Reader, error) {
	c.mu.Lock()
	return &jsonlReader{c: c}, nil
}

func (c *jsonlCache) BeginWrite() (Writer, error) {
	c.mu.Lock()
	return &jsonlWriter{
		jsonlReader: jsonlReader{c: c},
		actionPuts:  make(map[ActionHash]*ActionRecord),
		filePuts:    make(map[string]*FileRecord),
	}, nil
}

type jsonlReader struct {
	c      *jsonlCache
	closed bool
}

func (r *jsonlReader) GetAction(hash ActionHash) (*ActionRecord, bool) {
	rec, ok := r.c.actions[hash]
	if !ok {
		return nil, false
	}
	cp := rec
	return &cp, true
}

func (r *jsonlReader) GetFile(path string) (*FileRecord, bool) {
	rec, ok := r.c.files[path]
	if !ok {
		return nil, false
	}
	cp := rec
	return &cp, true
}

func (r *jsonlReader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.c.mu.Unlock()
}

// jsonlWriter buffers pending changes locally (a nil map entry marks an
// invalidation) so a dropped writer never mutates c.actions/c.files or
// appends to the log — only Commit does, matching the "dropping an
// uncommitted writer discards pending changes" contract in §4.4.
type jsonlWriter struct {
	jsonlReader
	actionPuts map[ActionHash]*ActionRecord
	filePuts   map[string]*FileRecord
}

func (w *jsonlWriter) GetAction(hash ActionHash) (*ActionRecord, bool) {
	if rec, ok := w.actionPuts[hash]; ok {
		if rec == nil {
			return nil, false
		}
		cp := *rec
		return &cp, true
	}
	return w.jsonlReader.GetAction(hash)
}

func (w *jsonlWriter) GetFile(path string) (*FileRecord, bool) {
	if rec, ok := w.filePuts[path]; ok {
		if rec == nil {
			return nil, false
		}
		cp := *rec
		return &cp, true
	}
	return w.jsonlReader.GetFile(path)
}

func (w *jsonlWriter) SetAction(hash ActionHash, rec ActionRecord) {
	cp := rec
	w.actionPuts[hash] = &cp
}

func (w *jsonlWriter) InvalidateAction(hash ActionHash) {
	w.actionPuts[hash] = nil
}

func (w *jsonlWriter) SetFile(path string, rec FileRecord) {
	cp := rec
	w.filePuts[path] = &cp
}

func (w *jsonlWriter) InvalidateFile(path string) {
	w.filePuts[path] = nil
}

func (w *jsonlWriter) Commit() error {
	if w.closed {
		return nil
	}
	for hash, rec := range w.actionPuts {
		if rec == nil {
			delete(w.c.actions, hash)
			if err := w.c.appendLocked(jsonlRecord{Kind: "action", Tombstone: true, ActionHash: hex.EncodeToString(hash[:])}); err != nil {
				w.Close()
				return err
			}
			continue
		}
		w.c.actions[hash] = *rec
		err := w.c.appendLocked(jsonlRecord{
			Kind: "action", ActionHash: hex.EncodeToString(hash[:]),
			LastStart: rec.LastStart, LastEnd: rec.LastEnd,
			InputDigest: hex.EncodeToString(rec.InputSetDigest[:]), Additional: rec.AdditionalInputs,
		})
		if err != nil {
			w.Close()
			return err
		}
	}
	for path, rec := range w.filePuts {
		if rec == nil {
			delete(w.c.files, path)
			if err := w.c.appendLocked(jsonlRecord{Kind: "file", Tombstone: true, Path: path}); err != nil {
				w.Close()
				return err
			}
			continue
		}
		w.c.files[path] = *rec
		err := w.c.appendLocked(jsonlRecord{
			Kind: "file", Path: path,
			LastSeen: rec.LastSeen, GeneratedBy: hex.EncodeToString(rec.GeneratedBy[:]),
		})
		if err != nil {
			w.Close()
			return err
		}
	}
	w.Close()
	return nil
}
