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

import "sync"

// memoryCache is the required in-memory Cache implementation, used by
// tests and by callers that don't want a cache to survive past process
// exit. A single RWMutex stands in for "snapshot read / serialized
// write": BeginRead takes a read lock for the transaction's lifetime,
// BeginWrite takes the write lock, so readers never observe a torn write
// and writers never interleave.
type memoryCache struct {
	mu      sync.RWMutex
	actions map[ActionHash]ActionRecord
	files   map[string]FileRecord
}

var _ Cache = (*memoryCache)(nil)

// NewMemoryCache returns an empty, process-local Cache.
func NewMemoryCache() Cache {
	return &memoryCache{
		actions: make(map[ActionHash]ActionRecord),
		files:   make(map[string]FileRecord),
	}
}

func (c *memoryCache) SchemaVersion() int { return schemaVersion }

func (c *memoryCache) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = make(map[ActionHash]ActionRecord)
	c.files = make(map[string]FileRecord)
	return nil
}

func (c *memoryCache) ForgetAction(hash ActionHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.actions, hash)
}

func (c *memoryCache) ForgetFile(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, path)
}

func (c *memoryCache) Close() error { return nil }

func (c *memoryCache) BeginRead() (Reader, error) {
	c.mu.RLock()
	return &memoryReader{c: c}, nil
}

func (c *memoryCache) BeginWrite() (Writer, error) {
	c.mu.Lock()
	return &memoryWriter{
		c:            c,
		actionPuts:   make(map[ActionHash]*ActionRecord),
		filePuts:     make(map[string]*FileRecord),
	}, nil
}

type memoryReader struct {
	c      *memoryCache
	closed bool
}

func (r *memoryReader) GetAction(hash ActionHash) (*ActionRecord, bool) {
	rec, ok := r.c.actions[hash]
	if !ok {
		return nil, false
	}
	cp := rec
	return &cp, true
}

func (r *memoryReader) GetFile(path string) (*FileRecord, bool) {
	rec, ok := r.c.files[path]
	if !ok {
		return nil, false
	}
	cp := rec
	return &cp, true
}

func (r *memoryReader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.c.mu.RUnlock()
}

// memoryWriter buffers pending changes (nil entries mark invalidation) and
// applies them atomically in Commit, so a dropped writer truly discards
// its pending changes rather than having already mutated shared state.
type memoryWriter struct {
	c      *memoryCache
	closed bool

	actionPuts map[ActionHash]*ActionRecord
	filePuts   map[string]*FileRecord
}

func (w *memoryWriter) GetAction(hash ActionHash) (*ActionRecord, bool) {
	if rec, ok := w.actionPuts[hash]; ok {
		if rec == nil {
			return nil, false
		}
		cp := *rec
		return &cp, true
	}
	rec, ok := w.c.actions[hash]
	if !ok {
		return nil, false
	}
	cp := rec
	return &cp, true
}

func (w *memoryWriter) GetFile(path string) (*FileRecord, bool) {
	if rec, ok := w.filePuts[path]; ok {
		if rec == nil {
			return nil, false
		}
		cp := *rec
		return &cp, true
	}
	rec, ok := w.c.files[path]
	if !ok {
		return nil, false
	}
	cp := rec
	return &cp, true
}

func (w *memoryWriter) SetAction(hash ActionHash, rec ActionRecord) {
	cp := rec
	w.actionPuts[hash] = &cp
}

func (w *memoryWriter) InvalidateAction(hash ActionHash) {
	w.actionPuts[hash] = nil
}

func (w *memoryWriter) SetFile(path string, rec FileRecord) {
	cp := rec
	w.filePuts[path] = &cp
}

func (w *memoryWriter) InvalidateFile(path string) {
	w.filePuts[path] = nil
}

func (w *memoryWriter) Commit() error {
	if w.closed {
		return nil
	}
	for hash, rec := range w.actionPuts {
		if rec == nil {
			delete(w.c.actions, hash)
		} else {
			w.c.actions[hash] = *rec
		}
	}
	for path, rec := range w.filePuts {
		if rec == nil {
			delete(w.c.files, path)
		} else {
			w.c.files[path] = *rec
		}
	}
	w.Close()
	return nil
}

func (w *memoryWriter) Close() {
	if w.closed {
		return
	}
	w.closed = true
	w.c.mu.Unlock()
}
