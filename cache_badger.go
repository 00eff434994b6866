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
	"bytes"
	"encoding/gob"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// badgerCache is the durable, file-backed Cache implementation (§4.4
// requires at least one). Badger already provides exactly the
// snapshot-read / serialized-write semantics the spec asks for: a
// badger.Txn opened with update=false is a consistent read snapshot, and
// badger serializes all update=true transactions internally, so BeginRead
// and BeginWrite are thin wrappers rather than home-grown locking.
//
// Keys are namespaced with a one-byte prefix ('a' for actions, 'f' for
// files) in a single key space, since badger has no notion of separate
// tables/buckets.
type badgerCache struct {
	db *badger.DB
}

var _ Cache = (*badgerCache)(nil)

const (
	actionKeyPrefix = 'a'
	fileKeyPrefix   = 'f'
)

// OpenBadgerCache opens (creating if necessary) a durable cache rooted at
// dir.
func OpenBadgerCache(dir string) (Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("forge: open badger cache at %s: %w", dir, err)
	}
	return &badgerCache{db: db}, nil
}

func (c *badgerCache) SchemaVersion() int { return schemaVersion }

func (c *badgerCache) Close() error { return c.db.Close() }

func (c *badgerCache) Reset() error {
	return c.db.DropAll()
}

func (c *badgerCache) ForgetAction(hash ActionHash) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(actionKey(hash))
	})
}

func (c *badgerCache) ForgetFile(path string) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fileKey(path))
	})
}

func actionKey(hash ActionHash) []byte {
	key := make([]byte, 0, 17)
	key = append(key, actionKeyPrefix)
	return append(key, hash[:]...)
}

func fileKey(path string) []byte {
	key := make([]byte, 0, len(path)+1)
	key = append(key, fileKeyPrefix)
	return append(key, path...)
}

func encodeGob(v any) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(fmt.Sprintf("forge: gob encode: %v", err))
	}
	return buf.Bytes()
}

func (c *badgerCache) BeginRead() (Reader, error) {
	return &badgerReader{txn: c.db.NewTransaction(false)}, nil
}

func (c *badgerCache) BeginWrite() (Writer, error) {
	return &badgerWriter{badgerReader: badgerReader{txn: c.db.NewTransaction(true)}}, nil
}

type badgerReader struct {
	txn    *badger.Txn
	closed bool
}

func (r *badgerReader) GetAction(hash ActionHash) (*ActionRecord, bool) {
	item, err := r.txn.Get(actionKey(hash))
	if err != nil {
		return nil, false
	}
	var rec ActionRecord
	err = item.Value(func(val []byte) error {
		return gob.NewDecoder(bytes.NewReader(val)).Decode(&rec)
	})
	if err != nil {
		return nil, false
	}
	return &rec, true
}

func (r *badgerReader) GetFile(path string) (*FileRecord, bool) {
	item, err := r.txn.Get(fileKey(path))
	if err != nil {
		return nil, false
	}
	var rec FileRecord
	err = item.Value(func(val []byte) error {
		return gob.NewDecoder(bytes.NewReader(val)).Decode(&rec)
	})
	if err != nil {
		return nil, false
	}
	return &rec, true
}

func (r *badgerReader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.txn.Discard()
}

// badgerWriter buffers the first error any Set/Invalidate call hits (e.g.
// badger.ErrTxnTooBig) and surfaces it from Commit, since the Writer
// interface's mutators are void-returning: there is nowhere else to
// report a mid-transaction failure.
type badgerWriter struct {
	badgerReader
	err error
}

func (w *badgerWriter) SetAction(hash ActionHash, rec ActionRecord) {
	if err := w.txn.Set(actionKey(hash), encodeGob(rec)); err != nil && w.err == nil {
		w.err = fmt.Errorf("forge: cache set action: %w", err)
	}
}

func (w *badgerWriter) InvalidateAction(hash ActionHash) {
	if err := w.txn.Delete(actionKey(hash)); err != nil && w.err == nil {
		w.err = fmt.Errorf("forge: cache invalidate action: %w", err)
	}
}

func (w *badgerWriter) SetFile(path string, rec FileRecord) {
	if err := w.txn.Set(fileKey(path), encodeGob(rec)); err != nil && w.err == nil {
		w.err = fmt.Errorf("forge: cache set file: %w", err)
	}
}

func (w *badgerWriter) InvalidateFile(path string) {
	if err := w.txn.Delete(fileKey(path)); err != nil && w.err == nil {
		w.err = fmt.Errorf("forge: cache invalidate file: %w", err)
	}
}

func (w *badgerWriter) Commit() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		w.txn.Discard()
		return w.err
	}
	return w.txn.Commit()
}
