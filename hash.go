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
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// ActionHash is a 128-bit fingerprint of an action's method and declared
// outputs (§3). Independent of FileId assignment and input identities.
type ActionHash [16]byte

// InputHash is a 128-bit order-independent fingerprint of an action's
// input multiset (§3).
type InputHash [16]byte

// hash128 derives 128 bits from data by hashing it twice with distinct
// domain-separation prefixes and concatenating the two 64-bit digests
// big-endian. xxhash itself only exposes a 64-bit digest (cespare/xxhash
// has no public seeded variant), so two differently-salted passes stand
// in for a single 128-bit primitive.
func hash128(data []byte) [16]byte {
	var out [16]byte
	h1 := xxhash.Sum64(data)
	var salted []byte
	salted = append(salted, "forge-hash-lane-2\x00"...)
	salted = append(salted, data...)
	h2 := xxhash.Sum64(salted)
	binary.BigEndian.PutUint64(out[0:8], h1)
	binary.BigEndian.PutUint64(out[8:16], h2)
	return out
}

// hashAction computes the ActionHash of action id within graph, per the
// byte layout mandated by spec.md §4.2: method-kind tag, method payload,
// literal "out\0" separator, then each declared output path (NUL
// terminated) in declared order.
func hashAction(g *BuildGraph, id ActionId) ActionHash {
	a := g.Action(id)
	var buf []byte
	switch m := a.Method.(type) {
	case Subcommand:
		buf = append(buf, "subcmd\x00"...)
		buf = append(buf, m.Executable...)
		buf = append(buf, 0)
		for _, arg := range m.Args {
			buf = append(buf, arg...)
			buf = append(buf, 0)
		}
	case Callback:
		buf = append(buf, "callback\x00"...)
		buf = append(buf, m.Name...)
	case Phony:
		buf = append(buf, "phony\x00"...)
	default:
		panic("forge: unknown Method implementation")
	}
	buf = append(buf, "out\x00"...)
	for _, out := range a.Outs {
		buf = append(buf, g.PathFor(out)...)
		buf = append(buf, 0)
	}
	return ActionHash(hash128(buf))
}

// hashInputSet computes the InputHash of action id: an order-independent
// accumulator over the declared inputs union the declared outputs of
// direct dependencies (§4.2). The accumulator tracks (sum mod 2^128,
// xor, count) of per-element 128-bit hashes of the paths, so adding,
// removing, or repeating an element perturbs the final digest while
// reordering the elements or renumbering their ids does not.
func hashInputSet(g *BuildGraph, id ActionId) InputHash {
	var sumHi, sumLo, xorHi, xorLo uint64
	var count uint64

	accumulate := func(path string) {
		var salted []byte
		salted = append(salted, "forge-input-elem\x00"...)
		salted = append(salted, path...)
		h := hash128(salted)
		hi := binary.BigEndian.Uint64(h[0:8])
		lo := binary.BigEndian.Uint64(h[8:16])

		xorHi ^= hi
		xorLo ^= lo

		newLo, carry := bits64Add(sumLo, lo)
		sumLo = newLo
		newHi, _ := bits64Add(sumHi, hi)
		newHi, _ = bits64Add(newHi, carry)
		sumHi = newHi

		count++
	}

	a := g.Action(id)
	for _, in := range a.Ins {
		accumulate(g.PathFor(in))
	}
	for _, dep := range g.DependenciesOf(id) {
		for _, out := range g.Action(dep).Outs {
			accumulate(g.PathFor(out))
		}
	}

	var final []byte
	final = append(final, "forge-input-digest\x00"...)
	final = binary.BigEndian.AppendUint64(final, sumHi)
	final = binary.BigEndian.AppendUint64(final, sumLo)
	final = binary.BigEndian.AppendUint64(final, xorHi)
	final = binary.BigEndian.AppendUint64(final, xorLo)
	final = binary.BigEndian.AppendUint64(final, count)
	return InputHash(hash128(final))
}

// bits64Add adds two uint64s and returns the result plus the carry-out
// (0 or 1), implementing the "sum mod 2^128" half of the accumulator as
// two chained 64-bit additions.
func bits64Add(a, b uint64) (sum uint64, carry uint64) {
	sum = a + b
	if sum < a {
		carry = 1
	}
	return sum, carry
}
