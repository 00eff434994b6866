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
	"fmt"
	"io"
	"sort"
	"strings"
)

// ParseError reports the line a manifest failed to parse at.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("forge: manifest line %d: %s", e.Line, e.Msg)
}

// rule is a named command template, as declared by a `rule` block.
type rule struct {
	name string
	vars map[string]string // command, description, etc, unexpanded
}

// LoadManifest translates a Ninja-subset build file into b, per the
// front-end contract in spec.md §6: every build statement becomes one
// action, phony rules become Phony actions, and an edge is added from a
// consumer to any action whose declared outputs match one of the
// consumer's declared inputs.
//
// Supported syntax: top-level `name = value` variable bindings (a
// `required_version` binding is checked against Version), `rule
// name` blocks with indented `key = value` bindings (only `command` and
// `description` are meaningful), and `build out1 out2: rulename in1 in2
// | implicit1 || orderonly1` statements, with `$in`/`$out`/`$varname`
// expansion and trailing-`$` line continuation. Variable scoping,
// `pool`, `subninja`/`include`, response files, and `$` escaping beyond
// `$$`/`$ ` are out of scope — this is deliberately a subset, not a
// faithful Ninja-language implementation (see DESIGN.md).
func LoadManifest(r io.Reader, b *Builder) error {
	lines, err := readLogicalLines(r)
	if err != nil {
		return err
	}

	globals := map[string]string{}
	rules := map[string]*rule{"phony": {name: "phony", vars: map[string]string{}}}

	i := 0
	for i < len(lines) {
		ln := lines[i]
		text := strings.TrimRight(ln.text, " \t")
		trimmed := strings.TrimSpace(text)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
			i++
		case strings.HasPrefix(trimmed, "rule "):
			name := strings.TrimSpace(strings.TrimPrefix(trimmed, "rule "))
			if name == "" {
				return &ParseError{Line: ln.num, Msg: "rule statement missing a name"}
			}
			r := &rule{name: name, vars: map[string]string{}}
			rules[name] = r
			i++
			for i < len(lines) && isIndented(lines[i].text) {
				k, v, err := parseBinding(lines[i])
				if err != nil {
					return err
				}
				r.vars[k] = v
				i++
			}
		case strings.HasPrefix(trimmed, "build "):
			i, err = parseBuild(lines, i, b, globals, rules)
			if err != nil {
				return err
			}
		default:
			k, v, err := parseBinding(ln)
			if err != nil {
				return err
			}
			globals[k] = expand(v, nil, globals)
			if k == "required_version" {
				if err := checkRequiredVersion(globals[k]); err != nil {
					return &ParseError{Line: ln.num, Msg: err.Error()}
				}
			}
			i++
		}
	}
	return wireEdges(b)
}

type logicalLine struct {
	text string
	num  int // 1-based line number the statement started on, for errors
}

// readLogicalLines joins lines ending in a bare trailing `$` with the
// next line, the same continuation rule the Ninja lexer uses.
func readLogicalLines(r io.Reader) ([]logicalLine, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	var out []logicalLine
	var cur strings.Builder
	curNum := 0
	n := 0
	for sc.Scan() {
		n++
		raw := sc.Text()
		if curNum == 0 {
			curNum = n
		}
		if strings.HasSuffix(raw, "$") {
			cur.WriteString(strings.TrimSuffix(raw, "$"))
			cur.WriteByte(' ')
			continue
		}
		cur.WriteString(raw)
		out = append(out, logicalLine{text: cur.String(), num: curNum})
		cur.Reset()
		curNum = 0
	}
	if cur.Len() > 0 {
		out = append(out, logicalLine{text: cur.String(), num: curNum})
	}
	return out, sc.Err()
}

func isIndented(s string) bool {
	return strings.HasPrefix(s, " ") || strings.HasPrefix(s, "\t")
}

func parseBinding(ln logicalLine) (string, string, error) {
	trimmed := strings.TrimSpace(ln.text)
	eq := strings.Index(trimmed, "=")
	if eq < 0 {
		return "", "", &ParseError{Line: ln.num, Msg: "expected a 'name = value' binding"}
	}
	name := strings.TrimSpace(trimmed[:eq])
	value := strings.TrimSpace(trimmed[eq+1:])
	if name == "" {
		return "", "", &ParseError{Line: ln.num, Msg: "binding has an empty name"}
	}
	return name, value, nil
}

// parseBuild handles one `build outs: rule ins | implicit || orderonly`
// statement plus any indented per-build bindings that follow it,
// returning the index of the next unconsumed line.
func parseBuild(lines []logicalLine, i int, b *Builder, globals map[string]string, rules map[string]*rule) (int, error) {
	ln := lines[i]
	trimmed := strings.TrimSpace(ln.text)
	rest := strings.TrimPrefix(trimmed, "build ")

	colon := strings.Index(rest, ":")
	if colon < 0 {
		return 0, &ParseError{Line: ln.num, Msg: "build statement missing ':'"}
	}
	outsField := strings.TrimSpace(rest[:colon])
	afterColon := strings.TrimSpace(rest[colon+1:])

	fields := strings.Fields(afterColon)
	if len(fields) == 0 {
		return 0, &ParseError{Line: ln.num, Msg: "build statement missing a rule name"}
	}
	ruleName := fields[0]
	r, ok := rules[ruleName]
	if !ok {
		return 0, &ParseError{Line: ln.num, Msg: fmt.Sprintf("unknown rule %q", ruleName)}
	}

	var ins, implicit, orderOnly []string
	section := &ins
	for _, f := range fields[1:] {
		switch f {
		case "|":
			section = &implicit
			continue
		case "||":
			section = &orderOnly
			continue
		}
		*section = append(*section, f)
	}
	outs := strings.Fields(outsField)
	if len(outs) == 0 {
		return 0, &ParseError{Line: ln.num, Msg: "build statement declares no outputs"}
	}

	i++
	local := map[string]string{}
	for i < len(lines) && isIndented(lines[i].text) {
		k, v, err := parseBinding(lines[i])
		if err != nil {
			return 0, err
		}
		local[k] = v
		i++
	}

	allIns := append(append([]string{}, ins...), implicit...)
	allIns = append(allIns, orderOnly...)

	bindingScope := map[string]string{
		"in":         strings.Join(ins, " "),
		"out":        strings.Join(outs, " "),
		"in_newline": strings.Join(ins, "\n"),
	}
	for k, v := range r.vars {
		bindingScope[k] = expand(v, bindingScope, globals)
	}
	for k, v := range local {
		bindingScope[k] = expand(v, bindingScope, globals)
	}

	var outIds, inIds []FileId
	for _, p := range outs {
		outIds = append(outIds, b.AddFile(p))
	}
	for _, p := range allIns {
		inIds = append(inIds, b.AddFile(p))
	}

	var method Method
	if ruleName == "phony" {
		method = Phony{}
	} else {
		cmd := bindingScope["command"]
		if cmd == "" {
			return 0, &ParseError{Line: ln.num, Msg: fmt.Sprintf("rule %q has no command", ruleName)}
		}
		method = Subcommand{Executable: "/bin/sh", Args: []string{"-c", cmd}}
	}

	b.AddAction(Action{
		Method:      method,
		Ins:         inIds,
		Outs:        outIds,
		Description: bindingScope["description"],
	})
	return i, nil
}

// expand substitutes $in/$out/$name references, $$  and $  escapes. local
// takes precedence over globals; both may be nil.
func expand(s string, local, globals map[string]string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i == len(s)-1 {
			out.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch {
		case next == '$':
			out.WriteByte('$')
			i++
		case next == ' ':
			out.WriteByte(' ')
			i++
		case next == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				out.WriteByte(c)
				continue
			}
			name := s[i+2 : i+2+end]
			out.WriteString(lookupVar(name, local, globals))
			i += 2 + end
		default:
			j := i + 1
			for j < len(s) && isVarByte(s[j]) {
				j++
			}
			name := s[i+1 : j]
			out.WriteString(lookupVar(name, local, globals))
			i = j - 1
		}
	}
	return out.String()
}

func isVarByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func lookupVar(name string, local, globals map[string]string) string {
	if local != nil {
		if v, ok := local[name]; ok {
			return v
		}
	}
	if globals != nil {
		if v, ok := globals[name]; ok {
			return v
		}
	}
	return ""
}

// wireEdges adds the explicit dependency edges the front-end contract
// requires: a consumer depends on any action declaring one of its inputs
// among its outputs (§6). b.actions is scanned directly since this runs
// before Freeze, while the Builder is still mutable.
func wireEdges(b *Builder) error {
	producedBy := make(map[FileId]ActionId, b.arena.len())
	for id, a := range b.actions {
		for _, out := range a.Outs {
			producedBy[out] = ActionId(id)
		}
	}
	// Stable order: iterate actions by id, ins in declared order, so
	// Freeze sees deterministic edge lists regardless of map iteration.
	ids := make([]int, len(b.actions))
	for i := range ids {
		ids[i] = i
	}
	sort.Ints(ids)
	for _, idx := range ids {
		consumer := ActionId(idx)
		for _, in := range b.actions[idx].Ins {
			if producer, ok := producedBy[in]; ok && producer != consumer {
				if err := b.AddEdge(consumer, producer); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
