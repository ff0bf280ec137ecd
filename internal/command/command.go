// Package command implements the typed command model of the protocol
// engine: a generic line, a parsed G-code, or an at-command, each
// carrying an optional dedup type bucket and a set of provenance tags.
//
// Commands are immutable once constructed. The phase pipeline produces
// new commands rather than mutating existing ones.
package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which Command variant a value holds.
type Kind int

const (
	// KindGeneric is a raw line the engine does not interpret.
	KindGeneric Kind = iota
	// KindGcode is a parsed G/M/T line.
	KindGcode
	// KindAtCommand is a host-side "@..." pseudo-command.
	KindAtCommand
)

func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindGcode:
		return "gcode"
	case KindAtCommand:
		return "atcommand"
	default:
		return "unknown"
	}
}

// Command is the immutable value the pipeline, queues and sending loop
// pass around. Use Kind to discriminate which fields are meaningful.
type Command struct {
	kind Kind

	// Generic / wire representation for every kind.
	raw string

	// Gcode fields, valid when kind == KindGcode.
	code    byte // 'G', 'M' or 'T'
	number  int
	subcode *int
	params  map[byte]string

	// AtCommand fields, valid when kind == KindAtCommand.
	name       string
	parameters string

	typ  string
	tags map[string]struct{}
}

// Kind reports which variant this command is.
func (c *Command) Kind() Kind { return c.kind }

// Raw returns the literal text this command was parsed from, or the
// text it would serialize to for commands constructed programmatically.
func (c *Command) Raw() string { return c.raw }

// Type returns the dedup bucket, or "" if the command does not
// participate in type-based dedup.
func (c *Command) Type() string { return c.typ }

// Tags returns the provenance tags attached to this command, sorted
// for determinism.
func (c *Command) Tags() []string {
	if len(c.tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.tags))
	for t := range c.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// HasTag reports whether tag is attached to this command.
func (c *Command) HasTag(tag string) bool {
	_, ok := c.tags[tag]
	return ok
}

// Code returns the G/M/T letter of a Gcode command ('G', 'M' or 'T').
// Meaningless for other kinds.
func (c *Command) Code() byte { return c.code }

// Number returns the numeric part of a Gcode command, e.g. 28 for G28.
func (c *Command) Number() int { return c.number }

// Subcode returns the optional ".N" subcode of a Gcode command, or nil.
func (c *Command) Subcode() *int { return c.subcode }

// Param returns the string value of a Gcode parameter letter (e.g. 'X'),
// and whether it was present.
func (c *Command) Param(letter byte) (string, bool) {
	v, ok := c.params[letter]
	return v, ok
}

// ParamFloat parses a Gcode parameter as a float, returning ok=false if
// absent or unparsable.
func (c *Command) ParamFloat(letter byte) (float64, bool) {
	s, ok := c.Param(letter)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// GcodeName returns "G28", "M110" etc. for a Gcode command.
func (c *Command) GcodeName() string {
	return fmt.Sprintf("%c%d", c.code, c.number)
}

// Name returns the at-command's name (without the leading '@').
func (c *Command) Name() string { return c.name }

// Parameters returns the raw parameter text following an at-command's name.
func (c *Command) Parameters() string { return c.parameters }

// WithType returns a shallow copy of c carrying a different dedup type.
func (c *Command) WithType(typ string) *Command {
	cp := *c
	cp.typ = typ
	return &cp
}

// WithTags returns a shallow copy of c with tags added to its tag set.
func (c *Command) WithTags(tags ...string) *Command {
	cp := *c
	cp.tags = make(map[string]struct{}, len(c.tags)+len(tags))
	for t := range c.tags {
		cp.tags[t] = struct{}{}
	}
	for _, t := range tags {
		cp.tags[t] = struct{}{}
	}
	return &cp
}

func newTagSet(tags []string) map[string]struct{} {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		m[t] = struct{}{}
	}
	return m
}

// NewGeneric builds a Command that wraps an opaque line, untouched by
// Gcode/AtCommand interpretation.
func NewGeneric(line, typ string, tags []string) *Command {
	return &Command{kind: KindGeneric, raw: line, typ: typ, tags: newTagSet(tags)}
}

// NewGcode builds a parsed Gcode command.
func NewGcode(code byte, number int, subcode *int, params map[byte]string, raw, typ string, tags []string) *Command {
	return &Command{
		kind: KindGcode, code: code, number: number, subcode: subcode,
		params: params, raw: raw, typ: typ, tags: newTagSet(tags),
	}
}

// NewAtCommand builds an at-command.
func NewAtCommand(name, parameters, raw, typ string, tags []string) *Command {
	return &Command{kind: KindAtCommand, name: name, parameters: parameters, raw: raw, typ: typ, tags: newTagSet(tags)}
}

// parseGcodeHead parses a leading G/M/T token: letter, integer,
// optional ".subcode".
func parseGcodeHead(token string) (code byte, number int, subcode *int, ok bool) {
	if len(token) < 2 {
		return 0, 0, nil, false
	}
	letter := token[0]
	if letter != 'G' && letter != 'M' && letter != 'T' {
		return 0, 0, nil, false
	}
	rest := token[1:]
	numPart := rest
	var subPart string
	if idx := strings.IndexByte(rest, '.'); idx >= 0 {
		numPart = rest[:idx]
		subPart = rest[idx+1:]
	}
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, 0, nil, false
	}
	if subPart != "" {
		s, err := strconv.Atoi(subPart)
		if err != nil {
			return 0, 0, nil, false
		}
		subcode = &s
	}
	return letter, n, subcode, true
}

// ToCommand constructs the correct Command variant from a raw line.
// Leading/trailing whitespace is trimmed; inline ";" comments are cut.
// An empty line (after comment-stripping) parses to a generic command
// with an empty Raw().
func ToCommand(line, typ string, tags []string) *Command {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, "@") {
		rest := strings.TrimSpace(line[1:])
		name := rest
		var params string
		if idx := strings.IndexAny(rest, " \t"); idx >= 0 {
			name = rest[:idx]
			params = strings.TrimSpace(rest[idx+1:])
		}
		return NewAtCommand(strings.ToLower(name), params, line, typ, tags)
	}

	fields := strings.Fields(line)
	if len(fields) > 0 {
		upperHead := strings.ToUpper(fields[0])
		if code, number, subcode, ok := parseGcodeHead(upperHead); ok {
			params := make(map[byte]string, len(fields)-1)
			for _, f := range fields[1:] {
				if len(f) < 1 {
					continue
				}
				letter := f[0]
				if letter >= 'a' && letter <= 'z' {
					letter -= 'a' - 'A'
				}
				params[letter] = f[1:]
			}
			return NewGcode(code, number, subcode, params, line, typ, tags)
		}
	}
	return NewGeneric(line, typ, tags)
}

// Idempotent wraps an already-constructed Command unchanged, matching
// the factory's idempotent contract for callers that may already hold
// a typed Command.
func Idempotent(c *Command) *Command { return c }
