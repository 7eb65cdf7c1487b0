// Package trace reads memcheck event traces.
//
// A trace is a text file describing the memory events of a program run, one
// per line. The first non-blank line is the header naming the format
// version:
//
//	memcheck-trace v1.0.0
//	malloc 0x10000 16            # heap block, undefined
//	malloc 0x20000 16 zeroed     # heap block, defined
//	store 0x20000 8 le 0x0       # V bits of the stored value, 1 = undefined
//	store 0x20008 4 le 0xff from=0x10000  # origin of the value loaded from 0x10000
//	load 0x20000 4 be
//	check 0x10000 4              # use the loaded value where it must be defined
//	free 0x10000 16
//	noaccess 0x30000 64
//	undefined 0x30000 32
//	defined 0x30000 8
//	stack-push 0x7f000 32        # stack pointer moved down 32 bytes to 0x7f000
//	stack-pop 0x7f020 32         # and back up
//
// Numbers are decimal or 0x-prefixed hex. Text after # is a comment.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Header is the first word of every trace.
const Header = "memcheck-trace"

// SupportedMajor is the trace format major version this package reads.
const SupportedMajor = "v1"

// Op is a trace event type.
type Op int

const (
	OpMalloc Op = iota
	OpFree
	OpStore
	OpLoad
	OpCheck
	OpNoAccess
	OpUndefined
	OpDefined
	OpStackPush
	OpStackPop
)

var opNames = map[string]Op{
	"malloc":     OpMalloc,
	"free":       OpFree,
	"store":      OpStore,
	"load":       OpLoad,
	"check":      OpCheck,
	"noaccess":   OpNoAccess,
	"undefined":  OpUndefined,
	"defined":    OpDefined,
	"stack-push": OpStackPush,
	"stack-pop":  OpStackPop,
}

// String returns the trace keyword of the op.
func (op Op) String() string {
	for name, o := range opNames {
		if o == op {
			return name
		}
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// Event is one parsed trace line.
type Event struct {
	Op   Op
	Line int

	Addr uintptr
	// Size is the access width for loads, stores and checks, and the
	// length of the range otherwise.
	Size uintptr

	BigEndian bool   // Loads and stores.
	VBits     uint64 // Stores.
	Zeroed    bool   // Mallocs.

	// From is the address the stored value was loaded from, when the
	// store names one. Its origin travels with the value.
	From    uintptr
	HasFrom bool
}

// Trace is a parsed trace file.
type Trace struct {
	Name    string
	Version string
	Events  []Event
}

// ParseFile reads the trace at path.
func ParseFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	return Parse(path, f)
}

// Parse reads a trace from r. name is used in error positions.
func Parse(name string, r io.Reader) (*Trace, error) {
	p := &parser{name: name, t: &Trace{Name: name}}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.line++
		fields := split(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		if p.t.Version == "" {
			err = p.header(fields)
		} else {
			err = p.event(fields)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trace %s: %w", name, err)
	}
	if p.t.Version == "" {
		return nil, &Error{
			File:       name,
			Line:       p.line + 1,
			Column:     1,
			Message:    "missing trace header",
			Suggestion: "Start the trace with: " + Header + " v1.0.0",
		}
	}
	return p.t, nil
}

type parser struct {
	name string
	line int
	t    *Trace
}

// field is a token and its 1-indexed column.
type field struct {
	text string
	col  int
}

// split tokenises a line, dropping comments.
func split(line string) []field {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	var fields []field
	start := -1
	for i := 0; i <= len(line); i++ {
		blank := i == len(line) || line[i] == ' ' || line[i] == '\t'
		switch {
		case blank && start >= 0:
			fields = append(fields, field{line[start:i], start + 1})
			start = -1
		case !blank && start < 0:
			start = i
		}
	}
	return fields
}

func (p *parser) header(fields []field) error {
	if fields[0].text != Header {
		return p.errorAt(fields[0], "Start the trace with: "+Header+" v1.0.0",
			"expected trace header, got %q", fields[0].text)
	}
	if len(fields) != 2 {
		return p.errorAt(fields[0], "", "trace header takes exactly one version")
	}
	v := fields[1]
	if !semver.IsValid(v.text) {
		return p.errorAt(v, "Versions look like v1.0.0", "invalid trace version %q", v.text)
	}
	if semver.Major(v.text) != SupportedMajor {
		return p.errorAt(v, "This build reads "+SupportedMajor+".x.y traces",
			"unsupported trace version %s", v.text)
	}
	p.t.Version = v.text
	return nil
}

// arity is the number of operands each op takes, excluding optional ones.
var arity = map[Op]int{
	OpMalloc:    2,
	OpFree:      2,
	OpStore:     4,
	OpLoad:      3,
	OpCheck:     2,
	OpNoAccess:  2,
	OpUndefined: 2,
	OpDefined:   2,
	OpStackPush: 2,
	OpStackPop:  2,
}

func (p *parser) event(fields []field) error {
	op, ok := opNames[fields[0].text]
	if !ok {
		return p.errorAt(fields[0], "", "unknown event %q", fields[0].text)
	}
	args := fields[1:]
	want := arity[op]
	extra := (op == OpMalloc || op == OpStore) && len(args) == want+1
	if len(args) != want && !extra {
		f := fields[0]
		if len(args) > want {
			f = args[want]
		}
		return p.errorAt(f, "", "%s takes %d operands, got %d", op, want, len(args))
	}

	ev := Event{Op: op, Line: p.line}
	var err error
	if ev.Addr, err = p.number(args[0]); err != nil {
		return err
	}
	if ev.Size, err = p.number(args[1]); err != nil {
		return err
	}

	switch op {
	case OpMalloc:
		if extra {
			if args[2].text != "zeroed" {
				return p.errorAt(args[2], "", "expected zeroed, got %q", args[2].text)
			}
			ev.Zeroed = true
		}
	case OpStore, OpLoad, OpCheck:
		if err := p.width(op, args[1], ev.Size); err != nil {
			return err
		}
		if op == OpCheck {
			break
		}
		if ev.BigEndian, err = p.endian(args[2]); err != nil {
			return err
		}
		if op == OpStore {
			v, err := strconv.ParseUint(args[3].text, 0, 64)
			if err != nil || v>>(ev.Size*8-1)>>1 != 0 {
				return p.errorAt(args[3], "", "V bits %q do not fit in %d bytes", args[3].text, ev.Size)
			}
			ev.VBits = v
			if extra {
				if err := p.from(args[4], &ev); err != nil {
					return err
				}
			}
		}
	}

	p.t.Events = append(p.t.Events, ev)
	return nil
}

func (p *parser) from(f field, ev *Event) error {
	text, ok := strings.CutPrefix(f.text, "from=")
	if !ok {
		return p.errorAt(f, "Name the source as from=ADDR", "expected from=ADDR, got %q", f.text)
	}
	a, err := p.number(field{text, f.col + len("from=")})
	if err != nil {
		return err
	}
	ev.From, ev.HasFrom = a, true
	return nil
}

func (p *parser) number(f field) (uintptr, error) {
	v, err := strconv.ParseUint(f.text, 0, strconv.IntSize)
	if err != nil {
		return 0, p.errorAt(f, "Use decimal or 0x-prefixed hex", "bad number %q", f.text)
	}
	return uintptr(v), nil
}

func (p *parser) width(op Op, f field, size uintptr) error {
	switch size {
	case 1, 2, 4, 8:
		return nil
	}
	return p.errorAt(f, "Split wider accesses into several events",
		"%s size must be 1, 2, 4 or 8, got %d", op, size)
}

func (p *parser) endian(f field) (bool, error) {
	switch f.text {
	case "le":
		return false, nil
	case "be":
		return true, nil
	}
	return false, p.errorAt(f, "", "expected le or be, got %q", f.text)
}
