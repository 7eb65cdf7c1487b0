package trace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# a small run
memcheck-trace v1.2.0

malloc 0x10000 16            # undefined
malloc 0x20000 16 zeroed
store 0x20000 8 le 0xff00
load 0x20000 4 be
check 0x10000 4
noaccess 0x30000 64
undefined 0x30000 32
defined 0x30000 8
stack-push 0x7f000 32
stack-pop 0x7f020 32
free 0x10000 16
`

func TestParse(t *testing.T) {
	tr, err := Parse("sample.trace", strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "sample.trace", tr.Name)
	assert.Equal(t, "v1.2.0", tr.Version)
	require.Len(t, tr.Events, 11)

	assert.Equal(t, Event{Op: OpMalloc, Line: 4, Addr: 0x10000, Size: 16}, tr.Events[0])
	assert.True(t, tr.Events[1].Zeroed)
	assert.Equal(t, Event{Op: OpStore, Line: 6, Addr: 0x20000, Size: 8, VBits: 0xff00}, tr.Events[2])
	assert.Equal(t, Event{Op: OpLoad, Line: 7, Addr: 0x20000, Size: 4, BigEndian: true}, tr.Events[3])
	assert.Equal(t, OpCheck, tr.Events[4].Op)
	assert.Equal(t, OpStackPush, tr.Events[8].Op)
	assert.Equal(t, uintptr(0x7f020), tr.Events[9].Addr)
	assert.Equal(t, OpFree, tr.Events[10].Op)
}

func TestParse_StoreFrom(t *testing.T) {
	tr, err := Parse("t", strings.NewReader("memcheck-trace v1.0.0\nstore 0x20008 4 be 0xff from=0x10000\n"))
	require.NoError(t, err)
	require.Len(t, tr.Events, 1)

	assert.Equal(t, Event{
		Op: OpStore, Line: 2, Addr: 0x20008, Size: 4, BigEndian: true, VBits: 0xff,
		From: 0x10000, HasFrom: true,
	}, tr.Events[0])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
		col   int
		msg   string
	}{
		{"empty", "", 1, 1, "missing trace header"},
		{"no header", "malloc 0x0 1\n", 1, 1, "expected trace header"},
		{"header arity", "memcheck-trace\n", 1, 1, "exactly one version"},
		{"bad version", "memcheck-trace 1.0\n", 1, 16, "invalid trace version"},
		{"future major", "memcheck-trace v2.0.0\n", 1, 16, "unsupported trace version v2.0.0"},
		{"unknown op", "memcheck-trace v1.0.0\nleak 0x0 1\n", 2, 1, "unknown event"},
		{"arity", "memcheck-trace v1.0.0\nfree 0x0\n", 2, 1, "free takes 2 operands, got 1"},
		{"extra operand", "memcheck-trace v1.0.0\nfree 0x0 1 2\n", 2, 12, "free takes 2 operands, got 3"},
		{"bad number", "memcheck-trace v1.0.0\ndefined 0xzz 1\n", 2, 9, "bad number"},
		{"bad width", "memcheck-trace v1.0.0\nload 0x0 3 le\n", 2, 10, "load size must be 1, 2, 4 or 8"},
		{"bad endian", "memcheck-trace v1.0.0\nload 0x0 4 middle\n", 2, 12, "expected le or be"},
		{"wide vbits", "memcheck-trace v1.0.0\nstore 0x0 1 le 0x100\n", 2, 16, "do not fit in 1 bytes"},
		{"bad malloc flag", "memcheck-trace v1.0.0\nmalloc 0x0 8 dirty\n", 2, 14, "expected zeroed"},
		{"bad store source", "memcheck-trace v1.0.0\nstore 0x0 1 le 0x1 0x10\n", 2, 20, "expected from=ADDR"},
		{"bad store address", "memcheck-trace v1.0.0\nstore 0x0 1 le 0x1 from=x\n", 2, 25, "bad number"},
		{"load source", "memcheck-trace v1.0.0\nload 0x0 1 le from=0x10\n", 2, 15, "load takes 3 operands, got 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("t", strings.NewReader(tt.input))
			require.Error(t, err)

			var te *Error
			require.True(t, errors.As(err, &te), "got %T: %v", err, err)
			assert.Equal(t, "t", te.File)
			assert.Equal(t, tt.line, te.Line)
			assert.Equal(t, tt.col, te.Column)
			assert.Contains(t, te.Message, tt.msg)
		})
	}
}

func TestError_Format(t *testing.T) {
	e := &Error{File: "a.trace", Line: 3, Column: 7, Message: "bad number \"x\""}
	assert.Equal(t, `a.trace:3:7: bad number "x"`, e.Error())

	e.Suggestion = "Use decimal or 0x-prefixed hex"
	assert.Equal(t, "a.trace:3:7: bad number \"x\"\n\nSuggestion: Use decimal or 0x-prefixed hex", e.Error())
}

func TestSplit(t *testing.T) {
	got := split("  store\t0x10 8  # trailing")
	assert.Equal(t, []field{{"store", 3}, {"0x10", 9}, {"8", 14}}, got)
	assert.Empty(t, split("# only a comment"))
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.trace")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	tr, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, tr.Name)
	assert.Len(t, tr.Events, 11)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.trace"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "stack-push", OpStackPush.String())
	assert.Equal(t, "Op(99)", Op(99).String())
}
