package config

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/memcheck/internal/memcheck/detector"
	"github.com/kolkov/memcheck/internal/memcheck/shadowmem"
)

func TestParse_Defaults(t *testing.T) {
	o, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, Default(), *o)
	assert.Equal(t, shadowmem.LevelUndef, o.Level())
	assert.Equal(t, -1, o.MallocFill)
	assert.Equal(t, -1, o.FreeFill)
}

func TestParse_Levels(t *testing.T) {
	tests := []struct {
		args []string
		want shadowmem.Level
	}{
		{[]string{"--undef-value-errors=no"}, shadowmem.LevelAddrOnly},
		{[]string{"--undef-value-errors=yes"}, shadowmem.LevelUndef},
		{[]string{"--track-origins=yes"}, shadowmem.LevelOrigins},
		{[]string{"--track-origins=yes", "--track-origins=no"}, shadowmem.LevelUndef},
		{[]string{"--undef-value-errors=no", "--undef-value-errors=yes", "--track-origins=yes"}, shadowmem.LevelOrigins},
	}
	for _, tt := range tests {
		o, err := Parse(tt.args)
		require.NoError(t, err, "%v", tt.args)
		assert.Equal(t, tt.want, o.Level(), "%v", tt.args)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"origins without undef", []string{"--undef-value-errors=no", "--track-origins=yes"}, "has no effect"},
		{"bad bool", []string{"--partial-loads-ok=maybe"}, "yes or no"},
		{"unknown flag", []string{"--leak-check=full"}, "leak-check"},
		{"positional", []string{"trace.txt"}, "unexpected argument"},
		{"fill range", []string{"--malloc-fill=0x100"}, "hex byte"},
		{"sanity level", []string{"--sanity-level=3"}, "out of range"},
		{"ocache bits", []string{"--ocache-set-bits=30"}, "out of range"},
		{"range syntax", []string{"--ignore-ranges=0x1000"}, "0xSTART-0xEND"},
		{"range prefix", []string{"--ignore-ranges=1000-0x2000"}, "0x prefix"},
		{"range order", []string{"--ignore-ranges=0x2000-0x1000"}, "end <= start"},
		{"range size", []string{"--ignore-ranges=0x0-0x8000000"}, "suspiciously large"},
		{"too many ranges", []string{"--ignore-ranges=0x0-0x1,0x2-0x3,0x4-0x5,0x6-0x7,0x8-0x9"}, "at most 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.args)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadOption)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestParse_AllOptions(t *testing.T) {
	o, err := Parse([]string{
		"--track-origins=yes",
		"--partial-loads-ok=yes",
		"--ignore-ranges=0x1000-0x2000,0x10000000-0x10001000",
		"--malloc-fill=0xAB",
		"--free-fill=cd",
		"--sanity-level=2",
		"--sanity-interval=50",
		"--verbosity=2",
		"--ocache-set-bits=12",
	})
	require.NoError(t, err)

	assert.True(t, o.PartialLoadsOK)
	assert.Equal(t, []shadowmem.Range{
		{Start: 0x1000, End: 0x2000},
		{Start: 0x10000000, End: 0x10001000},
	}, o.IgnoreRanges)
	assert.Equal(t, 0xAB, o.MallocFill)
	assert.Equal(t, 0xCD, o.FreeFill)
	assert.Equal(t, detector.SanityExpensive, o.SanityLevel)
	assert.Equal(t, uint64(50), o.SanityInterval)
	assert.Equal(t, 12, o.OcacheSetBits)

	cfg := o.ShadowConfig(nil)
	assert.Equal(t, shadowmem.LevelOrigins, cfg.Level)
	assert.True(t, cfg.PartialLoadsOK)
	assert.Len(t, cfg.IgnoreRanges, 2)

	dopts := o.DetectorOptions(nil, &bytes.Buffer{})
	assert.Equal(t, 0xAB, dopts.MallocFill)
	assert.Equal(t, detector.SanityExpensive, dopts.SanityLevel)

	d, err := detector.New(dopts)
	require.NoError(t, err)
	assert.Equal(t, shadowmem.LevelOrigins, d.Shadow().Level())
	assert.True(t, d.Shadow().InIgnoredRange(0x1800))
}

func TestLoad_EnvironmentThenArgs(t *testing.T) {
	t.Setenv(EnvVar, "--track-origins=yes --partial-loads-ok=yes")

	o, err := Load([]string{"--track-origins=no"})
	require.NoError(t, err)

	assert.Equal(t, shadowmem.LevelUndef, o.Level())
	assert.True(t, o.PartialLoadsOK)
}

func TestLoad_BadEnvironment(t *testing.T) {
	t.Setenv(EnvVar, "--bogus")

	_, err := Load(nil)
	assert.ErrorIs(t, err, ErrBadOption)
}

func TestLogger_Verbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		enabled   slog.Level
		disabled  slog.Level
	}{
		{0, slog.LevelWarn, slog.LevelInfo},
		{1, slog.LevelInfo, slog.LevelDebug},
		{2, slog.LevelDebug, slog.LevelDebug - 1},
	}
	for _, tt := range tests {
		o := Default()
		o.Verbosity = tt.verbosity
		l := o.Logger(&bytes.Buffer{})
		assert.True(t, l.Enabled(t.Context(), tt.enabled), "verbosity %d", tt.verbosity)
		assert.False(t, l.Enabled(t.Context(), tt.disabled), "verbosity %d", tt.verbosity)
	}
}

func TestFlagValues_String(t *testing.T) {
	yes := yesNo(true)
	assert.Equal(t, "yes", yes.String())
	assert.Equal(t, "no", (*yesNo)(nil).String())

	f := fillByte(0x0a)
	assert.Equal(t, "0x0a", f.String())
	unset := fillByte(-1)
	assert.Equal(t, "", unset.String())

	l := rangeList{{Start: 0x1000, End: 0x2000}}
	assert.Equal(t, "0x1000-0x2000", l.String())
}
