package detector

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kolkov/memcheck/internal/memcheck/otag"
	"github.com/kolkov/memcheck/internal/memcheck/stackdepot"
)

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected string
	}{
		{KindAddress, "addr"},
		{KindValue, "value"},
		{KindCond, "cond"},
		{KindUser, "user"},
		{ErrorKind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.expected {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", tt.kind, got, tt.expected)
		}
	}
}

func TestNewReport_DeduplicationKey(t *testing.T) {
	r := newReport(KindAddress, 0x40000, 4, 8)
	if want := "addr:0x40000:4:8"; r.DeduplicationKey != want {
		t.Errorf("DeduplicationKey = %q, want %q", r.DeduplicationKey, want)
	}

	other := newReport(KindAddress, 0x40000, 8, 8)
	if other.DeduplicationKey == r.DeduplicationKey {
		t.Error("reports of different sizes share a key")
	}
}

func TestReport_Headlines(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{"read", Report{Kind: KindAddress, Size: 4}, "Invalid read of size 4"},
		{"write", Report{Kind: KindAddress, Size: 2, IsWrite: true}, "Invalid write of size 2"},
		{"value", Report{Kind: KindValue, Size: 8}, "Use of uninitialised value of size 8"},
		{"cond", Report{Kind: KindCond}, "Conditional jump or move depends on uninitialised value(s)"},
		{"user addr", Report{Kind: KindUser, IsAddrErr: true}, "Unaddressable byte(s) found during client check request"},
		{"user value", Report{Kind: KindUser}, "Uninitialised byte(s) found during client check request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.headline(); got != tt.want {
				t.Errorf("headline() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReport_FormatAddressError(t *testing.T) {
	r := newReport(KindAddress, 0x40000, 4, 0)
	out := r.String()

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	want := []string{
		"==================",
		"Invalid read of size 4",
		" Address 0x0000000000040000 is not addressable",
		"==================",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestReport_FormatWithOrigin(t *testing.T) {
	depot := stackdepot.New()
	where := depot.Capture(0)
	alloc := depot.Capture(0)

	r := newReport(KindValue, 0, 8, where)
	r.Origin = otag.New(alloc, otag.KindHeap)

	var buf bytes.Buffer
	r.Format(&buf, depot)
	out := buf.String()

	if !strings.Contains(out, "Use of uninitialised value of size 8") {
		t.Errorf("missing headline:\n%s", out)
	}
	if !strings.Contains(out, "Uninitialised value was created by a heap allocation") {
		t.Errorf("missing origin line:\n%s", out)
	}
	if n := strings.Count(out, "TestReport_FormatWithOrigin"); n != 2 {
		t.Errorf("expected both stacks to name the test, found %d:\n%s", n, out)
	}
}

func TestOriginLine(t *testing.T) {
	tests := []struct {
		kind otag.Kind
		want string
	}{
		{otag.KindHeap, "heap allocation"},
		{otag.KindStack, "stack allocation"},
		{otag.KindUser, "client request"},
	}
	for _, tt := range tests {
		if got := originLine(otag.New(4, tt.kind)); !strings.HasSuffix(got, tt.want) {
			t.Errorf("originLine(%v) = %q, want suffix %q", tt.kind, got, tt.want)
		}
	}
}

func TestCaptureStack_DropsInternalFrames(t *testing.T) {
	depot := stackdepot.New()
	ecu := captureStack(depot, 0)

	out := depot.Lookup(ecu).FormatStack()
	if !strings.Contains(out, "TestCaptureStack_DropsInternalFrames") {
		t.Errorf("test frame missing:\n%s", out)
	}
	if strings.Contains(out, "captureStack") {
		t.Errorf("internal frame kept:\n%s", out)
	}
}

func TestIsInternalFrame(t *testing.T) {
	tests := []struct {
		function string
		want     bool
	}{
		{"runtime.goexit", true},
		{"github.com/kolkov/memcheck/internal/memcheck/shadowmem.(*ShadowMemory).LoadV32", true},
		{"github.com/kolkov/memcheck/internal/memcheck/detector.(*Detector).AddressError", true},
		{"github.com/kolkov/memcheck/internal/memcheck/detector.TestSomething", false},
		{"github.com/kolkov/memcheck/internal/memcheck/detector.TestSomething.func1", false},
		{"github.com/kolkov/memcheck.MakeDefined", true},
		{"github.com/kolkov/memcheck_test.ExampleMakeDefined", false},
		{"main.main", false},
	}
	for _, tt := range tests {
		if got := isInternalFrame(tt.function); got != tt.want {
			t.Errorf("isInternalFrame(%q) = %v, want %v", tt.function, got, tt.want)
		}
	}
}
