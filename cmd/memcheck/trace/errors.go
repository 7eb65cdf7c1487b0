package trace

import "fmt"

// Error is a trace parse error with its position in the trace file.
//
//	trace.txt:7:10: store size must be 1, 2, 4 or 8, got 3
//
//	Suggestion: Split wider stores into several events
type Error struct {
	File       string // Trace file name
	Line       int    // Line number (1-indexed)
	Column     int    // Column number (1-indexed)
	Message    string // Error message
	Suggestion string // Optional hint for fixing (empty if none)
}

// Error implements the error interface.
//
// Format: file:line:column: message, followed by the suggestion on its own
// paragraph when there is one.
func (e *Error) Error() string {
	result := fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	if e.Suggestion != "" {
		result += fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion)
	}
	return result
}

// errorAt builds an Error for the token f.
func (p *parser) errorAt(f field, suggestion, format string, args ...any) *Error {
	return &Error{
		File:       p.name,
		Line:       p.line,
		Column:     f.col,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
	}
}
