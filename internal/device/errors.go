package device

import (
	"fmt"
	"strings"
)

// CompileError reports a shader that failed to compile, keeping the full
// source so generator bugs are diagnosable from the error alone.
type CompileError struct {
	Label      string
	Source     string
	Diagnostic string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("device: compiling %q: %s\n%s", e.Label, e.Diagnostic, AnnotateSource(e.Source))
}

// AnnotateSource prefixes each source line with its 1-based line number,
// matching the line references compilers emit in diagnostics.
func AnnotateSource(source string) string {
	lines := strings.Split(strings.TrimRight(source, "\n"), "\n")
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%4d | %s\n", i+1, l)
	}
	return b.String()
}
