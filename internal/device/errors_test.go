package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnnotateSource(t *testing.T) {
	got := AnnotateSource("a\nb\nc\n")
	assert.Equal(t, "   1 | a\n   2 | b\n   3 | c\n", got)
}

func TestCompileErrorMessage(t *testing.T) {
	err := &CompileError{
		Label:      "add|wg=16,1,1",
		Source:     "fn main() {\n  oops\n}",
		Diagnostic: "unknown identifier 'oops'",
	}
	msg := err.Error()
	assert.Contains(t, msg, `compiling "add|wg=16,1,1"`)
	assert.Contains(t, msg, "unknown identifier")
	assert.Contains(t, msg, "   2 |   oops")
}
