package rpctrace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallDirectionArrows(t *testing.T) {
	out := Call(true, "peer1", "Foo.Bar", "req")
	assert.Contains(t, out, ">>>")
	assert.Contains(t, out, "peer1")
	assert.Contains(t, out, "Foo.Bar")

	in := Call(false, "peer1", "Foo.Bar", "resp")
	assert.Contains(t, in, "<<<")
}

func TestBufferTruncatesLongPayloads(t *testing.T) {
	long := strings.Repeat("x", maxBufferLen+50)
	out := Buffer(long)
	assert.True(t, len(out) < len(long))
	assert.Contains(t, out, "truncated")
}
