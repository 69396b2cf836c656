package monitoring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Tests here mutate the package logger and must not run in parallel.

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("extracted %d bands", 7)
	assert.Equal(t, "extracted %d bands", got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted") })
}

func TestSetOutput(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var buf bytes.Buffer
	SetOutput(&buf, "[canopy] ")
	Logf("plot %s skipped", "p1")
	assert.Contains(t, buf.String(), "[canopy] ")
	assert.Contains(t, buf.String(), "plot p1 skipped")

	buf.Reset()
	SetOutput(nil, "")
	Logf("dropped")
	assert.Empty(t, buf.String())
}
