package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	defer SetLevel(LevelInfo)

	var buf bytes.Buffer
	l := NewWriterLogger("test", &buf)

	SetLevel(LevelWarn)
	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[test] [WARN] shown 2")
}

func TestWithSubComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("agent", &buf).With("session")
	l.Errorf("oops")
	assert.Contains(t, buf.String(), "[agent.session] [ERROR] oops")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}
