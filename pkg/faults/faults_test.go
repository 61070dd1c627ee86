package faults

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("unexpected }")
	err := Stage("sass", "compile", "main.scss", cause)

	assert.ErrorIs(t, err, ErrStage)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrIO)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "main.scss", se.File)
	assert.Contains(t, err.Error(), `stage "compile"`)
}

func TestStageKeepsIOErrors(t *testing.T) {
	ioErr := IO("read", "/tmp/x", fs.ErrNotExist)
	err := Stage("js", "source", "", ioErr)

	assert.Same(t, ioErr, err)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestNilPassThrough(t *testing.T) {
	assert.NoError(t, Stage("a", "b", "c", nil))
	assert.NoError(t, IO("read", "x", nil))
}

func TestConfigf(t *testing.T) {
	err := Configf("bad pattern %q", "[")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), `bad pattern "["`)
}
