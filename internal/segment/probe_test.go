package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStreamPIDHex(t *testing.T) {
	pid, ok := parseStreamPID("0x101")
	assert.True(t, ok)
	assert.Equal(t, 0x101, pid)
}

func TestParseStreamPIDDecimal(t *testing.T) {
	pid, ok := parseStreamPID("257")
	assert.True(t, ok)
	assert.Equal(t, 257, pid)
}

func TestParseStreamPIDEmpty(t *testing.T) {
	_, ok := parseStreamPID("")
	assert.False(t, ok)
}

func TestParseStreamPIDInvalid(t *testing.T) {
	_, ok := parseStreamPID("not-a-pid")
	assert.False(t, ok)
}

func TestRoundFloat(t *testing.T) {
	assert.Equal(t, int64(6), roundFloat(5.9))
	assert.Equal(t, int64(6), roundFloat(6.0))
	assert.Equal(t, int64(6), roundFloat(6.4))
}
