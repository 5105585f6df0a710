package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestId_String(t *testing.T) {
	id := Id{IP: "192.168.1.5", Port: 6000}
	assert.Equal(t, "192.168.1.5:6000", id.String())
}

func TestId_Less(t *testing.T) {
	a := Id{IP: "192.168.1.5", Port: 6000}
	b := Id{IP: "192.168.1.9", Port: 6000}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}
