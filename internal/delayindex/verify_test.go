package delayindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The membership-combination table is load-bearing for verify: exactly
// these twelve codes describe a healthy index.
func TestConsistentCodeTable(t *testing.T) {
	want := []uint32{1, 4, 6, 7, 16, 18, 19, 24, 25, 28, 30, 31}
	assert.Len(t, consistentCodes, len(want))
	for _, code := range want {
		assert.True(t, consistentCodes[code], "code %d should be consistent", code)
	}
	for _, code := range []uint32{0, 2, 3, 5, 8, 10, 12, 17, 20, 26, 29} {
		assert.False(t, consistentCodes[code], "code %d should be inconsistent", code)
	}
}
