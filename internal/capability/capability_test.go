package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_Known(t *testing.T) {
	c, ok := Parse("address_generator")
	assert.True(t, ok)
	assert.Equal(t, AddressGenerator, c)
}

func TestParse_Unknown(t *testing.T) {
	_, ok := Parse("bitcoin_miner")
	assert.False(t, ok)
}

func TestAll_ReturnsCopy(t *testing.T) {
	caps := All()
	assert.Len(t, caps, 4)

	caps[0] = "mutated"
	again := All()
	assert.Equal(t, AddressGenerator, again[0])
}
