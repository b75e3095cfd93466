package ina226

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBounds(t *testing.T) {
	var r Registry
	for id := 0; id < MaxUnits; id++ {
		d, err := r.Unit(id)
		require.NoError(t, err)
		assert.False(t, d.Initialized())
		assert.Zero(t, d.Address())
		assert.Zero(t, d.CurrentLSB())
		assert.Zero(t, d.Calibration())
		assert.Zero(t, d.PowerLSB())
	}
	for _, id := range []int{-1, MaxUnits, 255} {
		_, err := r.Unit(id)
		assert.ErrorIs(t, err, ErrUnitOutOfRange, "id %d", id)
	}
	_, err := r.ready(0)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestRegistryPopulate(t *testing.T) {
	var r Registry
	d, err := r.Unit(2)
	require.NoError(t, err)
	d.populate(0x41, Calibration{CurrentLSB: 10, Coefficient: 20, PowerLSB: 250})

	got, err := r.ready(2)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x41), got.Address())
	assert.Equal(t, uint16(20), got.Calibration())
	assert.Equal(t, ModeContinuousBoth, got.Mode())
}
