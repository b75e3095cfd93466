package ina226

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAveragingFor(t *testing.T) {
	tests := []struct {
		count uint16
		want  Averaging
	}{
		{0, 0},
		{1, 0},
		{3, 0},
		{4, 1},
		{16, 2},
		{100, 3},
		{128, 4},
		{500, 5},
		{511, 5},
		{512, 6},
		{1023, 6},
		{1024, 7},
		{2000, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AveragingFor(tt.count), "count %d", tt.count)
	}
	assert.Equal(t, uint16(256), AveragingFor(500).Samples())
}

func TestConversionTimeClamp(t *testing.T) {
	assert.Equal(t, ConversionTime(7), ConversionTime(9).clamp())
	assert.Equal(t, ConversionTime(7), ConversionTime(7).clamp())
	assert.Equal(t, ConversionTime(2), ConversionTime(2).clamp())
	assert.Equal(t, 8244*time.Microsecond, ConversionTime(200).Duration())
	assert.Equal(t, 1100*time.Microsecond, ConversionTime(4).Duration())
}

func TestModeProperties(t *testing.T) {
	assert.False(t, Mode(0).Valid())
	assert.False(t, Mode(8).Valid())
	for m := ModeTriggeredShunt; m <= ModeContinuousBoth; m++ {
		assert.True(t, m.Valid(), m.String())
	}
	assert.True(t, ModeTriggeredShunt.Triggered())
	assert.True(t, ModeTriggeredBus.Triggered())
	assert.True(t, ModeTriggeredBoth.Triggered())
	assert.False(t, ModePowerDown.Triggered())
	assert.False(t, ModeContinuousBoth.Triggered())
	assert.False(t, Mode(0).Triggered())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Triggered-Bus ")
	require.NoError(t, err)
	assert.Equal(t, ModeTriggeredBus, m)

	_, err = ParseMode("sometimes")
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, "mode(0x0)", Mode(0).String())
}

func TestConfigurationWord(t *testing.T) {
	c := DecodeConfiguration(configDefault)
	assert.Equal(t, Configuration{
		Mode:                ModeContinuousBoth,
		Averaging:           0,
		BusConversionTime:   4,
		ShuntConversionTime: 4,
	}, c)
	assert.Equal(t, configDefault, c.Word())

	c.Averaging = AveragingFor(16)
	c.Mode = ModeTriggeredShunt
	assert.Equal(t, uint16(0x4521), c.Word())
}

func TestCycleTime(t *testing.T) {
	c := DecodeConfiguration(configDefault)
	assert.Equal(t, 2200*time.Microsecond, c.CycleTime())

	c.Mode = ModeContinuousShunt
	c.Averaging = AveragingFor(4)
	assert.Equal(t, 4400*time.Microsecond, c.CycleTime())

	c.Mode = ModePowerDown
	assert.Equal(t, time.Duration(0), c.CycleTime())
}
