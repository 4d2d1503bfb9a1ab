package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSensorResponse(t *testing.T) {
	cases := []struct {
		name     string
		line     string
		wantTemp float64
		wantHum  float64
		wantErr  bool
	}{
		{"typical", "T:71.60,H:45.20", 71.60, 45.20, false},
		{"trailing cr", "T:68.00,H:50.00\r", 68.00, 50.00, false},
		{"cold reading", "T:-10.50,H:30.00", -10.50, 30.00, false},
		{"sentinel low", "T:-999.00,H:-999.00", 0, 0, true},
		{"implausible high", "T:400.00,H:10.00", 0, 0, true},
		{"humidity over range", "T:70.00,H:120.00", 0, 0, true},
		{"garbage", "HELLO", 0, 0, true},
		{"empty", "", 0, 0, true},
		{"partial", "T:70.00", 0, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			temp, hum, err := parseSensorResponse(tc.line)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.wantTemp, temp, 0.001)
			assert.InDelta(t, tc.wantHum, hum, 0.001)
		})
	}
}

func TestInitRequiresAtLeastOnePort(t *testing.T) {
	b := NewSerialBridge("", "", 9600, 2000, "F", nil)
	err := b.Init()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigIncompatible)
}

func TestUnitConversion(t *testing.T) {
	assert.InDelta(t, 0.0, fahrenheitToCelsius(32.0), 0.001)
	assert.InDelta(t, 100.0, fahrenheitToCelsius(212.0), 0.001)
	assert.InDelta(t, 71.6, celsiusToFahrenheit(22.0), 0.001)
}
