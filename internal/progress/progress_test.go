package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext_Bands(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 2},
		{28, 30},
		{30, 31},
		{59, 60},
		{60, 60.5},
		{89.5, 90},
		{89.8, 90},
		{90, 90},
		{95, 95},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Next(tt.in), "Next(%v)", tt.in)
	}
}

func TestNext_MonotonicAndCapped(t *testing.T) {
	p := 0.0
	for i := 0; i < 1000; i++ {
		next := Next(p)
		assert.GreaterOrEqual(t, next, p)
		assert.LessOrEqual(t, next, Ceiling)
		p = next
	}
	assert.Equal(t, Ceiling, p)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-3))
	assert.Equal(t, 42.5, Clamp(42.5))
	assert.Equal(t, Complete, Clamp(250))
}
