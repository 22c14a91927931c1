package live

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teslashibe/go-ledlink/pkg/protocol"
)

func TestStride(t *testing.T) {
	tests := []struct {
		total, limit, want int
	}{
		{0, 256, 1},
		{1, 256, 1},
		{256, 256, 1},
		{257, 256, 2},
		{512, 256, 2},
		{513, 256, 3},
		{1024, 1024, 1},
		{4096, 1024, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Stride(tt.total, tt.limit), "total=%d limit=%d", tt.total, tt.limit)
	}
}

func TestSampleBounds(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 7, 10, 256, 1024} {
		for total := 0; total < 6000; total++ {
			l := Plan(total, 0, 0, false, limit)
			if l.Samples > limit {
				t.Fatalf("total=%d limit=%d: %d samples over cap", total, limit, l.Samples)
			}
			if total >= limit && 2*l.Samples < limit {
				t.Fatalf("total=%d limit=%d: only %d samples", total, limit, l.Samples)
			}
			if l.Samples*l.Stride > total {
				t.Fatalf("total=%d limit=%d: samples read past the end", total, limit)
			}
		}
	}
}

func TestPlanEmpty(t *testing.T) {
	l := Plan(0, 0, 0, false, 256)
	assert.Equal(t, 1, l.Stride)
	assert.Equal(t, 0, l.Samples)
	assert.Equal(t, 2, l.Size())
	assert.Empty(t, l.Indexes())
}

func TestPlanMatrix(t *testing.T) {
	tests := []struct {
		name          string
		w, h, limit   int
		version       uint8
		hw, hh        uint8
		skip, samples int
	}{
		{"fits", 16, 16, 256, protocol.LiveVersionMatrix, 16, 16, 0, 256},
		{"half", 32, 32, 256, protocol.LiveVersionMatrix, 16, 16, 1, 256},
		{"quarter", 64, 64, 256, protocol.LiveVersionMatrix, 16, 16, 3, 256},
		{"odd quarter", 33, 33, 256, protocol.LiveVersionMatrix, 8, 8, 3, 217},
		{"wide", 300, 1, 256, protocol.LiveVersionMatrix, 150, 0, 1, 150},
		{"truncated byte", 600, 1, 1024, protocol.LiveVersionMatrix, 88, 1, 0, 600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Plan(tt.w*tt.h, tt.w, tt.h, true, tt.limit)
			assert.Equal(t, tt.version, l.Header.Version)
			assert.Equal(t, tt.hw, l.Header.Width)
			assert.Equal(t, tt.hh, l.Header.Height)
			assert.Equal(t, tt.skip, l.SkipLines)
			assert.Equal(t, tt.samples, l.Samples)
			assert.Equal(t, 4+3*tt.samples, l.Size())
			assert.Len(t, l.Indexes(), tt.samples)
		})
	}
}

func TestPlanZeroWidthMatrixIsLinear(t *testing.T) {
	l := Plan(100, 0, 5, true, 256)
	assert.Equal(t, uint8(protocol.LiveVersionLinear), l.Header.Version)
	assert.Equal(t, 2+3*100, l.Size())
}

func TestRowSkip(t *testing.T) {
	tests := []struct {
		name        string
		w, h, limit int
		want        []int
	}{
		{"half", 8, 4, 8, []int{0, 4, 16, 20, 32, 36, 48, 52}},
		{"quarter", 10, 10, 16, []int{0, 7, 44, 81, 88, 125, 162, 169, 206, 243, 280, 287, 324, 361}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Plan(tt.w*tt.h, tt.w, tt.h, true, tt.limit)
			assert.Equal(t, tt.want, l.Indexes())
		})
	}
}

func TestRowSkipIndexesIncrease(t *testing.T) {
	for w := 1; w <= 70; w++ {
		for h := 1; h <= 70; h += 3 {
			l := Plan(w*h, w, h, true, 64)
			idx := l.Indexes()
			for k := 1; k < len(idx); k++ {
				if idx[k] <= idx[k-1] {
					t.Fatalf("%dx%d: index %d not increasing (%d after %d)", w, h, k, idx[k], idx[k-1])
				}
			}
		}
	}
}

func TestChannelMath(t *testing.T) {
	assert.Equal(t, uint8(255), qadd8(200, 100))
	assert.Equal(t, uint8(30), qadd8(10, 20))
	assert.Equal(t, uint8(255), scale8(255, 255))
	assert.Equal(t, uint8(0), scale8(255, 0))
	assert.Equal(t, uint8(128), scale8(255, 128))
	assert.Equal(t, uint8(55), scale8(110, 128))
}
