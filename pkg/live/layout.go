package live

import "github.com/teslashibe/go-ledlink/pkg/protocol"

// Layout describes how a pixel buffer is sampled into one frame.
type Layout struct {
	Header protocol.FrameHeader

	// Stride is the index step between samples.
	Stride int

	// Samples is the number of RGB triplets in the frame.
	Samples int

	// Width is the real matrix width used for row skipping (0 when linear).
	Width int

	// SkipLines is how many matrix rows are skipped after each kept row.
	SkipLines int
}

// Size returns the exact frame length in bytes.
func (l Layout) Size() int {
	return protocol.FrameSize(l.Header, l.Samples)
}

// Stride returns ceil(total/limit), or 1 for an empty buffer.
func Stride(total, limit int) int {
	if total <= 0 || limit <= 0 {
		return 1
	}
	return (total-1)/limit + 1
}

// Plan computes the layout for a buffer of total pixels, capped at limit
// samples. A matrix with zero width is treated as a linear strip.
func Plan(total, width, height int, matrix bool, limit int) Layout {
	n := Stride(total, limit)
	l := Layout{
		Header:  protocol.FrameHeader{Version: protocol.LiveVersionLinear},
		Stride:  n,
		Samples: max(total, 0) / n,
	}
	if !matrix || width <= 0 {
		return l
	}

	l.Header.Version = protocol.LiveVersionMatrix
	l.Width = width
	div := 1
	switch {
	case total > 4*limit:
		div, l.SkipLines = 4, 3
	case total > limit:
		div, l.SkipLines = 2, 1
	}
	l.Header.Width = uint8(width / div)
	l.Header.Height = uint8(height / div)
	return l
}

// Indexes returns the pixel index of every sample in order. Indexes may
// run past the end of the buffer; those read as black.
func (l Layout) Indexes() []int {
	out := make([]int, 0, l.Samples)
	l.each(func(i int) { out = append(out, i) })
	return out
}

func (l Layout) each(fn func(i int)) {
	i := 0
	for k := 0; k < l.Samples; k++ {
		if l.SkipLines > 0 && l.Width > 0 && (i/l.Width)%(l.SkipLines+1) != 0 {
			i += l.Width * l.SkipLines
		}
		fn(i)
		i += l.Stride
	}
}

// qadd8 adds with saturation at 255.
func qadd8(a, b uint8) uint8 {
	s := uint16(a) + uint16(b)
	if s > 255 {
		return 255
	}
	return uint8(s)
}

// scale8 scales x by s/256 the way the renderer does, so 255 keeps 255.
func scale8(x, s uint8) uint8 {
	return uint8((uint16(x) * (uint16(s) + 1)) >> 8)
}
