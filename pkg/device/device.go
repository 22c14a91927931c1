// Package device defines what the control channel needs from the rest of
// the controller (the rendering engine and the state model) and ships an
// in-memory Strip that implements all of it.
package device

// Color is a packed WRGB pixel: 0xWWRRGGBB.
type Color uint32

// RGBW packs four channels into a Color.
func RGBW(r, g, b, w uint8) Color {
	return Color(uint32(w)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// RGB packs a color with no white channel.
func RGB(r, g, b uint8) Color {
	return RGBW(r, g, b, 0)
}

// R returns the red channel.
func (c Color) R() uint8 { return uint8(c >> 16) }

// G returns the green channel.
func (c Color) G() uint8 { return uint8(c >> 8) }

// B returns the blue channel.
func (c Color) B() uint8 { return uint8(c) }

// W returns the white channel.
func (c Color) W() uint8 { return uint8(c >> 24) }

// Engine is a read-only view of the pixel buffer.
type Engine interface {
	// Length is the total pixel count.
	Length() int

	// Matrix returns the 2-D geometry; ok is false for a linear strip.
	Matrix() (width, height int, ok bool)

	// Brightness is the global 0-255 scale.
	Brightness() uint8

	// PixelColor returns pixel i. Out-of-range indexes return black.
	PixelColor(i int) Color
}

// StateModel translates between the JSON document and device state.
type StateModel interface {
	// SerializeState writes the current state into dst.
	SerializeState(dst map[string]any)

	// SerializeInfo writes device information into dst.
	SerializeInfo(dst map[string]any)

	// DeserializeState applies src and reports whether the caller asked
	// for a full reply.
	DeserializeState(src map[string]any) (verbose bool)
}

// Notifier tracks whether a state change still has to be pushed to every
// connected interface.
type Notifier interface {
	UpdatePending() bool
	ClearUpdatePending()
}
