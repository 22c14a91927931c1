package device

import (
	"encoding/json"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Version is reported in the info section.
const Version = "0.3.0"

// Effect identifiers understood by the reference renderer.
const (
	EffectSolid   = 0
	EffectBlink   = 1
	EffectRainbow = 2
)

// Segment is the single segment of the reference strip.
type Segment struct {
	Colors    [3]Color
	Effect    int
	Speed     int
	Intensity int
	Palette   int
}

// Options configures a Strip.
type Options struct {
	Name string

	// Length is used for linear strips. When Width and Height are both
	// set the strip is a matrix and Length is Width*Height.
	Length int
	Width  int
	Height int
}

// Strip is an in-memory LED installation. It implements Engine,
// StateModel and Notifier and is safe for concurrent use.
type Strip struct {
	mu sync.RWMutex

	name    string
	uid     string
	length  int
	width   int
	height  int
	started time.Time

	on         bool
	bri        uint8
	transition int
	seg        Segment

	pixels  []Color
	pending bool

	infoHooks []func(map[string]any)
}

// NewStrip creates a strip that is on, at brightness 128, solid warm white.
func NewStrip(opts Options) *Strip {
	length := opts.Length
	if opts.Width > 0 && opts.Height > 0 {
		length = opts.Width * opts.Height
	} else {
		opts.Width, opts.Height = 0, 0
	}
	if length < 0 {
		length = 0
	}
	name := opts.Name
	if name == "" {
		name = "ledlink"
	}
	s := &Strip{
		name:       name,
		uid:        uuid.New().String(),
		length:     length,
		width:      opts.Width,
		height:     opts.Height,
		started:    time.Now(),
		on:         true,
		bri:        128,
		transition: 7,
		seg: Segment{
			Colors: [3]Color{RGBW(255, 160, 0, 0), RGB(0, 0, 0), RGB(0, 0, 0)},
			Speed:  128, Intensity: 128,
		},
		pixels: make([]Color, length),
	}
	s.renderLocked(s.started)
	return s
}

// OnInfo registers a hook that adds fields to the info section.
func (s *Strip) OnInfo(hook func(info map[string]any)) {
	s.mu.Lock()
	s.infoHooks = append(s.infoHooks, hook)
	s.mu.Unlock()
}

// UID returns the instance identifier reported in info.
func (s *Strip) UID() string {
	return s.uid
}

// Length implements Engine.
func (s *Strip) Length() int {
	return s.length
}

// Matrix implements Engine.
func (s *Strip) Matrix() (int, int, bool) {
	return s.width, s.height, s.width > 0 && s.height > 0
}

// Brightness implements Engine. An off strip reports zero.
func (s *Strip) Brightness() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.on {
		return 0
	}
	return s.bri
}

// PixelColor implements Engine.
func (s *Strip) PixelColor(i int) Color {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.pixels) {
		return 0
	}
	return s.pixels[i]
}

// SetPixel overwrites one pixel until the next Render.
func (s *Strip) SetPixel(i int, c Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= 0 && i < len(s.pixels) {
		s.pixels[i] = c
	}
}

// SetBrightness sets the global brightness without marking an update.
func (s *Strip) SetBrightness(b uint8) {
	s.mu.Lock()
	s.bri = b
	s.mu.Unlock()
}

// Segment returns a copy of the segment settings.
func (s *Strip) Segment() Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seg
}

// UpdatePending implements Notifier.
func (s *Strip) UpdatePending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// ClearUpdatePending implements Notifier.
func (s *Strip) ClearUpdatePending() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

// SerializeState implements StateModel.
func (s *Strip) SerializeState(dst map[string]any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cols := make([]any, 0, len(s.seg.Colors))
	for _, c := range s.seg.Colors {
		cols = append(cols, []any{int(c.R()), int(c.G()), int(c.B()), int(c.W())})
	}
	dst["on"] = s.on
	dst["bri"] = int(s.bri)
	dst["transition"] = s.transition
	dst["seg"] = []any{map[string]any{
		"id":    0,
		"start": 0,
		"stop":  s.length,
		"col":   cols,
		"fx":    s.seg.Effect,
		"sx":    s.seg.Speed,
		"ix":    s.seg.Intensity,
		"pal":   s.seg.Palette,
	}}
}

// SerializeInfo implements StateModel.
func (s *Strip) SerializeInfo(dst map[string]any) {
	s.mu.RLock()
	leds := map[string]any{
		"count": s.length,
		"rgbw":  true,
	}
	if s.width > 0 && s.height > 0 {
		leds["matrix"] = map[string]any{"w": s.width, "h": s.height}
	}
	dst["ver"] = Version
	dst["name"] = s.name
	dst["uid"] = s.uid
	dst["leds"] = leds
	dst["arch"] = runtime.GOARCH
	dst["uptime"] = int(time.Since(s.started).Seconds())
	hooks := s.infoHooks
	s.mu.RUnlock()

	for _, hook := range hooks {
		hook(dst)
	}
}

// DeserializeState implements StateModel. Unknown keys are ignored and
// out-of-range values are clamped.
func (s *Strip) DeserializeState(src map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false

	switch on := src["on"].(type) {
	case bool:
		if on != s.on {
			s.on = on
			changed = true
		}
	case string:
		if on == "t" {
			s.on = !s.on
			changed = true
		}
	}

	if v, ok := toInt(src["bri"]); ok {
		b := uint8(clamp(v, 0, 255))
		if b != s.bri {
			s.bri = b
			changed = true
		}
	}

	if v, ok := toInt(src["transition"]); ok {
		t := clamp(v, 0, 65535)
		if t != s.transition {
			s.transition = t
			changed = true
		}
	}

	var seg map[string]any
	switch v := src["seg"].(type) {
	case map[string]any:
		seg = v
	case []any:
		if len(v) > 0 {
			seg, _ = v[0].(map[string]any)
		}
	}
	if seg != nil && s.applySegment(seg) {
		changed = true
	}

	if changed {
		s.pending = true
	}

	verbose, _ := src["v"].(bool)
	return verbose
}

func (s *Strip) applySegment(seg map[string]any) bool {
	changed := false
	if cols, ok := seg["col"].([]any); ok {
		for slot := 0; slot < len(cols) && slot < len(s.seg.Colors); slot++ {
			ch, ok := cols[slot].([]any)
			if !ok || len(ch) < 3 {
				continue
			}
			var v [4]uint8
			for i := 0; i < len(ch) && i < 4; i++ {
				n, _ := toInt(ch[i])
				v[i] = uint8(clamp(n, 0, 255))
			}
			c := RGBW(v[0], v[1], v[2], v[3])
			if c != s.seg.Colors[slot] {
				s.seg.Colors[slot] = c
				changed = true
			}
		}
	}
	for key, field := range map[string]*int{
		"fx":  &s.seg.Effect,
		"sx":  &s.seg.Speed,
		"ix":  &s.seg.Intensity,
		"pal": &s.seg.Palette,
	} {
		if n, ok := toInt(seg[key]); ok {
			n = clamp(n, 0, 255)
			if n != *field {
				*field = n
				changed = true
			}
		}
	}
	return changed
}

// Render recomputes the pixel buffer for time now.
func (s *Strip) Render(now time.Time) {
	s.mu.Lock()
	s.renderLocked(now)
	s.mu.Unlock()
}

func (s *Strip) renderLocked(now time.Time) {
	ms := now.Sub(s.started).Milliseconds()
	primary, secondary := s.seg.Colors[0], s.seg.Colors[1]

	switch s.seg.Effect {
	case EffectBlink:
		period := int64(2000 - s.seg.Speed*7)
		c := primary
		if (ms/period)%2 == 1 {
			c = secondary
		}
		for i := range s.pixels {
			s.pixels[i] = c
		}
	case EffectRainbow:
		shift := int(ms * int64(s.seg.Speed+1) / 2048)
		n := len(s.pixels)
		for i := range s.pixels {
			s.pixels[i] = wheel(uint8(i*256/max(n, 1) + shift))
		}
	default:
		for i := range s.pixels {
			s.pixels[i] = primary
		}
	}
}

// wheel maps 0-255 onto a red→green→blue→red hue circle.
func wheel(pos uint8) Color {
	switch {
	case pos < 85:
		return RGB(255-pos*3, pos*3, 0)
	case pos < 170:
		pos -= 85
		return RGB(0, 255-pos*3, pos*3)
	default:
		pos -= 170
		return RGB(pos*3, 0, 255-pos*3)
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
