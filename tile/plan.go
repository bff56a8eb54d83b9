// Package tile computes how to split a capture resolution across multiple
// hardware encoder instances when no single instance can encode it directly.
// The resulting grid is carried on the wire in MTIL StreamHello frames.
package tile

// Caps describes one hardware encoder candidate: its maximum supported
// dimensions and a direct-support check (encoders often reject sizes below
// their maximum because of alignment or level constraints).
type Caps interface {
	CodecID() byte
	MaxWidth() int
	MaxHeight() int
	Supports(width, height int) bool
}

// StaticCaps is a fixed-bounds Caps implementation: a size is supported iff
// both dimensions are within the maximums and 16-aligned.
type StaticCaps struct {
	Codec byte
	MaxW  int
	MaxH  int
}

// CodecID returns the candidate's codec identifier.
func (c StaticCaps) CodecID() byte { return c.Codec }

// MaxWidth returns the maximum encodable width.
func (c StaticCaps) MaxWidth() int { return c.MaxW }

// MaxHeight returns the maximum encodable height.
func (c StaticCaps) MaxHeight() int { return c.MaxH }

// Supports reports whether the encoder can encode width×height directly.
func (c StaticCaps) Supports(width, height int) bool {
	return width > 0 && height > 0 &&
		width <= c.MaxW && height <= c.MaxH &&
		width%16 == 0 && height%16 == 0
}

// Plan is a tile grid covering a target resolution: tilesX*tilesY tiles of
// tileW×tileH pixels, derived from one encoder candidate's capability bounds.
type Plan struct {
	CodecID byte
	TilesX  int
	TilesY  int
	TileW   int
	TileH   int

	// Capability bounds of the chosen encoder, kept for diagnostics and
	// for re-planning when the target changes.
	CapW int
	CapH int
}

// TileCount returns the total number of tiles in the grid.
func (p *Plan) TileCount() int {
	return p.TilesX * p.TilesY
}

const (
	// safetyPercent shrinks a candidate's maximums before dividing, leaving
	// headroom for encoder-internal padding.
	safetyPercent = 95

	// maxGrowRetries bounds the grow-and-recompute loop so a pathological
	// Supports implementation cannot spin forever.
	maxGrowRetries = 12
)

// Compute returns nil when some candidate supports the target directly (no
// tiling needed). Otherwise it derives a grid for every candidate that
// converges and returns the one from the candidate with the largest raw
// capability area. Returns nil as well if no candidate converges.
func Compute(targetW, targetH int, candidates []Caps) *Plan {
	if targetW <= 0 || targetH <= 0 {
		return nil
	}

	for _, c := range candidates {
		if c.Supports(targetW, targetH) {
			return nil
		}
	}

	var best *Plan
	bestArea := 0
	for _, c := range candidates {
		plan := derive(targetW, targetH, c)
		if plan == nil {
			continue
		}
		area := c.MaxWidth() * c.MaxHeight()
		if area > bestArea {
			best = plan
			bestArea = area
		}
	}
	return best
}

// derive computes a grid for one candidate, growing the bottleneck axis when
// the resulting tile size is still unsupported. Returns nil if the grid does
// not converge within maxGrowRetries.
func derive(targetW, targetH int, c Caps) *Plan {
	safeW := c.MaxWidth() * safetyPercent / 100
	safeH := c.MaxHeight() * safetyPercent / 100
	if safeW <= 0 || safeH <= 0 {
		return nil
	}

	tilesX := ceilDiv(targetW, safeW)
	tilesY := ceilDiv(targetH, safeH)
	// Bias toward vertical splitting: portrait captures are the common case
	// and two stacked tiles keep each encoder in its comfort zone.
	if tilesY < 2 {
		tilesY = 2
	}

	for i := 0; i < maxGrowRetries; i++ {
		tileW := align16(ceilDiv(targetW, tilesX))
		tileH := align16(ceilDiv(targetH, tilesY))

		if c.Supports(tileW, tileH) {
			return &Plan{
				CodecID: c.CodecID(),
				TilesX:  tilesX,
				TilesY:  tilesY,
				TileW:   tileW,
				TileH:   tileH,
				CapW:    c.MaxWidth(),
				CapH:    c.MaxHeight(),
			}
		}

		switch {
		case tileW > c.MaxWidth():
			tilesX++
		case tileH > c.MaxHeight():
			tilesY++
		default:
			// Within bounds but still rejected; keep splitting vertically.
			tilesY++
		}
	}
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func align16(v int) int {
	return (v + 15) &^ 15
}
