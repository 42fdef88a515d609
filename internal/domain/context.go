package domain

import (
	"strconv"
)

// Context holds auxiliary key/value data attached to a ticket.
type Context map[string]string

const (
	ContextWorld = "world"
	ContextX     = "x"
	ContextY     = "y"
	ContextZ     = "z"
)

// Clone returns a copy that can be changed independently.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Position is the spatial location a ticket was raised at.
type Position struct {
	World string
	X     float64
	Y     float64
	Z     float64
}

// WithPosition returns a copy of c carrying p.
func (c Context) WithPosition(p Position) Context {
	out := c.Clone()
	if out == nil {
		out = Context{}
	}
	out[ContextWorld] = p.World
	out[ContextX] = strconv.FormatFloat(p.X, 'f', -1, 64)
	out[ContextY] = strconv.FormatFloat(p.Y, 'f', -1, 64)
	out[ContextZ] = strconv.FormatFloat(p.Z, 'f', -1, 64)
	return out
}

// Position extracts the stored position. ok is false if any coordinate is missing or malformed.
func (c Context) Position() (Position, bool) {
	world, hasWorld := c[ContextWorld]
	if !hasWorld {
		return Position{}, false
	}
	var coords [3]float64
	for i, key := range []string{ContextX, ContextY, ContextZ} {
		v, err := strconv.ParseFloat(c[key], 64)
		if err != nil {
			return Position{}, false
		}
		coords[i] = v
	}
	return Position{World: world, X: coords[0], Y: coords[1], Z: coords[2]}, true
}
