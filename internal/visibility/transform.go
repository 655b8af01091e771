package visibility

import (
	"math"
	"strconv"
	"strings"
)

// Matrix is a 2D affine transformation matrix.
// [ a c e ]
// [ b d f ]
// [ 0 0 1 ]
type Matrix struct {
	A, B, C, D, E, F float64
}

// Identity returns the identity matrix.
func Identity() Matrix {
	return Matrix{A: 1, D: 1}
}

// Multiply combines two matrices (m1 * m2). Order matters.
func (m1 Matrix) Multiply(m2 Matrix) Matrix {
	return Matrix{
		A: m1.A*m2.A + m1.C*m2.B,
		B: m1.B*m2.A + m1.D*m2.B,
		C: m1.A*m2.C + m1.C*m2.D,
		D: m1.B*m2.C + m1.D*m2.D,
		E: m1.A*m2.E + m1.C*m2.F + m1.E,
		F: m1.B*m2.E + m1.D*m2.F + m1.F,
	}
}

// Scale returns the diagonal scale terms a and d of the matrix.
func (m Matrix) Scale() (sx, sy float64) {
	return m.A, m.D
}

// skew returns a skewing matrix. Angles are in radians.
func skew(ax, ay float64) Matrix {
	return Matrix{A: 1, B: math.Tan(ay), C: math.Tan(ax), D: 1}
}

// ParseTransform parses a CSS transform value into one matrix. Lengths in
// translations are taken as pixels; unknown functions and malformed
// arguments leave the running matrix unchanged.
func ParseTransform(value string) Matrix {
	value = strings.TrimSpace(value)
	if value == "" || value == "none" {
		return Identity()
	}

	result := Identity()
	for _, fn := range strings.Split(value, ")") {
		fn = strings.TrimSpace(fn)
		if fn == "" {
			continue
		}
		name, argStr, ok := strings.Cut(fn, "(")
		if !ok {
			continue
		}
		args := parseArgs(argStr)
		if args == nil {
			continue
		}

		current := Identity()
		switch strings.TrimSpace(name) {
		case "matrix":
			if len(args) == 6 {
				current = Matrix{A: args[0], B: args[1], C: args[2], D: args[3], E: args[4], F: args[5]}
			}
		case "scale":
			sx := args[0]
			sy := sx
			if len(args) > 1 {
				sy = args[1]
			}
			current = Matrix{A: sx, D: sy}
		case "scaleX":
			current = Matrix{A: args[0], D: 1}
		case "scaleY":
			current = Matrix{A: 1, D: args[0]}
		case "translate":
			current.E = args[0]
			if len(args) > 1 {
				current.F = args[1]
			}
		case "translateX":
			current.E = args[0]
		case "translateY":
			current.F = args[0]
		case "skew":
			ay := 0.0
			if len(args) > 1 {
				ay = args[1]
			}
			current = skew(args[0], ay)
		case "skewX":
			current = skew(args[0], 0)
		case "skewY":
			current = skew(0, args[0])
		case "rotate":
			sin, cos := math.Sincos(args[0])
			current = Matrix{A: cos, B: sin, C: -sin, D: cos}
		}
		result = result.Multiply(current)
	}
	return result
}

// parseArgs splits a CSS function argument list into numbers. Angles are
// converted to radians and "px" suffixes dropped. It returns nil if any
// argument is not numeric.
func parseArgs(s string) []float64 {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(fields) == 0 {
		return nil
	}
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, ok := parseNumber(f)
		if !ok {
			return nil
		}
		out = append(out, v)
	}
	return out
}

func parseNumber(s string) (float64, bool) {
	unit := 1.0
	switch {
	case strings.HasSuffix(s, "deg"):
		s, unit = strings.TrimSuffix(s, "deg"), math.Pi/180
	case strings.HasSuffix(s, "grad"):
		s, unit = strings.TrimSuffix(s, "grad"), math.Pi/200
	case strings.HasSuffix(s, "rad"):
		s = strings.TrimSuffix(s, "rad")
	case strings.HasSuffix(s, "turn"):
		s, unit = strings.TrimSuffix(s, "turn"), 2*math.Pi
	case strings.HasSuffix(s, "px"):
		s = strings.TrimSuffix(s, "px")
	case strings.HasSuffix(s, "%"):
		s, unit = strings.TrimSuffix(s, "%"), 0.01
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v * unit, true
}
