// Package locate turns per-sensor RSSI readings into attacker position
// estimates: a log-distance path-loss model converts signal strength to
// range, and three ranges are trilaterated by linearising the circle
// equations against the first reference.
package locate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Epsilon is the determinant magnitude below which three references are
// treated as collinear.
const Epsilon = 1e-9

// ErrIndeterminate is returned when the references do not fix a point.
var ErrIndeterminate = errors.New("references are collinear")

// Point is a planar position in metres.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Dist is the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

func (p Point) String() string { return fmt.Sprintf("(%.3f, %.3f)", p.X, p.Y) }

// Reference is a sensor position with its estimated range to the target.
type Reference struct {
	Point `json:",inline" yaml:",inline"`
	R     float64 `json:"r" yaml:"r"`
}

// Trilaterate solves
//
//	[2(x2-x1) 2(y2-y1)] [x]   [r1²-r2²-x1²+x2²-y1²+y2²]
//	[2(x3-x1) 2(y3-y1)] [y] = [r1²-r3²-x1²+x3²-y1²+y3²]
//
// The system has a unique solution whenever the references are not
// collinear, even if the three circles do not meet.
func Trilaterate(a, b, c Reference) (Point, error) {
	A := mat.NewDense(2, 2, []float64{
		2 * (b.X - a.X), 2 * (b.Y - a.Y),
		2 * (c.X - a.X), 2 * (c.Y - a.Y),
	})
	if math.Abs(mat.Det(A)) < Epsilon {
		return Point{}, ErrIndeterminate
	}
	rhs := mat.NewVecDense(2, []float64{
		a.R*a.R - b.R*b.R - a.X*a.X + b.X*b.X - a.Y*a.Y + b.Y*b.Y,
		a.R*a.R - c.R*c.R - a.X*a.X + c.X*c.X - a.Y*a.Y + c.Y*c.Y,
	})
	var x mat.VecDense
	if err := x.SolveVec(A, rhs); err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrIndeterminate, err)
	}
	return Point{X: x.AtVec(0), Y: x.AtVec(1)}, nil
}
