package locate

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

const circleSegments = 96

var (
	sensorColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	expectedColor = color.RGBA{G: 160, A: 255}
	estimateColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Plot renders the sensors, their range circles, the surveyed position and
// the estimate to path. The image format follows the file extension.
func Plot(r TrialResult, path string) error {
	p := plot.New()
	p.Title.Text = r.Trial.Name
	if r.Status == StatusOK {
		p.Title.Text += fmt.Sprintf(" (error %.3f m)", r.Error)
	}
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	sensors := make(plotter.XYs, len(r.Trial.Sensors))
	for i, s := range r.Trial.Sensors {
		sensors[i] = plotter.XY{X: s.X, Y: s.Y}

		circle, err := plotter.NewLine(circleXYs(s))
		if err != nil {
			return fmt.Errorf("range circle: %w", err)
		}
		circle.Color = sensorColor
		circle.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
		p.Add(circle)
	}

	if err := addPoints(p, "sensors", sensors, sensorColor, draw.BoxGlyph{}); err != nil {
		return err
	}
	exp := plotter.XYs{{X: r.Trial.Expected.X, Y: r.Trial.Expected.Y}}
	if err := addPoints(p, "expected", exp, expectedColor, draw.CircleGlyph{}); err != nil {
		return err
	}
	if r.Status == StatusOK {
		est := plotter.XYs{{X: r.Estimate.X, Y: r.Estimate.Y}}
		if err := addPoints(p, "estimate", est, estimateColor, draw.CrossGlyph{}); err != nil {
			return err
		}
	}

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

func addPoints(p *plot.Plot, label string, xys plotter.XYs, c color.Color, shape draw.GlyphDrawer) error {
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("%s scatter: %w", label, err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Shape = shape
	s.GlyphStyle.Radius = vg.Points(4)
	p.Add(s)
	p.Legend.Add(label, s)
	return nil
}

func circleXYs(ref Reference) plotter.XYs {
	xys := make(plotter.XYs, circleSegments+1)
	for i := range xys {
		theta := 2 * math.Pi * float64(i) / circleSegments
		xys[i] = plotter.XY{X: ref.X + ref.R*math.Cos(theta), Y: ref.Y + ref.R*math.Sin(theta)}
	}
	return xys
}
