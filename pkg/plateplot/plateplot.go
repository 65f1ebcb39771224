// Package plateplot draws well positions and the order they are visited in.
package plateplot

import (
	"errors"
	"image/color"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/robocam-suite/robocam/pkg/wellgrid"
)

var ErrNoWells = errors.New("nothing to plot")

var (
	wellColor  = color.RGBA{R: 40, G: 90, B: 200, A: 255}
	routeColor = color.RGBA{R: 220, G: 80, B: 40, A: 255}
	startColor = color.RGBA{R: 30, G: 160, B: 60, A: 255}
)

// Width and Height of saved images.
var (
	Width  = 8 * vg.Inch
	Height = 6 * vg.Inch
)

func xys(wells []wellgrid.Well) plotter.XYs {
	pts := make(plotter.XYs, len(wells))
	for i, w := range wells {
		pts[i] = plotter.XY{X: w.Position.X, Y: w.Position.Y}
	}
	return pts
}

// New plots every well of the plate as a labelled dot and, when route is not
// empty, the path through route with its first well highlighted.
func New(title string, wells, route []wellgrid.Well) (*plot.Plot, error) {
	if len(wells) == 0 {
		return nil, ErrNoWells
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (mm)"
	p.Y.Label.Text = "Y (mm)"
	p.Add(plotter.NewGrid())

	pts := xys(wells)
	dots, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to plot wells")
	}
	dots.GlyphStyle.Color = wellColor
	dots.GlyphStyle.Radius = vg.Points(3)
	dots.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(dots)
	p.Legend.Add("wells", dots)

	labels := make([]string, len(wells))
	for i, w := range wells {
		labels[i] = w.Label
	}
	names, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: labels})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to plot labels")
	}
	names.Offset = vg.Point{X: vg.Points(4), Y: vg.Points(4)}
	p.Add(names)

	if len(route) > 0 {
		line, err := plotter.NewLine(xys(route))
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to plot route")
		}
		line.Color = routeColor
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("route", line)

		start, err := plotter.NewScatter(xys(route[:1]))
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to plot start")
		}
		start.GlyphStyle.Color = startColor
		start.GlyphStyle.Radius = vg.Points(5)
		start.GlyphStyle.Shape = draw.RingGlyph{}
		p.Add(start)
		p.Legend.Add("start ("+route[0].Label+")", start)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

// Save plots wells and route to path. The image format follows the file
// extension: png, jpg, svg, pdf or eps.
func Save(path, title string, wells, route []wellgrid.Well) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".svg", ".pdf", ".eps", ".tif", ".tiff":
	default:
		return pkgerrors.Errorf("unsupported image format %q", filepath.Ext(path))
	}

	p, err := New(title, wells, route)
	if err != nil {
		return err
	}
	if err := p.Save(Width, Height, path); err != nil {
		return pkgerrors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}
