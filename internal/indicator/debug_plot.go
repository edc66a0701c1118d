package indicator

import (
	"errors"
	"fmt"
	"image/color"
	"os"

	"github.com/gamma-omg/cycle-trader/internal/market"
	"github.com/pplcc/plotext"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var palette = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
	color.RGBA{R: 148, G: 103, B: 189, A: 255},
}

type DebugPlot struct {
	plots   []*plot.Plot
	heights []float64
	w       int
	h       int
}

func NewDebugPlot(w, h int) *DebugPlot {
	return &DebugPlot{w: w, h: h}
}

func (d *DebugPlot) Add(p *plot.Plot, height float64) {
	d.plots = append(d.plots, p)
	d.heights = append(d.heights, height)
}

// AddSeries adds a panel with the close price and the given derived columns.
// Undefined rows are left out of the lines.
func (d *DebugPlot) AddSeries(s *market.Series, title string, height float64, columns ...string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02\n15:04"}

	bars := s.Bars()
	closes := make(plotter.XYs, len(bars))
	for i, b := range bars {
		c, _ := b.Close.Float64()
		closes[i] = plotter.XY{X: float64(b.Time.Unix()), Y: c}
	}

	if err := addLine(p, "close", closes, 0); err != nil {
		return err
	}

	for n, name := range columns {
		col, ok := s.Column(name)
		if !ok {
			return fmt.Errorf("column %s not found", name)
		}

		var pts plotter.XYs
		for i, v := range col {
			if v.IsSome() {
				pts = append(pts, plotter.XY{X: float64(bars[i].Time.Unix()), Y: v.Unwrap()})
			}
		}
		if len(pts) == 0 {
			continue
		}

		if err := addLine(p, name, pts, n+1); err != nil {
			return err
		}
	}

	d.Add(p, height)
	return nil
}

func addLine(p *plot.Plot, name string, pts plotter.XYs, idx int) error {
	l, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to create %s line: %w", name, err)
	}

	l.Color = palette[idx%len(palette)]
	p.Add(l)
	p.Legend.Add(name, l)
	return nil
}

func (d *DebugPlot) Save(path string) (err error) {
	if len(d.plots) == 0 {
		return errors.New("nothing to plot")
	}

	var axis []*plot.Axis
	for _, p := range d.plots {
		axis = append(axis, &p.X)
	}
	plotext.UniteAxisRanges(axis)

	tbl := plotext.Table{
		RowHeights: d.heights,
		ColWidths:  []float64{1},
	}

	var plots2d [][]*plot.Plot
	for _, p := range d.plots {
		plots2d = append(plots2d, []*plot.Plot{p})
	}

	h := 0.0
	for _, v := range d.heights {
		h += v * float64(d.h)
	}

	img := vgimg.New(vg.Points(float64(d.w)), vg.Points(h))
	dc := draw.New(img)

	canvases := tbl.Align(plots2d, dc)
	for i, p := range d.plots {
		p.Draw(canvases[i][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close plot file: %w", cerr))
		}
	}()

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write plot to file: %w", err)
	}

	return nil
}
