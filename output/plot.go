package output

import (
	"fmt"
	"io"
	"math"

	"anacore/anp"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Plot 静态图片输出，每次绘制一条曲线的全部列
type Plot struct {
	*Record
	Curve  int    // 曲线序号
	Format string // png、svg 或 pdf
	Width  vg.Length
	Height vg.Length
}

// Render 绘制并写出图片
func (p Plot) Render(w io.Writer) error {
	if p.Curve < 0 || p.Curve >= len(p.Curves) {
		return errors.Errorf("曲线序号越界: %d", p.Curve)
	}
	cv := p.Curves[p.Curve]
	pl := plot.New()
	pl.Title.Text = cv.Kind.String()
	if cv.System != "" {
		pl.Title.Text += " " + cv.System
	}
	pl.X.Label.Text = cv.Axis
	if cv.Axis == "freq" && positive(cv.X) {
		pl.X.Scale = plot.LogScale{}
		pl.X.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	pl.Add(plotter.NewGrid())
	charts := Charts{Record: p.Record}
	for i := 0; i < cv.Columns(); i++ {
		pts := points(cv.X, cv.Column(i))
		if len(pts) == 0 {
			continue
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "第 %d 列绘制失败", i)
		}
		l.Color = plotutil.Color(i)
		pl.Add(l)
		pl.Legend.Add(charts.columnName(cv, i), l)
	}
	width, height := p.Width, p.Height
	if width == 0 {
		width = 6 * vg.Inch
	}
	if height == 0 {
		height = 4 * vg.Inch
	}
	format := p.Format
	if format == "" {
		format = "png"
	}
	wt, err := pl.WriterTo(width, height, format)
	if err != nil {
		return errors.Wrap(err, "图片格式不支持")
	}
	_, err = wt.WriteTo(w)
	return err
}

// Name 默认文件名
func (p Plot) Name() string {
	cv := p.Curves[p.Curve]
	name := fmt.Sprintf("%02d_%s", p.Curve, cv.Kind)
	if cv.Kind != anp.KindStep && cv.Outer >= 0 {
		name += fmt.Sprintf("_%d", cv.Outer)
	}
	if cv.System != "" {
		name += "_" + cv.System
	}
	format := p.Format
	if format == "" {
		format = "png"
	}
	return name + "." + format
}

// points 去掉非有限值后的坐标点
func points(x, y []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(x))
	for i := range x {
		if i >= len(y) || !finite(x[i]) || !finite(y[i]) {
			continue
		}
		pts = append(pts, plotter.XY{X: x[i], Y: y[i]})
	}
	return pts
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func positive(xs []float64) bool {
	for _, x := range xs {
		if x <= 0 {
			return false
		}
	}
	return len(xs) > 0
}
