package output

import (
	"encoding/json"
	"io"
	"math"
	"math/cmplx"

	"anacore/anp"
)

// Curve 同一分析、同一外层点、同一系统的一条结果曲线
type Curve struct {
	Kind   anp.Kind    `json:"kind"`
	Outer  int         `json:"outer"`
	System string      `json:"system,omitempty"`
	Axis   string      `json:"axis"`
	X      []float64   `json:"x"`
	Rows   [][]float64 `json:"rows"`
	Failed []int       `json:"failed,omitempty"`

	Objective [][]float64 `json:"objective,omitempty"` // 灵敏度目标函数值，与 X 对应
}

// Columns 曲线的列数
func (c *Curve) Columns() int {
	n := 0
	for _, r := range c.Rows {
		n = max(n, len(r))
	}
	return n
}

// Column 第 i 列，缺失的点为 NaN
func (c *Curve) Column(i int) []float64 {
	col := make([]float64, len(c.Rows))
	for k, r := range c.Rows {
		if i < len(r) {
			col[k] = r[i]
		} else {
			col[k] = math.NaN()
		}
	}
	return col
}

type curveKey struct {
	kind   anp.Kind
	outer  int
	system anp.System
}

// Record 记录各分析输出的点
type Record struct {
	Names    []string            `json:"names,omitempty"`    // 解向量各列名称
	Elements map[string][]string `json:"elements,omitempty"` // 元件连接的节点
	Curves   []*Curve            `json:"curves"`

	index map[curveKey]*Curve
}

// NewRecord 创建记录，names 为解向量各列名称
func NewRecord(names ...string) *Record {
	return &Record{Names: names, index: make(map[curveKey]*Curve)}
}

func (list *Record) curve(kind anp.Kind, outer int, sys anp.System) *Curve {
	if list.index == nil {
		list.index = make(map[curveKey]*Curve)
	}
	k := curveKey{kind, outer, sys}
	if c, ok := list.index[k]; ok {
		return c
	}
	c := &Curve{Kind: kind, Outer: outer, Axis: axisName(kind)}
	if kind == anp.KindMOR {
		c.System = sys.String()
	}
	list.index[k] = c
	list.Curves = append(list.Curves, c)
	return c
}

func axisName(kind anp.Kind) string {
	switch kind {
	case anp.KindTransient, anp.KindMPDE:
		return "time"
	case anp.KindAC, anp.KindMOR:
		return "freq"
	}
	return "sweep"
}

// ReportPoint 记录一个点
func (list *Record) ReportPoint(r anp.Report) error {
	c := list.curve(r.Kind, r.Outer, r.System)
	var x float64
	var row []float64
	switch r.Kind {
	case anp.KindTransient, anp.KindMPDE:
		x, row = r.Time, r.Solution
	case anp.KindAC:
		x, row = r.Freq, magnitude(r.Re, r.Im)
	case anp.KindMOR:
		x = r.Freq
		row = make([]float64, len(r.H))
		for i, h := range r.H {
			row[i] = cmplx.Abs(h)
		}
	case anp.KindStep:
		row = make([]float64, 0, len(r.Values))
		for _, v := range r.Values {
			row = append(row, v.Val)
		}
		x = float64(r.Index)
	default:
		x, row = first(r), r.Solution
	}
	c.X = append(c.X, x)
	c.Rows = append(c.Rows, append([]float64(nil), row...))
	if len(r.Objective) > 0 {
		c.Objective = append(c.Objective, append([]float64(nil), r.Objective...))
	}
	return nil
}

func first(r anp.Report) float64 {
	if len(r.Values) == 0 {
		return float64(r.Index)
	}
	return r.Values[0].Val
}

func magnitude(re, im []float64) []float64 {
	out := make([]float64, len(re))
	for i := range re {
		if i < len(im) {
			out[i] = math.Hypot(re[i], im[i])
		} else {
			out[i] = math.Abs(re[i])
		}
	}
	return out
}

// ReportFailures 记录失败点，挂在该分析该外层点的第一条曲线上
func (list *Record) ReportFailures(kind anp.Kind, outer int, failed []int) {
	for _, c := range list.Curves {
		if c.Kind == kind && c.Outer == outer {
			c.Failed = append(c.Failed, failed...)
			return
		}
	}
	sys := anp.SystemOriginal
	if kind == anp.KindMOR {
		sys = anp.SystemReduced
	}
	c := list.curve(kind, outer, sys)
	c.Failed = append(c.Failed, failed...)
}

// Render 格式和输出内容
func (list *Record) Render(w io.Writer) error { return json.NewEncoder(w).Encode(list) }
