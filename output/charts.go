package output

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"

	"anacore/anp"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// Charts 曲线绘制
type Charts struct {
	*Record
}

var scrollLegend = opts.Legend{
	Type:   "scroll",
	Orient: "vertical",
	Right:  "10",
	Top:    "20",
	Bottom: "20",
}

// Render 格式化
func (c Charts) Render(w io.Writer) error {
	page := components.NewPage()
	page.PageTitle = "仿真结果"
	if len(c.Elements) > 0 {
		page.AddCharts(c.topology())
	}
	for _, cv := range c.Curves {
		page.AddCharts(c.line(cv))
	}
	return page.Render(w)
}

// topology 元件与节点的连接图
func (c Charts) topology() *charts.Graph {
	graph := charts.NewGraph()
	graph.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
		charts.WithTitleOpts(opts.Title{
			Title:    "电路节点信息",
			Subtitle: "电路连接节点网络图",
		}),
		charts.WithLegendOpts(scrollLegend),
	)
	names := make([]string, 0, len(c.Elements))
	for name := range c.Elements {
		names = append(names, name)
	}
	slices.Sort(names)

	nodes := make([]opts.GraphNode, 0, len(names))
	links := make([]opts.GraphLink, 0)
	seen := make(map[string]bool)
	var netNodes []opts.GraphNode
	for _, name := range names {
		nodes = append(nodes, opts.GraphNode{Name: name, Category: 0, Tooltip: &opts.Tooltip{Show: opts.Bool(true)}})
		for pin, n := range c.Elements[name] {
			label := "Node(" + n + ")"
			if !seen[label] {
				seen[label] = true
				netNodes = append(netNodes, opts.GraphNode{Name: label, Category: 1, Tooltip: &opts.Tooltip{Show: opts.Bool(true)}})
			}
			links = append(links, opts.GraphLink{Source: name, Target: label, Value: float32(pin)})
		}
	}
	graph.AddSeries("电路列表", append(nodes, netNodes...), links,
		charts.WithGraphChartOpts(opts.GraphChart{
			Categories: []*opts.GraphCategory{
				{Name: "元件", ItemStyle: &opts.ItemStyle{Color: "#c71979b7"}},
				{Name: "节点", ItemStyle: &opts.ItemStyle{Color: "#1987c7b7"}},
			},
			Roam:               opts.Bool(true),
			Force:              &opts.GraphForce{Repulsion: 80},
			EdgeLabel:          &opts.EdgeLabel{Show: opts.Bool(true)},
			FocusNodeAdjacency: opts.Bool(true),
		}))
	return graph
}

func (c Charts) line(cv *Curve) *charts.Line {
	title := cv.Kind.String()
	if cv.Outer >= 0 {
		title = fmt.Sprintf("%s #%d", title, cv.Outer)
	}
	if cv.System != "" {
		title += " " + cv.System
	}
	sub := cv.Axis
	if len(cv.Failed) > 0 {
		sub = fmt.Sprintf("%s，失败点 %v", sub, cv.Failed)
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: sub}),
		charts.WithLegendOpts(scrollLegend),
		charts.WithXAxisOpts(opts.XAxis{Name: cv.Axis, SplitNumber: 20}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{
			Type:       "inside",
			Start:      0,
			End:        100,
			XAxisIndex: []int{0},
		}),
		charts.WithAnimation(true),
	)
	line.SetXAxis(cv.X)
	for i := 0; i < cv.Columns(); i++ {
		col := cv.Column(i)
		data := make([]opts.LineData, len(col))
		for k, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				data[k].Value = "-"
				continue
			}
			data[k].Value = v
		}
		line.AddSeries(c.columnName(cv, i), data)
	}
	return line
}

// columnName 列名，超出已知名称时按序号命名
func (c Charts) columnName(cv *Curve, i int) string {
	if cv.Kind == anp.KindMOR {
		return fmt.Sprintf("|H%d|", i+1)
	}
	if cv.Kind != anp.KindStep && i < len(c.Names) {
		return c.Names[i]
	}
	return fmt.Sprintf("%d", i)
}

// Handler 发布到网页面
func (c Charts) Handler(w http.ResponseWriter, _ *http.Request) {
	if err := c.Render(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
