package linsys

import (
	"context"
	"math"
	"slices"
	"strings"

	"anacore/anp"
	"anacore/tia"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// 求解容差
const (
	DefaultRelTol  = 1e-3
	DefaultAbsTol  = 1e-6
	DefaultMaxIter = 100
)

// Circuit 稠密矩阵的参考电路
// 同时实现 anp 的非线性求解、线性系统、降阶与器件接口
type Circuit struct {
	elems   []*Element
	byName  map[string]*Element
	nodes   map[string]NodeID
	names   []string // 按序号排列的节点名
	nvs     int
	ports   []NodeID
	store   *tia.DataStore
	extraBP []float64
	reduced *reduced

	RelTol  float64
	AbsTol  float64
	MaxIter int

	accepted map[anp.Kind]int
	rejected map[anp.Kind]int
}

// New 建立电路，ports 为传递函数输出节点
func New(elems []Element, ports []string) (*Circuit, error) {
	c := &Circuit{
		byName:   make(map[string]*Element, len(elems)),
		nodes:    make(map[string]NodeID),
		RelTol:   DefaultRelTol,
		AbsTol:   DefaultAbsTol,
		MaxIter:  DefaultMaxIter,
		accepted: make(map[anp.Kind]int),
		rejected: make(map[anp.Kind]int),
	}
	for i := range elems {
		e := elems[i]
		e.Name = strings.ToUpper(e.Name)
		if _, dup := c.byName[e.Name]; dup {
			return nil, errors.Errorf("元件重名: %s", e.Name)
		}
		if err := e.validate(); err != nil {
			return nil, err
		}
		e.n1, e.n2 = c.node(e.N1), c.node(e.N2)
		if e.Kind == VSource {
			e.branch = c.nvs
			c.nvs++
		}
		c.elems = append(c.elems, &e)
		c.byName[e.Name] = &e
	}
	if len(c.names) == 0 {
		return nil, errors.New("电路没有非地节点")
	}
	for _, p := range ports {
		id, ok := c.nodes[strings.ToUpper(p)]
		if !ok {
			return nil, errors.Errorf("输出节点不存在: %s", p)
		}
		c.ports = append(c.ports, id)
	}
	c.store = tia.NewDataStore(c.Size())
	return c, nil
}

func (c *Circuit) node(name string) NodeID {
	name = strings.ToUpper(name)
	if name == "0" || name == "GND" {
		return Gnd
	}
	if id, ok := c.nodes[name]; ok {
		return id
	}
	id := NodeID(len(c.names))
	c.nodes[name] = id
	c.names = append(c.names, name)
	return id
}

// Size 未知量个数：节点电压加电压源支路电流
func (c *Circuit) Size() int { return len(c.names) + c.nvs }

// Store 解向量存储
func (c *Circuit) Store() *tia.DataStore { return c.store }

// NodeNames 非地节点名，顺序与解向量一致
func (c *Circuit) NodeNames() []string { return slices.Clone(c.names) }

// Unknowns 解向量各分量名称，节点电压在前，电压源支路电流在后
func (c *Circuit) Unknowns() []string {
	names := make([]string, c.Size())
	copy(names, c.names)
	for _, e := range c.elems {
		if e.Kind == VSource {
			names[len(c.names)+e.branch] = "I(" + e.Name + ")"
		}
	}
	return names
}

// Ports 输出节点数
func (c *Circuit) Ports() int { return len(c.ports) }

// Voltage 当前解中节点电压
func (c *Circuit) Voltage(node string) (float64, bool) {
	id, ok := c.nodes[strings.ToUpper(node)]
	if !ok {
		return 0, false
	}
	return c.store.Curr[id], true
}

// Params 可扫描参数名
func (c *Circuit) Params() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// stampLinear 加盖线性元件
// t 为电源取值时刻，b 为 nil 时只加盖矩阵
func (c *Circuit) stampLinear(g *mat.Dense, b []float64, t float64) {
	s := stamper{a: g, z: b, nodes: len(c.names)}
	for _, e := range c.elems {
		switch e.Kind {
		case Resistor:
			s.admittance(e.n1, e.n2, 1/e.Value)
		case VSource:
			s.voltageSource(e.n1, e.n2, e.branch, e.sourceAt(t))
		case ISource:
			s.currentSource(e.n1, e.n2, e.sourceAt(t))
		}
	}
}

// stampCapacitance 电容矩阵
func (c *Circuit) stampCapacitance(cm *mat.Dense) {
	s := stamper{a: cm, nodes: len(c.names)}
	for _, e := range c.elems {
		if e.Kind == Capacitor {
			s.admittance(e.n1, e.n2, e.Value)
		}
	}
}

// stampDiodes 在 x 处线性化二极管
// vlast 为上一次线性化时各二极管的电压，非空时据此限幅；返回本次所用电压
func (c *Circuit) stampDiodes(g *mat.Dense, b []float64, x, vlast []float64) []float64 {
	s := stamper{a: g, z: b, nodes: len(c.names)}
	var used []float64
	for _, e := range c.elems {
		if e.Kind != Diode {
			continue
		}
		vd := voltage(x, e.n1) - voltage(x, e.n2)
		if vlast != nil {
			vd = e.limit(vd, vlast[len(used)])
		}
		used = append(used, vd)
		gd, ieq := e.companion(vd)
		s.admittance(e.n1, e.n2, gd)
		s.currentSource(e.n1, e.n2, ieq)
	}
	return used
}

func (c *Circuit) matrices() (g, cm *mat.Dense) {
	n := c.Size()
	return mat.NewDense(n, n, nil), mat.NewDense(n, n, nil)
}

// newton 牛顿迭代
// h > 0 时按后向欧拉加入电容伴随项，xprev 为上一时间点的解
func (c *Circuit) newton(ctx context.Context, x0 []float64, t, h float64, xprev []float64) ([]float64, anp.SolveStats, error) {
	var stats anp.SolveStats
	n := c.Size()
	g0, cm := c.matrices()
	b0 := make([]float64, n)
	c.stampLinear(g0, b0, t)
	if h > 0 {
		c.stampCapacitance(cm)
		g0.Apply(func(i, j int, v float64) float64 { return v + cm.At(i, j)/h }, g0)
		hist := mat.NewVecDense(n, nil)
		hist.MulVec(cm, mat.NewVecDense(n, slices.Clone(xprev)))
		floats.AddScaled(b0, 1/h, hist.RawVector().Data)
	}

	x := slices.Clone(x0)
	nonlinear := c.nonlinear()
	var vlast []float64
	a := mat.NewDense(n, n, nil)
	b := make([]float64, n)
	var lu mat.LU
	for iter := 0; iter < c.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		a.Copy(g0)
		copy(b, b0)
		vlast = c.stampDiodes(a, b, x, vlast)
		stats.Jacobians++
		stats.Residuals++

		lu.Factorize(a)
		stats.Factorizations++
		var next mat.VecDense
		stats.LinearSolves++
		if err := lu.SolveVecTo(&next, false, mat.NewVecDense(n, b)); err != nil {
			stats.FailedLinearSolves++
			return nil, stats, errors.Wrap(err, "线性方程组求解失败")
		}
		stats.LinearIters++
		xn := next.RawVector().Data
		if !nonlinear || iter > 0 && c.converged(x, xn) {
			return xn, stats, nil
		}
		x = slices.Clone(xn)
	}
	return nil, stats, errors.Errorf("牛顿迭代 %d 次未收敛", c.MaxIter)
}

func (c *Circuit) nonlinear() bool {
	return slices.ContainsFunc(c.elems, func(e *Element) bool { return e.Kind == Diode })
}

func (c *Circuit) converged(x, xn []float64) bool {
	for i := range x {
		if math.IsNaN(xn[i]) || math.Abs(xn[i]-x[i]) > c.RelTol*math.Max(math.Abs(x[i]), math.Abs(xn[i]))+c.AbsTol {
			return false
		}
	}
	return true
}

// Solve 直流/瞬态单点求解
// 工作点与直流扫描不含电容；瞬态按后向欧拉积分并给出截断误差
func (c *Circuit) Solve(ctx context.Context, p *anp.Point) (anp.Status, error) {
	store := p.Store
	if store == nil {
		store = c.store
	}
	info := p.Info
	tran := info.TransientFlag && !info.DCOPFlag
	h, t := 0.0, info.CurrentTime
	if tran {
		h, t = info.NextTimeStep, info.NextTime
		if h <= 0 {
			return anp.Status{}, errors.Errorf("时间步长无效: %g", h)
		}
	}
	x, stats, err := c.newton(ctx, store.Curr, t, h, store.Curr)
	if err != nil {
		if ctx.Err() != nil {
			return anp.Status{Stats: stats}, ctx.Err()
		}
		return anp.Status{Reason: err, Stats: stats}, nil
	}
	copy(store.Next, x)
	st := anp.Status{Converged: true, Stats: stats}
	if tran && !info.BeginIntegrationFlag && info.CurrTimeStep > 0 {
		e := c.truncationError(x, store.Curr, store.Last, h, info.CurrTimeStep)
		st.XErrorSum, st.QErrorSum, st.Size = e.XErrorSum, e.QErrorSum, e.InnerSize
	}
	return st, nil
}

// truncationError 以线性外推为预测值估计后向欧拉局部截断误差
func (c *Circuit) truncationError(x, curr, last []float64, h, hl float64) tia.TwoLevelError {
	n := len(x)
	dx := make([]float64, n)
	r := h / hl
	w := h / (h + hl)
	for i := range dx {
		pred := curr[i] + r*(curr[i]-last[i])
		dx[i] = w * (x[i] - pred)
	}
	_, cm := c.matrices()
	c.stampCapacitance(cm)
	var dq mat.VecDense
	dq.MulVec(cm, mat.NewVecDense(n, dx))
	return tia.NewTwoLevelError(dx, dq.RawVector().Data, x, c.RelTol, c.AbsTol)
}

// SetParam 设置元件主值
func (c *Circuit) SetParam(name string, v float64) error {
	e, ok := c.byName[strings.ToUpper(name)]
	if !ok {
		return errors.Errorf("参数不存在: %s", name)
	}
	old := e.Value
	e.Value = v
	if err := e.validate(); err != nil {
		e.Value = old
		return err
	}
	return nil
}

// NotifyStepResult 统计各分析的步结果
func (c *Circuit) NotifyStepResult(ok bool, kind anp.Kind) {
	if ok {
		c.accepted[kind]++
	} else {
		c.rejected[kind]++
	}
}

// StepResults 分析类型的接受/拒绝步数
func (c *Circuit) StepResults(kind anp.Kind) (accepted, rejected int) {
	return c.accepted[kind], c.rejected[kind]
}

// AddBreakPoints 附加断点
func (c *Circuit) AddBreakPoints(ts ...float64) { c.extraBP = append(c.extraBP, ts...) }

// BreakPoints 电源跳变时刻与附加断点
func (c *Circuit) BreakPoints() []float64 {
	bp := slices.Clone(c.extraBP)
	for _, e := range c.elems {
		if (e.Kind == VSource || e.Kind == ISource) && e.Delay > 0 {
			bp = append(bp, e.Delay)
		}
	}
	slices.Sort(bp)
	return slices.Compact(bp)
}

// Env 以本电路为全部协作者的分析环境
func (c *Circuit) Env() anp.Env {
	return anp.Env{Solver: c, Linear: c, Reducer: c, Device: c, Store: c.store}
}

// Sensitivity 以有限差分计算第一个输出节点电压对参数的灵敏度
func (c *Circuit) Sensitivity(params ...string) anp.Sensitivity {
	return sensitivity{c: c, params: params}
}

type sensitivity struct {
	c      *Circuit
	params []string
}

func (s sensitivity) Calc(ctx context.Context, p *anp.Point) ([]float64, error) {
	c := s.c
	if len(c.ports) == 0 {
		return nil, errors.New("灵敏度计算需要输出节点")
	}
	store := p.Store
	if store == nil {
		store = c.store
	}
	out := int(c.ports[0])
	base := store.Curr[out]
	t := p.Info.CurrentTime
	res := make([]float64, 0, len(s.params))
	for _, name := range s.params {
		e, ok := c.byName[strings.ToUpper(name)]
		if !ok {
			return nil, errors.Errorf("参数不存在: %s", name)
		}
		old := e.Value
		delta := math.Max(math.Abs(old)*1e-6, 1e-12)
		e.Value = old + delta
		x, _, err := c.newton(ctx, store.Curr, t, 0, nil)
		e.Value = old
		if err != nil {
			return nil, errors.Wrapf(err, "参数 %s 扰动求解失败", name)
		}
		res = append(res, (x[out]-base)/delta)
	}
	return res, nil
}
