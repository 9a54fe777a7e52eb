package anp

import (
	"context"
	"io"
	"log/slog"

	"anacore/tia"

	"github.com/pkg/errors"
)

func init() {
	SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeSolver 记录每次调用，按 fail 决定是否收敛
type fakeSolver struct {
	calls   []Point
	curr    [][]float64 // 调用时 Store.Curr 的副本
	fail    func(n int, p *Point) bool
	fatal   func(n int, p *Point) error
	errSize int
	errSum  float64
}

func (f *fakeSolver) Solve(_ context.Context, p *Point) (Status, error) {
	n := len(f.calls)
	f.calls = append(f.calls, *p)
	if p.Store != nil {
		f.curr = append(f.curr, append([]float64(nil), p.Store.Curr...))
	}
	if f.fatal != nil {
		if err := f.fatal(n, p); err != nil {
			return Status{}, err
		}
	}
	if f.fail != nil && f.fail(n, p) {
		return Status{Reason: errors.New("牛顿迭代不收敛"), Stats: SolveStats{Jacobians: 1}}, nil
	}
	if p.Store != nil {
		for i := range p.Store.Next {
			p.Store.Next[i] = float64(n + 1)
		}
	}
	return Status{
		Converged: true,
		Stats:     SolveStats{Jacobians: 1, LinearSolves: 1},
		XErrorSum: f.errSum,
		QErrorSum: f.errSum,
		Size:      f.errSize,
	}, nil
}

// fakeLinear 交流/降阶线性系统
type fakeLinear struct {
	calls []Point
	fail  func(p *Point) bool
}

func (f *fakeLinear) AssembleAndSolve(_ context.Context, p *Point) (Status, error) {
	f.calls = append(f.calls, *p)
	if f.fail != nil && f.fail(p) {
		return Status{Reason: errors.New("矩阵奇异")}, nil
	}
	p.Re = []float64{p.Freq}
	p.Im = []float64{-p.Freq}
	p.Ports = 1
	p.H = []complex128{complex(p.Freq, float64(p.System))}
	return Status{Converged: true, Stats: SolveStats{LinearSolves: 1}}, nil
}

type fakeReducer struct {
	size int
	s0   float64
	err  error
}

func (f *fakeReducer) Reduce(_ context.Context, size int, s0 float64) error {
	f.size, f.s0 = size, s0
	return f.err
}

type paramSet struct {
	Name string
	Val  float64
}

type notify struct {
	OK   bool
	Kind Kind
}

// fakeDevice 记录参数设置和步结果通知
type fakeDevice struct {
	params      []paramSet
	notices     []notify
	breakPoints []float64
}

func (f *fakeDevice) SetParam(name string, v float64) error {
	if name == "BAD" {
		return errors.New("不存在的参数")
	}
	f.params = append(f.params, paramSet{name, v})
	return nil
}

func (f *fakeDevice) NotifyStepResult(ok bool, kind Kind) {
	f.notices = append(f.notices, notify{ok, kind})
}

func (f *fakeDevice) BreakPoints() []float64 { return f.breakPoints }

type failureReport struct {
	Kind   Kind
	Outer  int
	Failed []int
}

// recorder 结果输出
type recorder struct {
	reports  []Report
	failures []failureReport
	onReport func(r Report)
}

func (r *recorder) ReportPoint(rep Report) error {
	r.reports = append(r.reports, rep)
	if r.onReport != nil {
		r.onReport(rep)
	}
	return nil
}

func (r *recorder) ReportFailures(kind Kind, outer int, failed []int) {
	r.failures = append(r.failures, failureReport{kind, outer, failed})
}

// indices 非工作点报告的序号
func (r *recorder) indices() []int {
	out := []int{}
	for _, rep := range r.reports {
		if rep.Index >= 0 {
			out = append(out, rep.Index)
		}
	}
	return out
}

// fakeInner 两级求解内层
type fakeInner struct {
	infos []tia.TimeStepInfo
	fn    func(n int, info tia.TimeStepInfo) (tia.TwoLevelError, bool)
}

func (f *fakeInner) RunStep(_ context.Context, info tia.TimeStepInfo) (tia.TwoLevelError, bool, error) {
	n := len(f.infos)
	f.infos = append(f.infos, info)
	if f.fn == nil {
		return tia.TwoLevelError{InnerSize: 1}, true, nil
	}
	e, ok := f.fn(n, info)
	return e, ok, nil
}

type fakeSens struct{}

func (fakeSens) Calc(_ context.Context, p *Point) ([]float64, error) {
	return []float64{p.Values[0].Val * 2}, nil
}
