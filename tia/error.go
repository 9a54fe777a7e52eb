package tia

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// TwoLevelError 内层求解返回的误差分量
// 全部为可累加的平方和，由外层在开方前统一归一化
type TwoLevelError struct {
	XErrorSum    float64 // 解修正量加权平方和
	QErrorSum    float64 // 电荷修正量加权平方和
	XErrorSumM1  float64 // 降一阶估计
	XErrorSumM2  float64 // 降两阶估计
	XErrorSumP1  float64 // 升一阶估计
	Q1HistorySum float64 // 电荷历史项
	InnerSize    int     // 内层未知量个数
}

// Add 按分量累加
func (e TwoLevelError) Add(o TwoLevelError) TwoLevelError {
	return TwoLevelError{
		XErrorSum:    e.XErrorSum + o.XErrorSum,
		QErrorSum:    e.QErrorSum + o.QErrorSum,
		XErrorSumM1:  e.XErrorSumM1 + o.XErrorSumM1,
		XErrorSumM2:  e.XErrorSumM2 + o.XErrorSumM2,
		XErrorSumP1:  e.XErrorSumP1 + o.XErrorSumP1,
		Q1HistorySum: e.Q1HistorySum + o.Q1HistorySum,
		InnerSize:    e.InnerSize + o.InnerSize,
	}
}

// PartialSum 加权平方和 Σ(x/w)²，即 WRMS 范数平方乘以长度
func PartialSum(x, w []float64) float64 {
	if len(x) != len(w) {
		panic("tia: 向量长度不一致")
	}
	if len(x) == 0 {
		return 0
	}
	r := make([]float64, len(x))
	floats.DivTo(r, x, w)
	return floats.Dot(r, r)
}

// ErrorWeights 误差权重 reltol*|x|+abstol
func ErrorWeights(x []float64, relTol, absTol float64) []float64 {
	w := make([]float64, len(x))
	for i, v := range x {
		w[i] = relTol*math.Abs(v) + absTol
	}
	return w
}

// NewTwoLevelError 由修正量构造误差报告
// dx 为解修正量，dq 为电荷修正量（可为空），x 为当前解
func NewTwoLevelError(dx, dq, x []float64, relTol, absTol float64) TwoLevelError {
	w := ErrorWeights(x, relTol, absTol)
	e := TwoLevelError{XErrorSum: PartialSum(dx, w), InnerSize: len(dx)}
	if len(dq) == len(dx) {
		e.QErrorSum = PartialSum(dq, w)
	} else {
		e.QErrorSum = e.XErrorSum
	}
	return e
}

// ErrorNorm 合并外层与内层解误差后的 WRMS 范数
// upperSum 为外层平方和，upperSize 为外层长度
func ErrorNorm(upperSum float64, upperSize int, inner TwoLevelError) float64 {
	return wrms(upperSum+inner.XErrorSum, upperSize+inner.InnerSize)
}

// QErrorNorm 合并外层与内层电荷误差后的 WRMS 范数
func QErrorNorm(upperSum float64, upperSize int, inner TwoLevelError) float64 {
	return wrms(upperSum+inner.QErrorSum, upperSize+inner.InnerSize)
}

// StepNorm 步长控制使用的误差范数，解误差与电荷误差各占一半
func StepNorm(upperX, upperQ float64, upperSize int, inner TwoLevelError) float64 {
	x := ErrorNorm(upperX, upperSize, inner)
	q := QErrorNorm(upperQ, upperSize, inner)
	return math.Sqrt(0.5*x*x + 0.5*q*q)
}

func wrms(sum float64, size int) float64 {
	if size == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(size))
}

// Accumulator 收集多个内层求解的误差报告
// Total 与报告顺序无关，结果逐位一致
type Accumulator struct {
	reports []TwoLevelError
	failed  bool
}

// Report 记录一份报告，任一失败即整个组合步失败
func (a *Accumulator) Report(e TwoLevelError, ok bool) {
	a.reports = append(a.reports, e)
	if !ok {
		a.failed = true
	}
}

// Failed 是否有内层失败
func (a *Accumulator) Failed() bool { return a.failed }

// Len 报告数量
func (a *Accumulator) Len() int { return len(a.reports) }

// Reset 清空
func (a *Accumulator) Reset() {
	a.reports = a.reports[:0]
	a.failed = false
}

// Total 各分量按排序后的顺序求和
func (a *Accumulator) Total() TwoLevelError {
	field := func(get func(TwoLevelError) float64) float64 {
		v := make([]float64, len(a.reports))
		for i, r := range a.reports {
			v[i] = get(r)
		}
		slices.Sort(v)
		var s float64
		for _, x := range v {
			s += x
		}
		return s
	}
	var size int
	for _, r := range a.reports {
		size += r.InnerSize
	}
	return TwoLevelError{
		XErrorSum:    field(func(e TwoLevelError) float64 { return e.XErrorSum }),
		QErrorSum:    field(func(e TwoLevelError) float64 { return e.QErrorSum }),
		XErrorSumM1:  field(func(e TwoLevelError) float64 { return e.XErrorSumM1 }),
		XErrorSumM2:  field(func(e TwoLevelError) float64 { return e.XErrorSumM2 }),
		XErrorSumP1:  field(func(e TwoLevelError) float64 { return e.XErrorSumP1 }),
		Q1HistorySum: field(func(e TwoLevelError) float64 { return e.Q1HistorySum }),
		InnerSize:    size,
	}
}
