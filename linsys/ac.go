package linsys

import (
	"context"
	"math"

	"anacore/anp"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const deflationTol = 1e-10

// reduced 降阶模型 Gr x + s Cr x = br u, y = Lrᵀ x
type reduced struct {
	v    *mat.Dense // 投影基
	g, c *mat.Dense
	b    *mat.VecDense
	l    *mat.Dense // 每列对应一个输出
	s0   float64
}

// linearized 在当前工作点线性化的 G、C 与交流激励
func (c *Circuit) linearized() (g, cm *mat.Dense, bac *mat.VecDense) {
	g, cm = c.matrices()
	c.stampLinear(g, nil, 0)
	c.stampDiodes(g, nil, c.store.Curr, nil)
	c.stampCapacitance(cm)
	n := c.Size()
	b := make([]float64, n)
	s := stamper{z: b, nodes: len(c.names)}
	for _, e := range c.elems {
		switch e.Kind {
		case VSource:
			b[len(c.names)+e.branch] = e.AC
		case ISource:
			s.currentSource(e.n1, e.n2, e.AC)
		}
	}
	return g, cm, mat.NewVecDense(n, b)
}

// output 输出选择矩阵，每列选出一个端口电压
func (c *Circuit) output() *mat.Dense {
	if len(c.ports) == 0 {
		return nil
	}
	l := mat.NewDense(c.Size(), len(c.ports), nil)
	for k, p := range c.ports {
		l.Set(int(p), k, 1)
	}
	return l
}

// solveComplex 求解 (G + jωC) x = b，按实数块形式
//
//	[G  -ωC] [xr]   [b]
//	[ωC   G] [xi] = [0]
func solveComplex(g, cm *mat.Dense, b *mat.VecDense, omega float64) (re, im []float64, err error) {
	n, _ := g.Dims()
	a := mat.NewDense(2*n, 2*n, nil)
	a.Slice(0, n, 0, n).(*mat.Dense).Copy(g)
	a.Slice(n, 2*n, n, 2*n).(*mat.Dense).Copy(g)
	a.Slice(0, n, n, 2*n).(*mat.Dense).Scale(-omega, cm)
	a.Slice(n, 2*n, 0, n).(*mat.Dense).Scale(omega, cm)
	rhs := mat.NewVecDense(2*n, nil)
	rhs.SliceVec(0, n).(*mat.VecDense).CopyVec(b)

	var x mat.VecDense
	if err := x.SolveVec(a, rhs); err != nil {
		return nil, nil, errors.Wrapf(err, "ω=%g 时线性系统求解失败", omega)
	}
	d := x.RawVector().Data
	return d[:n], d[n:], nil
}

// transfer 由解向量与输出矩阵计算传递函数
func transfer(l *mat.Dense, re, im []float64) []complex128 {
	if l == nil {
		return nil
	}
	_, k := l.Dims()
	h := make([]complex128, k)
	for j := range h {
		col := mat.Col(nil, j, l)
		h[j] = complex(mat.Dot(mat.NewVecDense(len(col), col), mat.NewVecDense(len(re), re)),
			mat.Dot(mat.NewVecDense(len(col), col), mat.NewVecDense(len(im), im)))
	}
	return h
}

// AssembleAndSolve 组装并求解频率点上的线性系统
// 降阶系统需先调用 Reduce
func (c *Circuit) AssembleAndSolve(ctx context.Context, p *anp.Point) (anp.Status, error) {
	if err := ctx.Err(); err != nil {
		return anp.Status{}, err
	}
	omega := 2 * math.Pi * p.Freq
	var g, cm, l *mat.Dense
	var b *mat.VecDense
	if p.Kind == anp.KindMOR && p.System == anp.SystemReduced {
		if c.reduced == nil {
			return anp.Status{}, errors.New("尚未降阶")
		}
		g, cm, b, l = c.reduced.g, c.reduced.c, c.reduced.b, c.reduced.l
	} else {
		g, cm, b = c.linearized()
		l = c.output()
	}
	stats := anp.SolveStats{Factorizations: 1, LinearSolves: 1}
	re, im, err := solveComplex(g, cm, b, omega)
	if err != nil {
		stats.FailedLinearSolves++
		return anp.Status{Reason: err, Stats: stats}, nil
	}
	p.H = transfer(l, re, im)
	p.Ports = len(p.H)
	if p.System == anp.SystemOriginal {
		p.Re, p.Im = re, im
	}
	return anp.Status{Converged: true, Stats: stats}, nil
}

// Reduce PRIMA 降阶
// 以 (G+s0C)⁻¹ 为移位构造 Krylov 子空间，QR 正交化后做合同变换
func (c *Circuit) Reduce(ctx context.Context, size int, s0 float64) error {
	g, cm, b := c.linearized()
	n := c.Size()
	if size < 1 || size > n {
		return errors.Errorf("降阶阶数 %d 超出范围 1~%d", size, n)
	}
	k := mat.NewDense(n, n, nil)
	k.Add(g, scaled(s0, cm))
	var lu mat.LU
	lu.Factorize(k)

	basis := mat.NewDense(n, size, nil)
	var r mat.VecDense
	if err := lu.SolveVecTo(&r, false, b); err != nil {
		return errors.Wrap(err, "展开点矩阵奇异")
	}
	q := 0
	for ; q < size; q++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		// 修正 Gram-Schmidt，新方向可忽略时子空间已不变
		before := mat.Norm(&r, 2)
		for j := 0; j < q; j++ {
			col := basis.ColView(j)
			r.AddScaledVec(&r, -mat.Dot(col, &r), col)
		}
		nrm := mat.Norm(&r, 2)
		if nrm == 0 || nrm < deflationTol*before {
			break
		}
		r.ScaleVec(1/nrm, &r)
		basis.SetCol(q, r.RawVector().Data)
		if q+1 < size {
			var cr mat.VecDense
			cr.MulVec(cm, &r)
			if err := lu.SolveVecTo(&r, false, &cr); err != nil {
				return errors.Wrap(err, "Krylov 迭代失败")
			}
		}
	}
	if q == 0 {
		return errors.New("交流激励为零，无法降阶")
	}
	v := orthonormalize(basis.Slice(0, n, 0, q).(*mat.Dense))

	red := &reduced{v: v, s0: s0}
	red.g = congruence(v, g)
	red.c = congruence(v, cm)
	red.b = mat.NewVecDense(q, nil)
	red.b.MulVec(v.T(), b)
	if l := c.output(); l != nil {
		red.l = mat.NewDense(q, len(c.ports), nil)
		red.l.Mul(v.T(), l)
	}
	c.reduced = red
	return nil
}

// ReducedSize 降阶后的阶数与展开点，未降阶时阶数为 0
func (c *Circuit) ReducedSize() (int, float64) {
	if c.reduced == nil {
		return 0, 0
	}
	_, q := c.reduced.v.Dims()
	return q, c.reduced.s0
}

func scaled(f float64, a mat.Matrix) *mat.Dense {
	var d mat.Dense
	d.Scale(f, a)
	return &d
}

// orthonormalize 以 QR 分解的 Q 前 q 列作为正交基
func orthonormalize(a *mat.Dense) *mat.Dense {
	n, q := a.Dims()
	var qr mat.QR
	qr.Factorize(a)
	var full mat.Dense
	qr.QTo(&full)
	v := mat.NewDense(n, q, nil)
	v.Copy(full.Slice(0, n, 0, q))
	return v
}

// congruence Vᵀ A V
func congruence(v, a *mat.Dense) *mat.Dense {
	_, q := v.Dims()
	var av mat.Dense
	av.Mul(a, v)
	out := mat.NewDense(q, q, nil)
	out.Mul(v.T(), &av)
	return out
}
