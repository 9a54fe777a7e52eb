package anp

import (
	"context"

	"anacore/sweep"
	"anacore/tia"

	"github.com/pkg/errors"
)

// ACOptions 交流扫描配置
type ACOptions struct {
	Kind      sweep.Kind // LIN/DEC/OCT
	NumPoints int        // LIN 为总点数，DEC/OCT 为每倍程点数
	FStart    float64
	FStop     float64
}

// AC 交流小信号扫描
// 先求直流工作点，再逐个频率点求解线性系统
type AC struct {
	base
	opts   ACOptions
	freq   *sweep.Param
	dcop   bool
	point  Point
	status Status
}

// NewAC 创建交流扫描
func NewAC(env Env, opts ACOptions) (*AC, error) {
	if env.Solver == nil || env.Linear == nil {
		return nil, errors.Wrap(ErrConfig, "交流扫描需要非线性求解器和线性系统")
	}
	return &AC{base: newBase(KindAC, env), opts: opts}, nil
}

// GetDCOPFlag 当前是否在求直流工作点
func (a *AC) GetDCOPFlag() bool { return a.dcop }

// SetDCOPFlag 设置直流工作点标记
func (a *AC) SetDCOPFlag(on bool) { a.dcop = on }

// Init 建立频率循环并求直流工作点
func (a *AC) Init(ctx context.Context) error {
	if err := a.beginInit(); err != nil {
		return err
	}
	freq, n, err := sweep.NewFrequency(a.opts.Kind, a.opts.NumPoints, a.opts.FStart, a.opts.FStop)
	if err != nil {
		return errors.Wrap(err, "交流扫描初始化失败")
	}
	a.freq = freq
	if err := a.solveOP(ctx); err != nil {
		return err
	}
	a.initDone(n)
	return nil
}

func (a *AC) solveOP(ctx context.Context) error {
	a.dcop = true
	defer a.SetDCOPFlag(false)
	p := Point{
		Kind:  KindAC,
		Index: -1,
		Outer: a.outer,
		Store: a.env.Store,
		Info:  tia.TimeStepInfo{DCOPFlag: true, ACOPFlag: true, StepLoopIter: max(a.outer, 0)},
	}
	st, err := a.env.Solver.Solve(ctx, &p)
	if err != nil {
		return errors.Wrap(err, "交流工作点求解出错")
	}
	a.stats.Add(st.Stats)
	if !st.Converged {
		return errors.Wrapf(ErrDCOP, "交流分析: %v", st.Reason)
	}
	if a.env.Store != nil {
		a.env.Store.Commit()
	}
	a.notify(true)
	return nil
}

// LoopProcess 依次求解所有频率点
func (a *AC) LoopProcess(ctx context.Context) error {
	if err := a.expect("LoopProcess", StateInitialized, StatePointComplete); err != nil {
		return err
	}
	for a.loopIter < a.loopSize {
		if a.stopRequested(ctx) {
			return a.stop()
		}
		if err := a.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *AC) step(ctx context.Context) error {
	if err := a.beginPoint(); err != nil {
		return err
	}
	if _, err := a.freq.UpdateCurrentVal(a.loopIter); err != nil {
		return err
	}
	f := a.freq.CurrentVal
	a.point = Point{
		Kind:   KindAC,
		Index:  a.loopIter,
		Outer:  a.outer,
		Freq:   f,
		Values: []sweep.Value{{Name: a.freq.Name, Val: f}},
		Store:  a.env.Store,
		Info:   tia.TimeStepInfo{StepLoopIter: max(a.outer, 0)},
	}
	st, err := a.env.Linear.AssembleAndSolve(ctx, &a.point)
	if err != nil {
		return a.pointError(err)
	}
	a.status = st
	a.stats.Add(st.Stats)
	if st.Converged {
		return a.ProcessSuccessfulStep(ctx)
	}
	a.stats.FailedLinearSolves++
	return a.ProcessFailedStep(ctx)
}

// ProcessSuccessfulStep 输出当前频率点
func (a *AC) ProcessSuccessfulStep(context.Context) error {
	if err := a.inProgress("ProcessSuccessfulStep"); err != nil {
		return err
	}
	err := a.report(Report{
		Index:  a.loopIter,
		Values: a.point.Values,
		Freq:   a.point.Freq,
		Re:     a.point.Re,
		Im:     a.point.Im,
	})
	if err != nil {
		return err
	}
	a.stats.SuccessSteps++
	a.loopIter++
	a.endPoint()
	return nil
}

// ProcessFailedStep 记录失败频率点并继续
func (a *AC) ProcessFailedStep(context.Context) error {
	if err := a.inProgress("ProcessFailedStep"); err != nil {
		return err
	}
	a.logger().Warn("交流频率点求解失败", "index", a.loopIter, "freq", a.point.Freq, "reason", a.status.Reason)
	a.recordFailure()
	a.loopIter++
	a.endPoint()
	return nil
}

// Finish 结束扫描
func (a *AC) Finish() error { return a.finish() }

// Run 执行完整扫描
func (a *AC) Run(ctx context.Context) error { return Run(ctx, a) }
