package anp

import (
	"context"

	"anacore/tia"

	"github.com/pkg/errors"
)

// TranOptions 瞬态配置
type TranOptions struct {
	Start        float64   // 起始时间
	Stop         float64   // 结束时间
	Step         float64   // 初始步长
	MinStep      float64   // 最小步长，0 为默认
	MaxStep      float64   // 最大步长，0 为默认
	MaxRetries   int       // 单步最大重试次数，0 为默认
	ConstantStep bool      // 固定步长
	NoDCOP       bool      // 跳过初始工作点（使用给定初值）
	BreakPoints  []float64 // 额外断点
}

func (o TranOptions) control() (*tia.StepControl, error) {
	ctrl, err := tia.NewStepControl(o.Start, o.Stop, o.Step)
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}
	if o.MinStep > 0 || o.MaxStep > 0 {
		lo, hi := o.MinStep, o.MaxStep
		if lo <= 0 {
			lo = ctrl.MinStep()
		}
		if hi <= 0 {
			hi = ctrl.MaxStep()
		}
		if err := ctrl.SetStepLimits(lo, hi); err != nil {
			return nil, errors.Wrap(ErrConfig, err.Error())
		}
	}
	if o.MaxRetries > 0 {
		if err := ctrl.SetRetryBudget(o.MaxRetries); err != nil {
			return nil, errors.Wrap(ErrConfig, err.Error())
		}
	}
	ctrl.SetConstantStep(o.ConstantStep)
	ctrl.AddBreakPoints(o.BreakPoints...)
	return ctrl, nil
}

// Transient 瞬态分析
// 失败的时间步以缩小的步长原地重试，重试耗尽即终止
type Transient struct {
	base
	opts   TranOptions
	ctrl   *tia.StepControl
	dcop   bool
	acc    tia.Accumulator
	point  Point
	status Status
	norm   float64
}

// NewTransient 创建瞬态分析
func NewTransient(env Env, opts TranOptions) (*Transient, error) {
	if env.Solver == nil {
		return nil, errors.Wrap(ErrConfig, "瞬态分析缺少非线性求解器")
	}
	return &Transient{base: newBase(KindTransient, env), opts: opts}, nil
}

// GetDCOPFlag 当前是否在求直流工作点
func (t *Transient) GetDCOPFlag() bool { return t.dcop }

// SetDCOPFlag 设置直流工作点标记
func (t *Transient) SetDCOPFlag(on bool) { t.dcop = on }

// Control 步长控制
func (t *Transient) Control() *tia.StepControl { return t.ctrl }

// Init 建立步长控制并求初始工作点
func (t *Transient) Init(ctx context.Context) error {
	if err := t.beginInit(); err != nil {
		return err
	}
	ctrl, err := t.opts.control()
	if err != nil {
		return errors.Wrap(err, "瞬态初始化失败")
	}
	t.ctrl = ctrl
	if t.env.Device != nil {
		t.ctrl.AddBreakPoints(t.env.Device.BreakPoints()...)
	}
	if !t.opts.NoDCOP {
		if err := t.solveOP(ctx); err != nil {
			return err
		}
	}
	t.initDone(0)
	return nil
}

func (t *Transient) solveOP(ctx context.Context) error {
	t.dcop = true
	defer t.SetDCOPFlag(false)
	p := Point{
		Kind:  KindTransient,
		Index: -1,
		Outer: t.outer,
		Store: t.env.Store,
		Info: tia.TimeStepInfo{
			DCOPFlag:     true,
			TranOPFlag:   true,
			CurrentTime:  t.opts.Start,
			FinalTime:    t.opts.Stop,
			StepLoopIter: max(t.outer, 0),
		},
	}
	st, err := t.env.Solver.Solve(ctx, &p)
	if err != nil {
		return errors.Wrap(err, "瞬态工作点求解出错")
	}
	t.stats.Add(st.Stats)
	if !st.Converged {
		return errors.Wrapf(ErrDCOP, "瞬态分析: %v", st.Reason)
	}
	if t.env.Store != nil {
		t.env.Store.Commit()
		t.env.Store.SetConstantHistory()
	}
	t.notify(true)
	r := Report{Index: -1, Time: t.opts.Start}
	if t.env.Store != nil {
		r.Solution = t.env.Store.Snapshot()
	}
	return t.report(r)
}

// LoopProcess 推进到结束时间
func (t *Transient) LoopProcess(ctx context.Context) error {
	if err := t.expect("LoopProcess", StateInitialized, StatePointComplete); err != nil {
		return err
	}
	for !t.ctrl.Finished() {
		if t.stopRequested(ctx) {
			return t.stop()
		}
		if _, err := t.TwoLevelStep(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TwoLevelStep 尝试一个时间步，返回是否被接受
// 内层求解器的误差并入本步误差范数，任一内层失败则整步失败
func (t *Transient) TwoLevelStep(ctx context.Context) (bool, error) {
	if err := t.beginPoint(); err != nil {
		return false, err
	}
	info := t.ctrl.Info()
	info.StepLoopIter = max(t.outer, 0)
	t.point = Point{Kind: KindTransient, Index: t.loopIter, Outer: t.outer, Info: info, Store: t.env.Store}
	st, err := t.env.Solver.Solve(ctx, &t.point)
	if err != nil {
		return false, t.pointError(err)
	}
	t.status = st
	t.stats.Add(st.Stats)
	ok := st.Converged
	if !ok {
		t.stats.NonlinearFailures++
	}

	t.acc.Reset()
	if ok {
		for i, in := range t.env.Inner {
			e, iok, err := in.RunStep(ctx, info)
			if err != nil {
				return false, t.pointError(errors.Wrapf(err, "内层求解 %d 出错", i))
			}
			t.acc.Report(e, iok)
		}
		if t.acc.Failed() {
			ok = false
			t.status.Reason = errors.New("内层求解失败")
		}
	}

	t.norm = 0
	if ok {
		t.norm = tia.StepNorm(st.XErrorSum, st.QErrorSum, st.Size, t.acc.Total())
		if t.norm > 1 {
			ok = false
			t.status.Reason = errors.Errorf("局部截断误差超限: %.3g", t.norm)
		}
	}
	if ok {
		return true, t.ProcessSuccessfulStep(ctx)
	}
	return false, t.ProcessFailedStep(ctx)
}

// ProcessSuccessfulStep 提交解、推进时间并输出
func (t *Transient) ProcessSuccessfulStep(context.Context) error {
	if err := t.inProgress("ProcessSuccessfulStep"); err != nil {
		return err
	}
	if t.env.Store != nil {
		t.env.Store.Commit()
	}
	t.notify(true)
	t.ctrl.Accept(t.norm)
	if t.env.Device != nil {
		t.ctrl.AddBreakPoints(t.env.Device.BreakPoints()...)
	}
	r := Report{Index: t.loopIter, Time: t.ctrl.CurrentTime()}
	if t.env.Store != nil {
		r.Solution = t.env.Store.Snapshot()
	}
	if err := t.report(r); err != nil {
		return err
	}
	t.stats.SuccessSteps++
	t.loopIter++
	t.endPoint()
	return nil
}

// ProcessFailedStep 回滚并缩小步长重试，重试耗尽返回 ErrRetryExhausted
func (t *Transient) ProcessFailedStep(context.Context) error {
	if err := t.inProgress("ProcessFailedStep"); err != nil {
		return err
	}
	if t.env.Store != nil {
		t.env.Store.Rollback()
	}
	t.notify(false)
	t.stats.FailedSteps++
	if err := t.ctrl.Reject(t.norm); err != nil {
		t.failures = append(t.failures, t.loopIter)
		t.logger().Error("时间步失败且无法继续", "index", t.loopIter, "time", t.ctrl.CurrentTime(), "reason", t.status.Reason, "err", err)
		return t.pointError(err)
	}
	t.logger().Debug("时间步失败，缩小步长重试", "index", t.loopIter, "time", t.ctrl.CurrentTime(),
		"step", t.ctrl.CurrentStep(), "reason", t.status.Reason)
	t.endPoint()
	return nil
}

// Finish 结束瞬态分析
func (t *Transient) Finish() error { return t.finish() }

// Run 执行完整瞬态分析
func (t *Transient) Run(ctx context.Context) error { return Run(ctx, t) }
