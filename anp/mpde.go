package anp

import (
	"context"

	"anacore/tia"

	"github.com/pkg/errors"
)

// MPDEOptions 多时间尺度分析配置
type MPDEOptions struct {
	TranOptions         // 慢时间轴
	FastStep    float64 // 快时间轴步长
}

// MPDE 多时间尺度分析
// 每个慢时间点先求工作点，再求一个快时间步，两者都收敛才算成功
type MPDE struct {
	base
	opts   MPDEOptions
	ctrl   *tia.StepControl
	dcop   bool
	point  Point
	status Status
	norm   float64
}

// NewMPDE 创建多时间尺度分析
func NewMPDE(env Env, opts MPDEOptions) (*MPDE, error) {
	if env.Solver == nil {
		return nil, errors.Wrap(ErrConfig, "MPDE 缺少非线性求解器")
	}
	if opts.FastStep <= 0 {
		return nil, errors.Wrap(ErrConfig, "MPDE 快时间步长必须大于0")
	}
	opts.NoDCOP = true
	return &MPDE{base: newBase(KindMPDE, env), opts: opts}, nil
}

// GetDCOPFlag 当前是否在求工作点
func (m *MPDE) GetDCOPFlag() bool { return m.dcop }

// SetDCOPFlag 设置工作点标记
func (m *MPDE) SetDCOPFlag(on bool) { m.dcop = on }

// Init 建立慢时间轴步长控制
func (m *MPDE) Init(context.Context) error {
	if err := m.beginInit(); err != nil {
		return err
	}
	ctrl, err := m.opts.control()
	if err != nil {
		return errors.Wrap(err, "MPDE 初始化失败")
	}
	m.ctrl = ctrl
	if m.env.Device != nil {
		m.ctrl.AddBreakPoints(m.env.Device.BreakPoints()...)
	}
	m.initDone(0)
	return nil
}

// LoopProcess 推进慢时间轴到结束时间
func (m *MPDE) LoopProcess(ctx context.Context) error {
	if err := m.expect("LoopProcess", StateInitialized, StatePointComplete); err != nil {
		return err
	}
	for !m.ctrl.Finished() {
		if m.stopRequested(ctx) {
			return m.stop()
		}
		if err := m.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *MPDE) step(ctx context.Context) error {
	if err := m.beginPoint(); err != nil {
		return err
	}
	info := m.ctrl.Info()
	info.StepLoopIter = max(m.outer, 0)

	// 工作点
	m.dcop = true
	op := info
	op.DCOPFlag = true
	op.TransientFlag = false
	m.point = Point{Kind: KindMPDE, Index: m.loopIter, Outer: m.outer, Info: op, Store: m.env.Store}
	st, err := m.env.Solver.Solve(ctx, &m.point)
	if err != nil {
		return m.pointError(err)
	}
	m.status = st
	m.stats.Add(st.Stats)
	m.norm = 0
	if !st.Converged {
		m.stats.NonlinearFailures++
		return m.ProcessFailedStep(ctx)
	}
	if m.env.Store != nil {
		m.env.Store.Stage()
	}

	// 快时间步
	m.dcop = false
	fast := info
	fast.NextTimeStep = m.opts.FastStep
	fast.NextTime = info.CurrentTime + m.opts.FastStep
	fast.Pdt = 1 / m.opts.FastStep
	m.point.Info = fast
	st, err = m.env.Solver.Solve(ctx, &m.point)
	if err != nil {
		return m.pointError(err)
	}
	m.status = st
	m.stats.Add(st.Stats)
	if !st.Converged {
		m.stats.NonlinearFailures++
		return m.ProcessFailedStep(ctx)
	}
	m.norm = tia.StepNorm(st.XErrorSum, st.QErrorSum, st.Size, tia.TwoLevelError{})
	if m.norm > 1 {
		m.status.Reason = errors.Errorf("局部截断误差超限: %.3g", m.norm)
		return m.ProcessFailedStep(ctx)
	}
	return m.ProcessSuccessfulStep(ctx)
}

// ProcessSuccessfulStep 提交并推进慢时间
func (m *MPDE) ProcessSuccessfulStep(context.Context) error {
	if err := m.inProgress("ProcessSuccessfulStep"); err != nil {
		return err
	}
	if m.env.Store != nil {
		m.env.Store.Commit()
	}
	m.notify(true)
	m.ctrl.Accept(m.norm)
	r := Report{Index: m.loopIter, Time: m.ctrl.CurrentTime()}
	if m.env.Store != nil {
		r.Solution = m.env.Store.Snapshot()
	}
	if err := m.report(r); err != nil {
		return err
	}
	m.stats.SuccessSteps++
	m.loopIter++
	m.endPoint()
	return nil
}

// ProcessFailedStep 缩小慢时间步长重试
func (m *MPDE) ProcessFailedStep(context.Context) error {
	if err := m.inProgress("ProcessFailedStep"); err != nil {
		return err
	}
	if m.env.Store != nil {
		m.env.Store.Rollback()
	}
	m.notify(false)
	m.stats.FailedSteps++
	m.dcop = false
	if err := m.ctrl.Reject(m.norm); err != nil {
		m.failures = append(m.failures, m.loopIter)
		m.logger().Error("MPDE 步失败且无法继续", "index", m.loopIter, "time", m.ctrl.CurrentTime(), "reason", m.status.Reason, "err", err)
		return m.pointError(err)
	}
	m.endPoint()
	return nil
}

// Finish 结束分析
func (m *MPDE) Finish() error { return m.finish() }

// Run 执行完整分析
func (m *MPDE) Run(ctx context.Context) error { return Run(ctx, m) }
