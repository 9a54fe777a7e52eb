package anp

import (
	"context"
	"math"

	"anacore/sweep"
	"anacore/tia"

	"github.com/pkg/errors"
)

// MOROptions 模型降阶配置
type MOROptions struct {
	Kind      sweep.Kind // 频率扫描方式
	NumPoints int
	FStart    float64
	FStop     float64
	Size      int     // 降阶阶数
	ExpPoint  float64 // 展开频率 (Hz)
	Original  bool    // 计算原始系统传递函数
	Reduced   bool    // 计算降阶系统传递函数
}

// MOR 模型降阶
// 求工作点、降阶，然后在频率上扫描原始和/或降阶系统的传递函数
type MOR struct {
	base
	opts    MOROptions
	freq    *sweep.Param
	nfreq   int
	systems []System
	dcop    bool
	point   Point
	status  Status
}

// NewMOR 创建模型降阶分析
func NewMOR(env Env, opts MOROptions) (*MOR, error) {
	if env.Solver == nil || env.Linear == nil || env.Reducer == nil {
		return nil, errors.Wrap(ErrConfig, "模型降阶需要非线性求解器、线性系统和降阶器")
	}
	if opts.Size < 1 {
		return nil, errors.Wrapf(ErrConfig, "降阶阶数必须大于0: %d", opts.Size)
	}
	if !opts.Original && !opts.Reduced {
		opts.Reduced = true
	}
	return &MOR{base: newBase(KindMOR, env), opts: opts}, nil
}

// GetDCOPFlag 当前是否在求直流工作点
func (m *MOR) GetDCOPFlag() bool { return m.dcop }

// SetDCOPFlag 设置直流工作点标记
func (m *MOR) SetDCOPFlag(on bool) { m.dcop = on }

// Systems 待计算的系统
func (m *MOR) Systems() []System { return m.systems }

// Init 求工作点、降阶并建立频率循环
func (m *MOR) Init(ctx context.Context) error {
	if err := m.beginInit(); err != nil {
		return err
	}
	freq, n, err := sweep.NewFrequency(m.opts.Kind, m.opts.NumPoints, m.opts.FStart, m.opts.FStop)
	if err != nil {
		return errors.Wrap(err, "模型降阶初始化失败")
	}
	m.freq, m.nfreq = freq, n

	m.dcop = true
	p := Point{
		Kind:  KindMOR,
		Index: -1,
		Outer: m.outer,
		Store: m.env.Store,
		Info:  tia.TimeStepInfo{DCOPFlag: true, StepLoopIter: max(m.outer, 0)},
	}
	st, err := m.env.Solver.Solve(ctx, &p)
	m.dcop = false
	if err != nil {
		return errors.Wrap(err, "模型降阶工作点求解出错")
	}
	m.stats.Add(st.Stats)
	if !st.Converged {
		return errors.Wrapf(ErrDCOP, "模型降阶: %v", st.Reason)
	}
	if m.env.Store != nil {
		m.env.Store.Commit()
	}

	s0 := 2 * math.Pi * m.opts.ExpPoint
	if err := m.env.Reducer.Reduce(ctx, m.opts.Size, s0); err != nil {
		return errors.Wrap(err, "模型降阶失败")
	}
	m.systems = m.systems[:0]
	if m.opts.Original {
		m.systems = append(m.systems, SystemOriginal)
	}
	if m.opts.Reduced {
		m.systems = append(m.systems, SystemReduced)
	}
	m.initDone(len(m.systems) * n)
	return nil
}

// LoopProcess 依次计算各系统各频率点
func (m *MOR) LoopProcess(ctx context.Context) error {
	if err := m.expect("LoopProcess", StateInitialized, StatePointComplete); err != nil {
		return err
	}
	for m.loopIter < m.loopSize {
		if m.stopRequested(ctx) {
			return m.stop()
		}
		if err := m.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *MOR) step(ctx context.Context) error {
	if err := m.beginPoint(); err != nil {
		return err
	}
	// 频率局部步号回到 0 即切换到下一个系统
	reset, err := m.freq.UpdateCurrentVal(m.loopIter)
	if err != nil {
		return err
	}
	sys := m.systems[m.loopIter/m.nfreq]
	if reset {
		m.logger().Info("开始计算传递函数", "system", sys.String())
	}
	f := m.freq.CurrentVal
	m.point = Point{
		Kind:   KindMOR,
		Index:  m.loopIter,
		Outer:  m.outer,
		Freq:   f,
		System: sys,
		Values: []sweep.Value{{Name: m.freq.Name, Val: f}},
		Store:  m.env.Store,
	}
	st, err := m.env.Linear.AssembleAndSolve(ctx, &m.point)
	if err != nil {
		return m.pointError(err)
	}
	m.status = st
	m.stats.Add(st.Stats)
	if st.Converged {
		return m.ProcessSuccessfulStep(ctx)
	}
	m.stats.FailedLinearSolves++
	return m.ProcessFailedStep(ctx)
}

// ProcessSuccessfulStep 输出传递函数
func (m *MOR) ProcessSuccessfulStep(context.Context) error {
	if err := m.inProgress("ProcessSuccessfulStep"); err != nil {
		return err
	}
	err := m.report(Report{
		Index:  m.loopIter,
		Values: m.point.Values,
		Freq:   m.point.Freq,
		System: m.point.System,
		Ports:  m.point.Ports,
		H:      m.point.H,
	})
	if err != nil {
		return err
	}
	m.stats.SuccessSteps++
	m.loopIter++
	m.endPoint()
	return nil
}

// ProcessFailedStep 记录失败频率点并继续
func (m *MOR) ProcessFailedStep(context.Context) error {
	if err := m.inProgress("ProcessFailedStep"); err != nil {
		return err
	}
	m.logger().Warn("传递函数求解失败", "index", m.loopIter, "system", m.point.System.String(),
		"freq", m.point.Freq, "reason", m.status.Reason)
	m.recordFailure()
	m.loopIter++
	m.endPoint()
	return nil
}

// Finish 结束分析
func (m *MOR) Finish() error { return m.finish() }

// Run 执行完整分析
func (m *MOR) Run(ctx context.Context) error { return Run(ctx, m) }
