package tia

import (
	"math"
	"slices"

	"github.com/pkg/errors"
)

// ErrRetryExhausted 步长缩减已用尽，不可再重试
var ErrRetryExhausted = errors.New("时间步重试次数耗尽")

// 步长控制常量
const (
	minValidStep     = 1e-18 // 最小有效步长（避免数值下溢）
	maxStepScale     = 2.5   // 最大步长增长倍数
	minStepScale     = 0.4   // 误差拒绝时最小缩减倍数
	failStepScale    = 0.125 // 非线性不收敛时的缩减倍数
	defaultSafety    = 0.85  // 默认步长调整安全系数
	defaultRetries   = 20    // 默认单步最大重试次数
	defaultMaxDivide = 10    // 默认最大步长为总时长的 1/10
)

// StepControl 瞬态步长控制
// 负责时间推进、断点对齐、步长增减与重试计数
type StepControl struct {
	startTime   float64
	currentTime float64
	finalTime   float64

	currentStep  float64 // 下一次尝试使用的步长
	attemptStep  float64 // 本次尝试实际使用的步长
	lastStep     float64 // 上一个接受步长
	startingStep float64
	minStep      float64
	maxStep      float64
	nextTime     float64
	onBreakPoint bool // 本次尝试落在断点上

	order     int
	usedOrder int
	nscsco    int

	stepCount int // 已接受步数
	retries   int // 当前步的失败次数
	budget    int // 单步最大重试次数
	constant  bool
	safety    float64

	breakPoints []float64
	bpTol       float64
	beginInteg  bool
}

// NewStepControl 创建步长控制
func NewStepControl(start, final, step float64) (*StepControl, error) {
	if final <= start {
		return nil, errors.Errorf("结束时间 %g 必须大于起始时间 %g", final, start)
	}
	if step <= 0 {
		return nil, errors.New("初始步长必须大于0")
	}
	span := final - start
	c := &StepControl{
		startTime:    start,
		currentTime:  start,
		finalTime:    final,
		currentStep:  step,
		lastStep:     step,
		startingStep: step,
		minStep:      math.Max(minValidStep, span*1e-12),
		maxStep:      span / defaultMaxDivide,
		order:        1,
		usedOrder:    1,
		budget:       defaultRetries,
		safety:       defaultSafety,
		beginInteg:   true,
	}
	c.bpTol = c.minStep
	if c.currentStep > c.maxStep {
		c.currentStep = c.maxStep
	}
	return c, nil
}

// SetStepLimits 设置步长范围
func (c *StepControl) SetStepLimits(minStep, maxStep float64) error {
	if minStep <= 0 || maxStep <= 0 {
		return errors.New("步长限制必须大于0")
	}
	if minStep > maxStep {
		return errors.New("最小步长不能大于最大步长")
	}
	c.minStep = math.Max(minStep, minValidStep)
	c.maxStep = maxStep
	c.bpTol = c.minStep
	c.currentStep = math.Max(c.minStep, math.Min(c.currentStep, c.maxStep))
	return nil
}

// SetRetryBudget 设置单步最大重试次数
func (c *StepControl) SetRetryBudget(n int) error {
	if n < 0 {
		return errors.New("重试次数不能为负")
	}
	c.budget = n
	return nil
}

// SetConstantStep 固定步长模式，失败即终止
func (c *StepControl) SetConstantStep(on bool) { c.constant = on }

// SetSafety 设置步长调整安全系数
func (c *StepControl) SetSafety(s float64) error {
	if s <= 0 || s > 1 {
		return errors.New("安全系数必须在 (0,1] 范围内")
	}
	c.safety = s
	return nil
}

// AddBreakPoints 加入断点，忽略当前时间之前和结束时间之后的点
func (c *StepControl) AddBreakPoints(bps ...float64) {
	for _, bp := range bps {
		if bp <= c.currentTime+c.bpTol || bp > c.finalTime {
			continue
		}
		c.breakPoints = append(c.breakPoints, bp)
	}
	slices.Sort(c.breakPoints)
	// 合并容差范围内的断点
	out := c.breakPoints[:0]
	for _, bp := range c.breakPoints {
		if len(out) > 0 && bp-out[len(out)-1] <= c.bpTol {
			continue
		}
		out = append(out, bp)
	}
	c.breakPoints = out
}

// BreakPoints 待处理断点
func (c *StepControl) BreakPoints() []float64 { return slices.Clone(c.breakPoints) }

// nextStop 下一个必须精确落点的时间
func (c *StepControl) nextStop() float64 {
	for _, bp := range c.breakPoints {
		if bp > c.currentTime+c.bpTol {
			return bp
		}
	}
	return c.finalTime
}

// Info 生成本次尝试的积分器状态
func (c *StepControl) Info() TimeStepInfo {
	h := c.currentStep
	stop := c.nextStop()
	c.onBreakPoint = false
	if c.currentTime+h >= stop-c.bpTol {
		h = stop - c.currentTime
		c.onBreakPoint = true
	}
	c.attemptStep = h
	c.nextTime = c.currentTime + h
	if c.onBreakPoint {
		c.nextTime = stop
	}
	return TimeStepInfo{
		CurrentOrder:         c.order,
		UsedOrder:            c.usedOrder,
		NumberOfSteps:        c.stepCount,
		Nscsco:               c.nscsco,
		NextTimeStep:         h,
		CurrTimeStep:         c.lastStep,
		StartingTimeStep:     c.startingStep,
		CurrentTime:          c.currentTime,
		NextTime:             c.nextTime,
		FinalTime:            c.finalTime,
		BpTol:                c.bpTol,
		Pdt:                  float64(c.order) / h,
		TransientFlag:        true,
		InitTranFlag:         c.stepCount == 0,
		BeginIntegrationFlag: c.beginInteg,
		TimeStepNumber:       c.stepCount + 1,
		Mode:                 ModeBackward,
	}
}

// scale 根据误差范数计算步长倍数
func (c *StepControl) scale(norm float64) float64 {
	if norm <= 0 {
		return maxStepScale
	}
	s := math.Pow(c.safety/norm, 1/float64(c.order+1))
	return math.Max(minStepScale, math.Min(s, maxStepScale))
}

// Accept 接受本次尝试，推进时间并按误差范数调整步长
func (c *StepControl) Accept(norm float64) {
	c.currentTime = c.nextTime
	c.lastStep = c.attemptStep
	c.stepCount++
	c.retries = 0
	c.usedOrder = c.order
	c.nscsco++
	c.beginInteg = false
	if c.onBreakPoint {
		c.breakPoints = slices.DeleteFunc(c.breakPoints, func(bp float64) bool {
			return bp <= c.currentTime+c.bpTol
		})
		c.beginInteg = true
		c.nscsco = 0
	}
	if c.constant {
		return
	}
	base := c.attemptStep
	if c.onBreakPoint {
		// 落点截短的步长不作为增长基准
		base = math.Max(base, c.currentStep)
	}
	h := base * c.scale(norm)
	c.currentStep = math.Max(c.minStep, math.Min(h, c.maxStep))
}

// Reject 拒绝本次尝试并缩减步长
// norm > 1 表示误差检验失败，否则按非线性不收敛处理
func (c *StepControl) Reject(norm float64) error {
	c.retries++
	if c.constant {
		return errors.Wrapf(ErrRetryExhausted, "固定步长模式下 t=%g 处失败", c.currentTime)
	}
	if c.retries > c.budget {
		return errors.Wrapf(ErrRetryExhausted, "t=%g 处已重试 %d 次", c.currentTime, c.budget)
	}
	s := failStepScale
	if norm > 1 {
		s = math.Min(c.scale(norm), 0.9)
	}
	h := c.attemptStep * s
	if h < c.minStep {
		return errors.Wrapf(ErrRetryExhausted, "t=%g 处步长 %g 低于最小步长 %g", c.currentTime, h, c.minStep)
	}
	c.currentStep = h
	c.nscsco = 0
	return nil
}

// UpdateTwoLevelTimeInfo 内层按外层给出的状态同步步长
func (c *StepControl) UpdateTwoLevelTimeInfo(info TimeStepInfo) {
	c.lastStep = c.currentStep
	c.currentStep = info.NextTimeStep
	c.attemptStep = info.NextTimeStep
	c.nextTime = info.NextTime
	c.order = max(info.CurrentOrder, 1)
}

// Finished 是否已到结束时间
func (c *StepControl) Finished() bool { return c.currentTime >= c.finalTime-c.bpTol }

// CurrentTime 当前时间
func (c *StepControl) CurrentTime() float64 { return c.currentTime }

// CurrentStep 下一次尝试的步长
func (c *StepControl) CurrentStep() float64 { return c.currentStep }

// StepCount 已接受步数
func (c *StepControl) StepCount() int { return c.stepCount }

// Retries 当前步失败次数
func (c *StepControl) Retries() int { return c.retries }

// MinStep 最小步长
func (c *StepControl) MinStep() float64 { return c.minStep }

// MaxStep 最大步长
func (c *StepControl) MaxStep() float64 { return c.maxStep }
