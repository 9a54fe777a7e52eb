package anp

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"anacore/sweep"

	"github.com/pkg/errors"
)

// Analysis 分析生命周期
//
//	Init -> LoopProcess (逐点 ProcessSuccessfulStep / ProcessFailedStep) -> Finish
//
// Finish 之后只允许 ResetForStep
type Analysis interface {
	Kind() Kind
	State() State
	LoopSize() int
	Init(ctx context.Context) error
	LoopProcess(ctx context.Context) error
	ProcessSuccessfulStep(ctx context.Context) error
	ProcessFailedStep(ctx context.Context) error
	Finish() error
	Run(ctx context.Context) error
	ResetForStep()
	Failures() []int
	Stats() Stats
	Stopped() bool
}

// nested 可被 STEP 包装的分析
type nested interface {
	setOuter(i int)
}

// Run 完整执行一次分析
// 出现不可恢复错误时仍会调用 Finish 以输出失败列表
func Run(ctx context.Context, a Analysis) error {
	if err := a.Init(ctx); err != nil {
		return err
	}
	err := a.LoopProcess(ctx)
	if a.State() != StateFinished {
		if ferr := a.Finish(); err == nil {
			err = ferr
		}
	}
	return err
}

type base struct {
	kind     Kind
	env      Env
	state    State
	loopSize int
	loopIter int
	outer    int
	failures []int
	stats    Stats
	stopped  bool
	start    time.Time
}

func newBase(kind Kind, env Env) base {
	return base{kind: kind, env: env, outer: -1}
}

func (b *base) Kind() Kind { return b.kind }

func (b *base) State() State { return b.state }

// LoopSize 循环点数，时间驱动的分析为 0
func (b *base) LoopSize() int { return b.loopSize }

// LoopIter 当前循环序号
func (b *base) LoopIter() int { return b.loopIter }

// Failures 失败的循环序号
func (b *base) Failures() []int { return slices.Clone(b.failures) }

func (b *base) Stats() Stats { return b.stats }

// Stopped 是否因停止请求提前结束
func (b *base) Stopped() bool { return b.stopped }

// ResetForStep 回到未初始化状态，供外层循环重复执行
func (b *base) ResetForStep() {
	b.state = StateUninitialized
	b.loopIter = 0
	b.failures = nil
	b.stats = Stats{}
	b.stopped = false
}

func (b *base) setOuter(i int) { b.outer = i }

func (b *base) logger() *slog.Logger {
	l := b.env.Log
	if l == nil {
		l = Logger
	}
	l = l.With("analysis", b.kind.String())
	if b.outer >= 0 {
		l = l.With("outer", b.outer)
	}
	return l
}

func (b *base) expect(op string, states ...State) error {
	if slices.Contains(states, b.state) {
		return nil
	}
	return errors.Wrapf(ErrState, "%s 分析在%s状态下不能执行 %s", b.kind, b.state, op)
}

func (b *base) beginInit() error {
	if err := b.expect("Init", StateUninitialized); err != nil {
		return err
	}
	b.stats = Stats{}
	b.start = time.Now()
	return nil
}

func (b *base) initDone(loopSize int) {
	b.loopSize = loopSize
	b.loopIter = 0
	b.failures = nil
	b.stopped = false
	b.state = StateInitialized
	b.logger().Info("分析开始", "points", loopSize)
}

func (b *base) beginPoint() error {
	if err := b.expect("LoopProcess", StateInitialized, StatePointComplete); err != nil {
		return err
	}
	b.state = StatePointInProgress
	return nil
}

func (b *base) inProgress(op string) error { return b.expect(op, StatePointInProgress) }

func (b *base) endPoint() { b.state = StatePointComplete }

func (b *base) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return b.env.Stopper != nil && b.env.Stopper.StopRequested()
}

// stop 响应停止请求，已提交的点全部保留
func (b *base) stop() error {
	b.stopped = true
	b.logger().Info("收到停止请求，提前结束", "completed", b.loopIter)
	return b.finish()
}

func (b *base) recordFailure() {
	b.failures = append(b.failures, b.loopIter)
	b.stats.FailedSteps++
}

func (b *base) setParams(params []*sweep.Param) error {
	if b.env.Device == nil {
		return nil
	}
	for _, p := range params {
		if err := b.env.Device.SetParam(p.Name, p.CurrentVal); err != nil {
			return errors.Wrapf(ErrConfig, "设置参数 %s 失败: %v", p.Name, err)
		}
	}
	return nil
}

func (b *base) notify(ok bool) {
	if b.env.Device != nil {
		b.env.Device.NotifyStepResult(ok, b.kind)
	}
}

func (b *base) report(r Report) error {
	if b.env.Output == nil {
		return nil
	}
	r.Kind = b.kind
	r.Outer = b.outer
	return errors.Wrap(b.env.Output.ReportPoint(r), "输出结果失败")
}

func (b *base) pointError(err error) error {
	return &PointError{Kind: b.kind, Index: b.loopIter, Err: err}
}

func (b *base) finish() error {
	if err := b.expect("Finish", StateInitialized, StatePointInProgress, StatePointComplete); err != nil {
		return err
	}
	b.stats.Elapsed = time.Since(b.start)
	log := b.logger()
	log.Info("分析结束", "stats", b.stats)
	if len(b.failures) > 0 {
		log.Warn("存在失败的求解点", "failed", b.failures)
		if b.env.Output != nil {
			b.env.Output.ReportFailures(b.kind, b.outer, b.Failures())
		}
	}
	b.state = StateFinished
	return nil
}
