package anp

import (
	"context"
	"maps"

	"anacore/sweep"

	"github.com/pkg/errors"
)

// Step 参数 STEP 外层循环
// 独占内层分析，每个外层点完整执行一次内层分析
type Step struct {
	base
	params        []*sweep.Param
	inner         Analysis
	innerFailures map[int][]int
	innerErr      error
}

// NewStep 创建 STEP 外层循环，inner 的生命周期由 Step 管理
func NewStep(env Env, params []*sweep.Param, inner Analysis) (*Step, error) {
	if inner == nil {
		return nil, errors.Wrap(ErrConfig, "STEP 缺少内层分析")
	}
	return &Step{base: newBase(KindStep, env), params: params, inner: inner}, nil
}

// Inner 内层分析类型
func (s *Step) Inner() Kind { return s.inner.Kind() }

// InnerFailures 各外层点上内层分析的失败列表
func (s *Step) InnerFailures() map[int][]int { return maps.Clone(s.innerFailures) }

// Init 建立外层循环
func (s *Step) Init(context.Context) error {
	if err := s.beginInit(); err != nil {
		return err
	}
	n, err := sweep.Setup(s.params)
	if err != nil {
		return errors.Wrap(err, "STEP 初始化失败")
	}
	s.innerFailures = make(map[int][]int)
	s.initDone(n)
	return nil
}

// LoopProcess 依次执行每个外层点
func (s *Step) LoopProcess(ctx context.Context) error {
	if err := s.expect("LoopProcess", StateInitialized, StatePointComplete); err != nil {
		return err
	}
	for s.loopIter < s.loopSize {
		if s.stopRequested(ctx) {
			return s.stop()
		}
		if err := s.step(ctx); err != nil {
			return err
		}
		if s.inner.Stopped() {
			return s.stop()
		}
	}
	return nil
}

func (s *Step) step(ctx context.Context) error {
	if err := s.beginPoint(); err != nil {
		return err
	}
	if _, err := sweep.Update(s.params, s.loopIter); err != nil {
		return err
	}
	if err := s.setParams(s.params); err != nil {
		return err
	}
	if s.env.Store != nil {
		s.env.Store.SetZeroHistory()
	}
	s.logger().Info("STEP 外层点", "index", s.loopIter, "values", sweep.Values(s.params))

	s.inner.ResetForStep()
	if n, ok := s.inner.(nested); ok {
		n.setOuter(s.loopIter)
	}
	err := s.inner.Run(ctx)
	s.stats.SolveStats.Add(s.inner.Stats().SolveStats)
	s.stats.NonlinearFailures += s.inner.Stats().NonlinearFailures
	s.innerErr = err
	switch {
	case err == nil:
	case errors.Is(err, ErrRetryExhausted), errors.Is(err, ErrDCOP):
		// 内层重试耗尽或工作点不收敛只影响当前外层点
		return s.ProcessFailedStep(ctx)
	default:
		return s.pointError(err)
	}
	if s.inner.Stopped() {
		s.endPoint()
		return nil
	}
	if len(s.inner.Failures()) > 0 {
		return s.ProcessFailedStep(ctx)
	}
	return s.ProcessSuccessfulStep(ctx)
}

// ProcessSuccessfulStep 外层点完成
func (s *Step) ProcessSuccessfulStep(context.Context) error {
	if err := s.inProgress("ProcessSuccessfulStep"); err != nil {
		return err
	}
	if err := s.report(Report{Index: s.loopIter, Values: sweep.Values(s.params)}); err != nil {
		return err
	}
	s.stats.SuccessSteps++
	s.loopIter++
	s.endPoint()
	return nil
}

// ProcessFailedStep 内层存在失败、重试耗尽或工作点不收敛，记录后继续下一个外层点
// 失败的外层点不输出，由 Finish 统一报告
func (s *Step) ProcessFailedStep(context.Context) error {
	if err := s.inProgress("ProcessFailedStep"); err != nil {
		return err
	}
	s.innerFailures[s.loopIter] = s.inner.Failures()
	s.logger().Warn("STEP 外层点存在失败", "index", s.loopIter, "inner", s.inner.Kind().String(),
		"failed", s.innerFailures[s.loopIter], "err", s.innerErr)
	s.recordFailure()
	s.loopIter++
	s.endPoint()
	return nil
}

// Finish 结束外层循环
func (s *Step) Finish() error { return s.finish() }

// Run 执行完整 STEP 循环
func (s *Step) Run(ctx context.Context) error { return Run(ctx, s) }

// ResetForStep 同时重置内层分析
func (s *Step) ResetForStep() {
	s.base.ResetForStep()
	s.inner.ResetForStep()
	s.innerFailures = nil
}
