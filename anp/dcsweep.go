package anp

import (
	"context"

	"anacore/sweep"
	"anacore/tia"

	"github.com/pkg/errors"
)

// DCOptions 直流扫描配置
type DCOptions struct {
	Params     []*sweep.Param // 扫描参数，第一个变化最快
	DoubleDCOP bool           // 第一个点求解两次
}

// DCSweep 直流扫描
// 失败的点记录后继续下一个点
type DCSweep struct {
	base
	params     []*sweep.Param
	doubleDCOP bool
	dcopStep   int
	reset      bool
	point      Point
	status     Status
	objective  [][]float64
}

// NewDCSweep 创建直流扫描
func NewDCSweep(env Env, opts DCOptions) (*DCSweep, error) {
	if env.Solver == nil {
		return nil, errors.Wrap(ErrConfig, "直流扫描缺少非线性求解器")
	}
	return &DCSweep{
		base:       newBase(KindDC, env),
		params:     opts.Params,
		doubleDCOP: opts.DoubleDCOP,
	}, nil
}

// Init 建立扫描循环
func (d *DCSweep) Init(context.Context) error {
	if err := d.beginInit(); err != nil {
		return err
	}
	n, err := sweep.Setup(d.params)
	if err != nil {
		return errors.Wrap(err, "直流扫描初始化失败")
	}
	d.dcopStep = tia.LastDCOPStep
	if d.doubleDCOP {
		d.dcopStep = tia.FirstDCOPStep
	}
	d.objective = nil
	d.initDone(n)
	return nil
}

// LoopProcess 依次求解所有扫描点
func (d *DCSweep) LoopProcess(ctx context.Context) error {
	if err := d.expect("LoopProcess", StateInitialized, StatePointComplete); err != nil {
		return err
	}
	for d.loopIter < d.loopSize {
		if d.stopRequested(ctx) {
			return d.stop()
		}
		if _, err := d.TwoLevelStep(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TwoLevelStep 求解当前扫描点一次，返回是否收敛
// 两级耦合求解时由外层直接逐点调用
func (d *DCSweep) TwoLevelStep(ctx context.Context) (bool, error) {
	if d.loopIter >= d.loopSize {
		return false, errors.Wrap(ErrState, "直流扫描已完成全部点")
	}
	if err := d.beginPoint(); err != nil {
		return false, err
	}
	if err := d.preparePoint(); err != nil {
		return false, err
	}
	st, err := d.env.Solver.Solve(ctx, &d.point)
	if err != nil {
		return false, d.pointError(err)
	}
	d.status = st
	d.stats.Add(st.Stats)
	if st.Converged {
		return true, d.ProcessSuccessfulStep(ctx)
	}
	d.stats.NonlinearFailures++
	return false, d.ProcessFailedStep(ctx)
}

func (d *DCSweep) preparePoint() error {
	reset, err := sweep.Update(d.params, d.loopIter)
	if err != nil {
		return err
	}
	d.reset = reset
	if err := d.setParams(d.params); err != nil {
		return err
	}
	// 新一轮扫描从零初值开始
	if reset && d.loopIter != 0 && d.env.Store != nil {
		d.env.Store.SetZeroHistory()
	}
	d.point = Point{
		Kind:   KindDC,
		Index:  d.loopIter,
		Outer:  d.outer,
		Values: sweep.Values(d.params),
		Store:  d.env.Store,
		Info: tia.TimeStepInfo{
			DCOPFlag:             true,
			DCSweepFlag:          true,
			SweepSourceResetFlag: reset,
			DoubleDCOPEnabled:    d.doubleDCOP,
			DoubleDCOPStep:       d.dcopStep,
			StepLoopIter:         max(d.outer, 0),
		},
	}
	return nil
}

// ProcessSuccessfulStep 提交解并输出
func (d *DCSweep) ProcessSuccessfulStep(ctx context.Context) error {
	if err := d.inProgress("ProcessSuccessfulStep"); err != nil {
		return err
	}
	if d.env.Store != nil {
		d.env.Store.Commit()
	}
	d.notify(true)
	if d.dcopStep == tia.FirstDCOPStep {
		// 第一次工作点只作为第二次的初值
		d.dcopStep = tia.LastDCOPStep
		d.endPoint()
		return nil
	}
	var obj []float64
	if d.env.Sens != nil {
		var err error
		if obj, err = d.env.Sens.Calc(ctx, &d.point); err != nil {
			return d.pointError(errors.Wrap(err, "灵敏度计算失败"))
		}
		d.objective = append(d.objective, obj)
	}
	r := Report{Index: d.loopIter, Values: d.point.Values, Objective: obj}
	if d.env.Store != nil {
		r.Solution = d.env.Store.Snapshot()
	}
	if err := d.report(r); err != nil {
		return err
	}
	d.stats.SuccessSteps++
	d.loopIter++
	d.endPoint()
	return nil
}

// ProcessFailedStep 回滚并记录失败，继续下一个点
func (d *DCSweep) ProcessFailedStep(context.Context) error {
	if err := d.inProgress("ProcessFailedStep"); err != nil {
		return err
	}
	if d.env.Store != nil {
		d.env.Store.Rollback()
	}
	d.notify(false)
	d.logger().Warn("直流扫描点不收敛", "index", d.loopIter, "values", d.point.Values, "reason", d.status.Reason)
	d.recordFailure()
	d.dcopStep = tia.LastDCOPStep
	d.loopIter++
	d.endPoint()
	return nil
}

// Finish 结束扫描
func (d *DCSweep) Finish() error { return d.finish() }

// Run 执行完整扫描
func (d *DCSweep) Run(ctx context.Context) error { return Run(ctx, d) }

// ResetReported 最近一个点是否发生扫描重置
func (d *DCSweep) ResetReported() bool { return d.reset }

// Params 扫描参数
func (d *DCSweep) Params() []*sweep.Param { return d.params }

// Objective 各成功点的灵敏度目标函数值
func (d *DCSweep) Objective() [][]float64 { return d.objective }
