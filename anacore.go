package anacore

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"anacore/anp"
	"anacore/config"
	"anacore/linsys"
	"anacore/output"

	"github.com/pkg/errors"
)

// Simulation 一次仿真：电路、选定的分析与结果记录
type Simulation struct {
	Plan    *config.Plan
	Circuit *linsys.Circuit
	Record  *output.Record
	Log     *slog.Logger

	analysis anp.Analysis
}

// Build 按配置建立电路
func Build(cfg *config.Config) (*Simulation, error) {
	plan, err := cfg.Plan()
	if err != nil {
		return nil, err
	}
	return New(plan)
}

// New 按分析计划建立电路
func New(plan *config.Plan) (*Simulation, error) {
	ckt, err := linsys.New(plan.Elements, plan.Ports)
	if err != nil {
		return nil, errors.Wrapf(anp.ErrConfig, "建立电路失败: %v", err)
	}
	ckt.RelTol, ckt.AbsTol, ckt.MaxIter = plan.Solver.RelTol, plan.Solver.AbsTol, plan.Solver.MaxIter
	for _, name := range plan.Sens {
		if !slices.Contains(ckt.Params(), strings.ToUpper(name)) {
			return nil, errors.Wrapf(anp.ErrConfig, "灵敏度参数不存在: %s", name)
		}
	}
	rec := output.NewRecord(ckt.Unknowns()...)
	rec.Elements = plan.Connections()
	return &Simulation{Plan: plan, Circuit: ckt, Record: rec, Log: anp.Logger}, nil
}

// Analysis 最近一次 Run 创建的分析
func (s *Simulation) Analysis() anp.Analysis { return s.analysis }

// Run 执行分析，extra 为记录之外的附加输出
// stop 可为 nil，ctx 取消与停止请求效果相同
func (s *Simulation) Run(ctx context.Context, stop anp.Stopper, extra ...anp.OutputMgr) error {
	env := s.Circuit.Env()
	env.Output = append(output.Multi{s.Record}, extra...)
	env.Stopper = stop
	env.Log = s.Log
	if len(s.Plan.Sens) > 0 {
		env.Sens = s.Circuit.Sensitivity(s.Plan.Sens...)
	}
	a, err := anp.New(s.Plan.Kind, env, s.Plan.Options)
	if err != nil {
		return err
	}
	s.analysis = a
	s.Log.Info("开始仿真", "analysis", s.Plan.Kind.String(), "unknowns", s.Circuit.Size())
	if err := anp.Run(ctx, a); err != nil {
		return errors.Wrapf(err, "%s 分析失败", s.Plan.Kind)
	}
	s.Log.Info("仿真完成",
		"points", a.LoopSize(),
		"failed", len(a.Failures()),
		"stopped", a.Stopped(),
		"stats", a.Stats())
	return nil
}

// Write 写出记录、图表与图片
func (s *Simulation) Write(ctx context.Context, dir, format string) error {
	return output.WriteFiles(ctx, dir, output.Files(s.Record, format))
}

// Simulate 按配置执行分析并写出结果
// 分析失败时已记录的点仍会写出
func Simulate(ctx context.Context, cfg *config.Config, stop anp.Stopper) (*Simulation, error) {
	sim, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	runErr := sim.Run(ctx, stop)
	if err := sim.Write(context.WithoutCancel(ctx), cfg.Output.Dir, cfg.Output.Plot); err != nil {
		if runErr != nil {
			return sim, errors.Wrap(runErr, err.Error())
		}
		return sim, err
	}
	return sim, runErr
}
