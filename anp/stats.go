package anp

import (
	"log/slog"
	"time"
)

// SolveStats 单次求解的计数
type SolveStats struct {
	Jacobians          int
	Factorizations     int
	LinearSolves       int
	FailedLinearSolves int
	LinearIters        int
	Residuals          int
	LoadTime           time.Duration
	SolveTime          time.Duration
}

// Add 累加
func (s *SolveStats) Add(o SolveStats) {
	s.Jacobians += o.Jacobians
	s.Factorizations += o.Factorizations
	s.LinearSolves += o.LinearSolves
	s.FailedLinearSolves += o.FailedLinearSolves
	s.LinearIters += o.LinearIters
	s.Residuals += o.Residuals
	s.LoadTime += o.LoadTime
	s.SolveTime += o.SolveTime
}

// Stats 整个分析的统计
type Stats struct {
	SolveStats
	SuccessSteps      int
	FailedSteps       int
	NonlinearFailures int
	Elapsed           time.Duration
}

// LogValue 实现 slog.LogValuer
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("success", s.SuccessSteps),
		slog.Int("failed", s.FailedSteps),
		slog.Int("nonlinear_failures", s.NonlinearFailures),
		slog.Int("jacobians", s.Jacobians),
		slog.Int("linear_solves", s.LinearSolves),
		slog.Int("failed_linear_solves", s.FailedLinearSolves),
		slog.Int("linear_iters", s.LinearIters),
		slog.Int("residuals", s.Residuals),
		slog.Duration("load", s.LoadTime),
		slog.Duration("solve", s.SolveTime),
		slog.Duration("elapsed", s.Elapsed),
	)
}
