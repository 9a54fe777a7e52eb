package anp

import (
	"context"
	"log/slog"

	"anacore/sweep"
	"anacore/tia"
)

// System 传递函数所针对的系统
type System uint8

// 系统定义
const (
	SystemOriginal System = iota // 原始系统
	SystemReduced                // 降阶系统
)

func (s System) String() string {
	if s == SystemReduced {
		return "reduced"
	}
	return "original"
}

// Point 单个求解点的上下文
type Point struct {
	Kind   Kind
	Index  int // 循环序号，工作点为 -1
	Outer  int // STEP 外层序号，未嵌套为 -1
	Values []sweep.Value
	Freq   float64
	System System
	Info   tia.TimeStepInfo
	Store  *tia.DataStore

	// 交流与降阶的结果由线性系统写入
	Re, Im []float64
	Ports  int
	H      []complex128 // 端口传递函数，按行展开 Ports×Ports
}

// Status 单次求解结果
type Status struct {
	Converged bool
	Reason    error // 未收敛原因
	Stats     SolveStats

	// 外层局部截断误差平方和，瞬态类分析使用
	XErrorSum float64
	QErrorSum float64
	Size      int
}

// Report 输出给结果管理的点数据
type Report struct {
	Kind      Kind
	Index     int
	Outer     int
	Values    []sweep.Value
	Time      float64
	Freq      float64
	System    System
	Solution  []float64
	Re, Im    []float64
	Ports     int
	H         []complex128
	Objective []float64
}

// NonlinearSolver 非线性求解，一个点调用一次
// 返回的 error 为不可恢复错误，不收敛通过 Status 表达
type NonlinearSolver interface {
	Solve(ctx context.Context, p *Point) (Status, error)
}

// LinearSystem 组装并求解交流/降阶线性系统
type LinearSystem interface {
	AssembleAndSolve(ctx context.Context, p *Point) (Status, error)
}

// Reducer 模型降阶
type Reducer interface {
	Reduce(ctx context.Context, size int, s0 float64) error
}

// DeviceInterface 器件侧回调
type DeviceInterface interface {
	SetParam(name string, v float64) error
	NotifyStepResult(ok bool, kind Kind)
	BreakPoints() []float64
}

// InnerSolver 两级求解中的内层
// 返回的 bool 为内层是否成功
type InnerSolver interface {
	RunStep(ctx context.Context, info tia.TimeStepInfo) (tia.TwoLevelError, bool, error)
}

// OutputMgr 结果输出
type OutputMgr interface {
	ReportPoint(r Report) error
	ReportFailures(kind Kind, outer int, failed []int)
}

// Stopper 外部停止请求
type Stopper interface {
	StopRequested() bool
}

// Sensitivity 灵敏度目标函数
type Sensitivity interface {
	Calc(ctx context.Context, p *Point) ([]float64, error)
}

// Env 分析依赖的外部协作对象
type Env struct {
	Solver  NonlinearSolver
	Linear  LinearSystem
	Reducer Reducer
	Device  DeviceInterface
	Output  OutputMgr
	Stopper Stopper
	Inner   []InnerSolver
	Sens    Sensitivity
	Store   *tia.DataStore
	Log     *slog.Logger
}

// StopFunc 函数形式的 Stopper
type StopFunc func() bool

// StopRequested 实现 Stopper
func (f StopFunc) StopRequested() bool { return f() }
