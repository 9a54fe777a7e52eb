package tia

// Mode 积分方式
type Mode uint8

// 积分方式定义
const (
	ModeNone     Mode = iota // 无时间积分（直流/交流点）
	ModeBackward             // 后向欧拉
	ModeTrap                 // 梯形法
	ModeGear                 // Gear 方法
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeBackward:
		return "be"
	case ModeTrap:
		return "trap"
	case ModeGear:
		return "gear"
	}
	return "unknown"
}

// TimeStepInfo 积分器状态快照
// 每次尝试步进时生成一份，只读传递给内层求解
type TimeStepInfo struct {
	CurrentOrder     int     // 当前阶数
	UsedOrder        int     // 上一步实际使用阶数
	NumberOfSteps    int     // 已接受步数
	Nscsco           int     // 阶数不变的连续步数
	NextTimeStep     float64 // 下一步长
	CurrTimeStep     float64 // 当前步长
	StartingTimeStep float64 // 起始步长
	CurrentTime      float64 // 当前时间
	NextTime         float64 // 本次尝试的目标时间
	FinalTime        float64 // 结束时间
	BpTol            float64 // 断点容差
	Pdt              float64 // 积分系数 alpha/dt

	DCOPFlag             bool // 直流工作点求解
	ACOPFlag             bool // 交流分析前的工作点
	TranOPFlag           bool // 瞬态分析前的工作点
	TransientFlag        bool // 瞬态步进
	DCSweepFlag          bool // 直流扫描
	InputOPFlag          bool // 从文件读入工作点
	InitTranFlag         bool // 瞬态第一步
	BeginIntegrationFlag bool // 积分重新开始（断点之后）
	SweepSourceResetFlag bool // 扫描源本轮重置

	DoubleDCOPEnabled bool // 启用两次直流工作点
	DoubleDCOPStep    int  // 两次直流工作点的当前序号

	TimeStepNumber int  // 时间步编号
	StepLoopIter   int  // 外层 STEP 循环序号
	Mode           Mode // 积分方式
}

// Double DCOP 序号
const (
	FirstDCOPStep = 0 // 第一次工作点
	LastDCOPStep  = 1 // 最后一次工作点
)
