package sweep

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// ErrConfig 扫描配置错误，不可重试
var ErrConfig = errors.New("扫描配置错误")

// Kind 扫描方式
type Kind uint8

// 扫描方式定义
const (
	LIN  Kind = iota // 线性步进
	DEC              // 十倍频程
	OCT              // 倍频程
	LIST             // 列表取值
)

func (k Kind) String() string {
	switch k {
	case LIN:
		return "LIN"
	case DEC:
		return "DEC"
	case OCT:
		return "OCT"
	case LIST:
		return "LIST"
	}
	return "UNKNOWN"
}

// ParseKind 解析扫描方式，空字符串按 LIN 处理
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "LIN":
		return LIN, nil
	case "DEC":
		return DEC, nil
	case "OCT":
		return OCT, nil
	case "LIST":
		return LIST, nil
	}
	return LIN, errors.Wrapf(ErrConfig, "未知扫描方式: %q", s)
}

// MarshalText 文本编码
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText 文本解码
func (k *Kind) UnmarshalText(b []byte) (err error) {
	*k, err = ParseKind(string(b))
	return err
}

// Param 单个扫描参数
type Param struct {
	Name            string    // 参数名
	Kind            Kind      // 扫描方式
	StartVal        float64   // 起始值
	StopVal         float64   // 结束值
	StepVal         float64   // LIN 步长
	StepMult        float64   // DEC/OCT 倍率
	CurrentVal      float64   // 当前值
	NumSteps        int       // DEC/OCT 每倍程点数
	Count           int       // 更新次数
	MaxStep         int       // 本参数局部循环长度
	Interval        int       // 内层循环乘积
	OuterStepNumber int       // 全局步号除以 Interval
	ValList         []float64 // LIST 取值

	resetFlag bool
	ran       bool // 已经执行过至少一次
	lastLocal int
}

// Validate 检查参数配置
func (p *Param) Validate() error {
	switch p.Kind {
	case LIN:
		if p.StepVal == 0 {
			return errors.Wrapf(ErrConfig, "参数 %s 步长为零", p.Name)
		}
	case DEC, OCT:
		if p.StartVal <= 0 || p.StopVal <= 0 {
			return errors.Wrapf(ErrConfig, "参数 %s 对数扫描起止值必须大于0", p.Name)
		}
		if p.NumSteps <= 0 {
			return errors.Wrapf(ErrConfig, "参数 %s 每倍程点数必须大于0", p.Name)
		}
	case LIST:
		if len(p.ValList) == 0 {
			return errors.Wrapf(ErrConfig, "参数 %s 列表为空", p.Name)
		}
	default:
		return errors.Wrapf(ErrConfig, "参数 %s 未知扫描方式: %d", p.Name, p.Kind)
	}
	return nil
}

// UpdateCurrentVal 按全局步号更新当前值
// 返回本次是否为局部循环的新一轮起点
func (p *Param) UpdateCurrentVal(stepNumber int) (bool, error) {
	if p.Interval < 1 || p.MaxStep < 1 {
		return false, errors.Wrapf(ErrConfig, "参数 %s 未初始化循环: interval=%d maxStep=%d", p.Name, p.Interval, p.MaxStep)
	}
	p.OuterStepNumber = stepNumber / p.Interval
	inum := p.OuterStepNumber / p.MaxStep
	local := p.OuterStepNumber - inum*p.MaxStep

	p.resetFlag = local == 0 && (!p.ran || local != p.lastLocal)
	p.lastLocal = local
	p.ran = true

	switch p.Kind {
	case LIN:
		p.CurrentVal = p.StartVal + float64(local)*p.StepVal
	case DEC, OCT:
		p.CurrentVal = p.StartVal * math.Pow(p.StepMult, float64(local))
	case LIST:
		if len(p.ValList) == 0 {
			return false, errors.Wrapf(ErrConfig, "参数 %s 列表为空", p.Name)
		}
		p.CurrentVal = p.ValList[min(local, len(p.ValList)-1)]
	default:
		return false, errors.Wrapf(ErrConfig, "参数 %s 未知扫描方式: %d", p.Name, p.Kind)
	}
	p.Count++
	return p.resetFlag, nil
}

// ResetFlag 最近一次更新是否发生重置
func (p *Param) ResetFlag() bool { return p.resetFlag }

// LocalStep 最近一次更新的局部步号，未运行时返回 -1
func (p *Param) LocalStep() int {
	if !p.ran {
		return -1
	}
	return p.lastLocal
}

// Rewind 回到未运行状态
func (p *Param) Rewind() {
	p.ran = false
	p.resetFlag = false
	p.lastLocal = 0
	p.Count = 0
	p.OuterStepNumber = 0
}

// Value 参数快照
type Value struct {
	Name string  `json:"name"`
	Val  float64 `json:"value"`
}

// Values 获取当前参数快照
func Values(params []*Param) []Value {
	out := make([]Value, len(params))
	for i, p := range params {
		out[i] = Value{Name: p.Name, Val: p.CurrentVal}
	}
	return out
}
