package sweep

import (
	"math"

	"github.com/pkg/errors"
)

const machinePrecision = 2.220446049250313e-16 // 双精度机器精度

// Setup 建立嵌套扫描循环
// 按声明顺序为每个参数设置 Interval 与 MaxStep，第一个参数变化最快
// 返回整个循环的点数
func Setup(params []*Param) (int, error) {
	if len(params) == 0 {
		return 0, errors.Wrap(ErrConfig, "没有扫描参数")
	}
	interval := 1
	for _, p := range params {
		if err := p.Validate(); err != nil {
			return 0, err
		}
		p.Interval = interval
		count, err := p.pointCount()
		if err != nil {
			return 0, err
		}
		if count < 1 {
			return 0, errors.Wrapf(ErrConfig, "参数 %s 扫描点数为 %d", p.Name, count)
		}
		p.MaxStep = count
		p.Rewind()
		interval *= count
	}
	return interval, nil
}

// pointCount 计算参数局部循环点数，DEC/OCT 同时计算倍率
func (p *Param) pointCount() (int, error) {
	switch p.Kind {
	case LIN:
		c := math.Floor((p.StopVal - p.StartVal) / p.StepVal)
		// 除法舍入可能少算最后一个点
		if math.Abs(p.StopVal-(p.StartVal+(c+1)*p.StepVal)) < 2*machinePrecision {
			c++
		}
		c++
		p.NumSteps = int(c) - 1
		return int(c), nil
	case DEC:
		n := float64(p.NumSteps)
		p.StepMult = math.Exp(math.Ln10 / n)
		return int(math.Floor(math.Abs(math.Log10(p.StartVal)-math.Log10(p.StopVal))*n + 1)), nil
	case OCT:
		n := float64(p.NumSteps)
		p.StepMult = math.Exp(math.Ln2 / n)
		return int(math.Floor(math.Abs(math.Log(p.StartVal)-math.Log(p.StopVal))/math.Ln2*n + 1)), nil
	case LIST:
		return len(p.ValList), nil
	}
	return 0, errors.Wrapf(ErrConfig, "参数 %s 未知扫描方式: %d", p.Name, p.Kind)
}

// NewFrequency 创建频率扫描参数
// LIN 时 np 为总点数，DEC/OCT 时 np 为每倍程点数
func NewFrequency(kind Kind, np int, fstart, fstop float64) (*Param, int, error) {
	if np < 1 {
		return nil, 0, errors.Wrapf(ErrConfig, "频率点数必须大于0: %d", np)
	}
	if fstart <= 0 || fstop < fstart {
		return nil, 0, errors.Wrapf(ErrConfig, "频率范围无效: %g ~ %g", fstart, fstop)
	}
	p := &Param{Name: "FREQ", Kind: kind, StartVal: fstart, StopVal: fstop, NumSteps: np, Interval: 1}
	var count int
	switch kind {
	case LIN:
		if np > 1 {
			p.StepVal = (fstop - fstart) / float64(np-1)
		}
		count = np
	case DEC:
		p.StepMult = math.Pow(10, 1/float64(np))
		count = int(math.Floor(math.Abs(math.Log10(fstart)-math.Log10(fstop))*float64(np) + 1))
	case OCT:
		p.StepMult = math.Pow(2, 1/float64(np))
		count = int(math.Floor(math.Abs(math.Log(fstart)-math.Log(fstop))/math.Ln2*float64(np) + 1))
	default:
		return nil, 0, errors.Wrapf(ErrConfig, "频率扫描不支持 %s", kind)
	}
	p.MaxStep = count
	return p, count, nil
}

// Update 更新全部参数，任意参数重置即返回 true
func Update(params []*Param, stepNumber int) (bool, error) {
	reset := false
	for _, p := range params {
		r, err := p.UpdateCurrentVal(stepNumber)
		if err != nil {
			return false, err
		}
		reset = reset || r
	}
	return reset, nil
}
