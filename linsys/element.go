package linsys

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NodeID 节点索引
type NodeID int

// Gnd 地节点
const Gnd NodeID = -1

// ElementKind 元件类型
type ElementKind uint8

// 元件类型定义
const (
	Resistor  ElementKind = iota // 电阻 (Ω)
	Capacitor                    // 电容 (F)
	VSource                      // 独立电压源 (V)
	ISource                      // 独立电流源 (A)
	Diode                        // 二极管，Value 为饱和电流 (A)
)

var elementPrefix = map[byte]ElementKind{'R': Resistor, 'C': Capacitor, 'V': VSource, 'I': ISource, 'D': Diode}

// KindOf 按元件名首字母确定类型
func KindOf(name string) (ElementKind, bool) {
	if name == "" {
		return 0, false
	}
	k, ok := elementPrefix[strings.ToUpper(name[:1])[0]]
	return k, ok
}

func (k ElementKind) String() string {
	switch k {
	case Resistor:
		return "R"
	case Capacitor:
		return "C"
	case VSource:
		return "V"
	case ISource:
		return "I"
	case Diode:
		return "D"
	}
	return "?"
}

const (
	thermalVoltage = 0.025865 // 27°C 热电压 (V)
	diodeGmin      = 1e-12    // 二极管最小电导
)

// Element 元件描述
type Element struct {
	Name   string
	Kind   ElementKind
	N1, N2 string  // 正/负端节点名
	Value  float64 // 主值
	AC     float64 // 交流激励幅度，仅电源有效
	Delay  float64 // 电源在 Delay 之前输出 0

	n1, n2 NodeID
	branch int // 电压源支路序号
}

func (e *Element) validate() error {
	switch e.Kind {
	case Resistor:
		if e.Value <= 0 {
			return errors.Errorf("电阻 %s 阻值必须大于0: %g", e.Name, e.Value)
		}
	case Capacitor:
		if e.Value < 0 {
			return errors.Errorf("电容 %s 容值不能为负: %g", e.Name, e.Value)
		}
	case Diode:
		if e.Value <= 0 {
			return errors.Errorf("二极管 %s 饱和电流必须大于0: %g", e.Name, e.Value)
		}
	case VSource, ISource:
		if e.Delay < 0 {
			return errors.Errorf("电源 %s 延迟不能为负: %g", e.Name, e.Delay)
		}
	default:
		return errors.Errorf("元件 %s 类型未知: %d", e.Name, e.Kind)
	}
	return nil
}

// sourceAt 电源在 t 时刻的值
func (e *Element) sourceAt(t float64) float64 {
	if t < e.Delay {
		return 0
	}
	return e.Value
}

// stamper 在稠密矩阵上加盖，地节点被忽略
type stamper struct {
	a     *mat.Dense
	z     []float64
	nodes int
}

func (s stamper) matrix(i, j NodeID, v float64) {
	if i > Gnd && j > Gnd {
		s.a.Set(int(i), int(j), s.a.At(int(i), int(j))+v)
	}
}

func (s stamper) rightSide(i NodeID, v float64) {
	if i > Gnd && s.z != nil {
		s.z[i] += v
	}
}

func (s stamper) admittance(n1, n2 NodeID, y float64) {
	s.matrix(n1, n1, y)
	s.matrix(n2, n2, y)
	s.matrix(n1, n2, -y)
	s.matrix(n2, n1, -y)
}

func (s stamper) currentSource(n1, n2 NodeID, i float64) {
	s.rightSide(n1, -i)
	s.rightSide(n2, i)
}

func (s stamper) voltageSource(n1, n2 NodeID, vs int, v float64) {
	row := NodeID(s.nodes + vs)
	s.matrix(n1, row, 1)
	s.matrix(n2, row, -1)
	s.matrix(row, n1, 1)
	s.matrix(row, n2, -1)
	if s.z != nil {
		s.z[row] = v
	}
}

func voltage(x []float64, n NodeID) float64 {
	if n > Gnd && x != nil {
		return x[n]
	}
	return 0
}

// limit 二极管电压限幅，避免指数项溢出
func (e *Element) limit(vnew, vold float64) float64 {
	vcrit := thermalVoltage * math.Log(thermalVoltage/(math.Sqrt2*e.Value))
	if vnew > vcrit && math.Abs(vnew-vold) > 2*thermalVoltage {
		if vold > 0 {
			arg := 1 + (vnew-vold)/thermalVoltage
			if arg > 0 {
				return vold + thermalVoltage*math.Log(arg)
			}
			return vcrit
		}
		return thermalVoltage * math.Log(vnew/thermalVoltage)
	}
	return vnew
}

// companion 二极管在 vd 处的线性化电导与等效电流
func (e *Element) companion(vd float64) (gd, ieq float64) {
	ex := math.Exp(vd / thermalVoltage)
	id := e.Value * (ex - 1)
	gd = e.Value/thermalVoltage*ex + diodeGmin
	return gd, id - gd*vd
}
