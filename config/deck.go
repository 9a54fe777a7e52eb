package config

import (
	"bufio"
	"io"
	"slices"
	"strings"

	"anacore/anp"
	"anacore/linsys"
	"anacore/sweep"

	"github.com/pkg/errors"
)

// Deck 网表解析结果
type Deck struct {
	Elements []linsys.Element
	Kinds    []anp.Kind // 分析卡片，按出现顺序
	Options  anp.Options
	Ports    []string // .PORT 输出节点
	Sens     []string // .SENS 灵敏度参数

	// .OPTIONS 中的求解器设置，0 表示未设置
	RelTol  float64
	AbsTol  float64
	MaxIter int
}

// Has 网表是否含有该分析卡片
func (d *Deck) Has(kind anp.Kind) bool { return slices.Contains(d.Kinds, kind) }

// ParseDeck 解析网表
// 元件行为 `名称 节点1 节点2 值 [AC 幅度] [DELAY 时间]`，点号开头的行为控制卡片
func ParseDeck(r io.Reader) (*Deck, error) {
	d := &Deck{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		f := Fields(scanner.Text())
		if len(f) == 0 {
			continue
		}
		var err error
		if f[0][0] == '.' {
			if f.Keyword(0) == ".END" {
				break
			}
			err = d.card(f)
		} else {
			err = d.element(f)
		}
		if err != nil {
			return nil, errors.Wrapf(anp.ErrConfig, "第 %d 行: %v", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "读取网表失败")
	}
	if len(d.Elements) == 0 {
		return nil, errors.Wrap(anp.ErrConfig, "网表没有元件")
	}
	return d, nil
}

// element 解析元件行
func (d *Deck) element(f NetList) error {
	kind, ok := linsys.KindOf(f[0])
	if !ok {
		return errors.Errorf("未知元件类型: %s", f[0])
	}
	if len(f) < 3 {
		return errors.Errorf("元件 %s 缺少节点", f[0])
	}
	e := linsys.Element{Name: strings.ToUpper(f[0]), Kind: kind, N1: f[1], N2: f[2]}
	hasValue := false
	for i := 3; i < len(f); i++ {
		var err error
		switch f.Keyword(i) {
		case "DC":
			i++
			e.Value, err = f.Float(i, "直流值")
			hasValue = true
		case "AC":
			i++
			e.AC, err = f.Float(i, "交流幅度")
		case "DELAY", "TD":
			i++
			e.Delay, err = f.Float(i, "延迟")
		default:
			if hasValue {
				return errors.Errorf("元件 %s 多余字段: %s", e.Name, f[i])
			}
			e.Value, err = f.Float(i, "元件值")
			hasValue = true
		}
		if err != nil {
			return errors.Wrapf(err, "元件 %s", e.Name)
		}
	}
	if !hasValue {
		switch kind {
		case linsys.Resistor, linsys.Capacitor:
			return errors.Errorf("元件 %s 缺少值", e.Name)
		case linsys.Diode:
			e.Value = defaultSaturation
		}
	}
	d.Elements = append(d.Elements, e)
	return nil
}

// card 解析控制卡片
func (d *Deck) card(f NetList) (err error) {
	switch name := f.Keyword(0); name {
	case ".DC":
		d.Options.DC.Params, err = parseSweep(f, 1)
		return d.add(anp.KindDC, err)
	case ".STEP":
		d.Options.Step.Params, err = parseSweep(f, 1)
		return d.add(anp.KindStep, err)
	case ".AC":
		d.Options.AC, err = parseAC(f)
		return d.add(anp.KindAC, err)
	case ".TRAN":
		d.Options.Tran, err = parseTran(f, d.Options.Tran)
		return d.add(anp.KindTransient, err)
	case ".MPDE":
		d.Options.MPDE, err = parseMPDE(f, d.Options.MPDE)
		return d.add(anp.KindMPDE, err)
	case ".MOR":
		d.Options.MOR, err = parseMOR(f)
		return d.add(anp.KindMOR, err)
	case ".OPTIONS", ".OPTION":
		return d.options(f)
	case ".PORT", ".PRINT":
		d.Ports = append(d.Ports, f[1:]...)
	case ".SENS":
		d.Sens = append(d.Sens, f[1:]...)
	case ".BP":
		for i := 1; i < len(f); i++ {
			t, err := f.Float(i, "断点")
			if err != nil {
				return err
			}
			d.Options.Tran.BreakPoints = append(d.Options.Tran.BreakPoints, t)
			d.Options.MPDE.BreakPoints = append(d.Options.MPDE.BreakPoints, t)
		}
	default:
		return errors.Errorf("未知控制卡片: %s", name)
	}
	return nil
}

func (d *Deck) add(kind anp.Kind, err error) error {
	if err != nil {
		return errors.Wrapf(err, ".%s", kind)
	}
	if d.Has(kind) {
		return errors.Errorf("分析卡片重复: .%s", kind)
	}
	d.Kinds = append(d.Kinds, kind)
	return nil
}

// parseSweep 解析扫描参数组 `[LIN|DEC|OCT|LIST] 名称 ...`
// LIN 为起止值与步长，DEC/OCT 为起止值与每倍程点数，LIST 为其后的全部数值
func parseSweep(f NetList, i int) ([]*sweep.Param, error) {
	var params []*sweep.Param
	for i < len(f) {
		p := &sweep.Param{Kind: sweep.LIN}
		if k, err := sweep.ParseKind(f[i]); err == nil {
			p.Kind = k
			i++
		}
		if i >= len(f) {
			return nil, errors.New("缺少扫描参数名")
		}
		p.Name = strings.ToUpper(f[i])
		i++
		var err error
		switch p.Kind {
		case sweep.LIST:
			for f.IsNumber(i) {
				v, _ := ParseValue(f[i])
				p.ValList = append(p.ValList, v)
				i++
			}
		case sweep.DEC, sweep.OCT:
			if p.StartVal, err = f.Float(i, "起始值"); err != nil {
				return nil, err
			}
			if p.StopVal, err = f.Float(i+1, "结束值"); err != nil {
				return nil, err
			}
			if p.NumSteps, err = f.Int(i+2, "每倍程点数"); err != nil {
				return nil, err
			}
			i += 3
		default:
			if p.StartVal, err = f.Float(i, "起始值"); err != nil {
				return nil, err
			}
			if p.StopVal, err = f.Float(i+1, "结束值"); err != nil {
				return nil, err
			}
			if p.StepVal, err = f.Float(i+2, "步长"); err != nil {
				return nil, err
			}
			i += 3
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	if len(params) == 0 {
		return nil, errors.New("没有扫描参数")
	}
	return params, nil
}

// parseFreq 解析 `DEC|OCT|LIN 点数 起始频率 结束频率`
func parseFreq(f NetList, i int) (kind sweep.Kind, np int, fstart, fstop float64, err error) {
	if kind, err = sweep.ParseKind(f.Keyword(i)); err != nil || f.Keyword(i) == "" {
		return 0, 0, 0, 0, errors.New("缺少频率扫描方式")
	}
	if kind == sweep.LIST {
		return 0, 0, 0, 0, errors.New("频率扫描不支持 LIST")
	}
	if np, err = f.Int(i+1, "点数"); err != nil {
		return
	}
	if fstart, err = f.Float(i+2, "起始频率"); err != nil {
		return
	}
	fstop, err = f.Float(i+3, "结束频率")
	return
}

// parseAC 解析 `.AC DEC 点数 起始频率 结束频率`
func parseAC(f NetList) (o anp.ACOptions, err error) {
	o.Kind, o.NumPoints, o.FStart, o.FStop, err = parseFreq(f, 1)
	return o, err
}

// parseTran 解析 `.TRAN 步长 结束时间 [起始时间 [最大步长]] [UIC]`
func parseTran(f NetList, o anp.TranOptions) (anp.TranOptions, error) {
	var err error
	if o.Step, err = f.Float(1, "步长"); err != nil {
		return o, err
	}
	if o.Stop, err = f.Float(2, "结束时间"); err != nil {
		return o, err
	}
	for i, pos := 3, 0; i < len(f); i++ {
		if f.Keyword(i) == "UIC" {
			o.NoDCOP = true
			continue
		}
		v, err := f.Float(i, "时间")
		if err != nil {
			return o, err
		}
		switch pos {
		case 0:
			o.Start = v
		case 1:
			o.MaxStep = v
		default:
			return o, errors.Errorf("多余字段: %s", f[i])
		}
		pos++
	}
	return o, nil
}

// parseMPDE 解析 `.MPDE 步长 结束时间 快时间步长`
func parseMPDE(f NetList, o anp.MPDEOptions) (anp.MPDEOptions, error) {
	var err error
	if o.Step, err = f.Float(1, "步长"); err != nil {
		return o, err
	}
	if o.Stop, err = f.Float(2, "结束时间"); err != nil {
		return o, err
	}
	o.FastStep, err = f.Float(3, "快时间步长")
	return o, err
}

// parseMOR 解析 `.MOR 阶数 展开频率 DEC 点数 起始频率 结束频率 [ORIG] [RED]`
func parseMOR(f NetList) (o anp.MOROptions, err error) {
	if o.Size, err = f.Int(1, "降阶阶数"); err != nil {
		return
	}
	if o.ExpPoint, err = f.Float(2, "展开频率"); err != nil {
		return
	}
	if o.Kind, o.NumPoints, o.FStart, o.FStop, err = parseFreq(f, 3); err != nil {
		return
	}
	for i := 7; i < len(f); i++ {
		switch f.Keyword(i) {
		case "ORIG", "ORIGINAL":
			o.Original = true
		case "RED", "REDUCED":
			o.Reduced = true
		default:
			return o, errors.Errorf("多余字段: %s", f[i])
		}
	}
	return o, nil
}

// options 解析 `.OPTIONS 名称=值 ...`
func (d *Deck) options(f NetList) error {
	for _, kv := range f[1:] {
		key, val, _ := strings.Cut(strings.ToUpper(kv), "=")
		v := NetList{val}
		var err error
		switch key {
		case "RELTOL":
			d.RelTol, err = v.Float(0, key)
		case "ABSTOL":
			d.AbsTol, err = v.Float(0, key)
		case "MAXITER":
			d.MaxIter, err = v.Int(0, key)
		case "MAXRETRIES":
			var n int
			n, err = v.Int(0, key)
			d.Options.Tran.MaxRetries, d.Options.MPDE.MaxRetries = n, n
		case "MINSTEP":
			var t float64
			t, err = v.Float(0, key)
			d.Options.Tran.MinStep, d.Options.MPDE.MinStep = t, t
		case "CONSTSTEP":
			d.Options.Tran.ConstantStep = true
		case "DOUBLEDCOP":
			d.Options.DC.DoubleDCOP = true
		default:
			return errors.Errorf("未知选项: %s", key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
