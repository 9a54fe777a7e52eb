package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"anacore/anp"
	"anacore/linsys"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const defaultSaturation = 1e-14 // 二极管默认饱和电流 (A)

// Config 仿真配置文件
type Config struct {
	Netlist  string   `yaml:"netlist"`  // 内联网表
	File     string   `yaml:"file"`     // 网表文件，相对于配置文件所在目录
	Analysis string   `yaml:"analysis"` // 网表有多个分析卡片时选择运行的分析
	Ports    []string `yaml:"ports"`    // 输出节点，与 .PORT 合并
	Solver   Solver   `yaml:"solver"`
	Output   Output   `yaml:"output"`
	LogLevel string   `yaml:"log_level"`
}

// Solver 求解器设置，网表 .OPTIONS 优先
type Solver struct {
	RelTol     float64 `yaml:"reltol"`
	AbsTol     float64 `yaml:"abstol"`
	MaxIter    int     `yaml:"max_iter"`
	MaxRetries int     `yaml:"max_retries"`
	DoubleDCOP bool    `yaml:"double_dcop"`
}

// Output 结果输出设置
type Output struct {
	Dir  string `yaml:"dir"`  // 输出目录
	Plot string `yaml:"plot"` // 图片格式，空为不输出图片
}

var plotFormats = []string{"png", "svg", "pdf", "eps", "jpg", "jpeg", "tif", "tiff"}

// Default 默认配置
func Default() *Config {
	return &Config{
		Solver: Solver{
			RelTol:  linsys.DefaultRelTol,
			AbsTol:  linsys.DefaultAbsTol,
			MaxIter: linsys.DefaultMaxIter,
		},
		Output:   Output{Dir: "out"},
		LogLevel: "info",
	}
}

// Load 读取配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "读取配置文件失败")
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if c.File != "" && !filepath.IsAbs(c.File) {
		c.File = filepath.Join(filepath.Dir(path), c.File)
	}
	return c, nil
}

// Parse 解析配置内容，未给出的字段取默认值
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, errors.Wrapf(anp.ErrConfig, "配置格式错误: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 检查配置
func (c *Config) Validate() error {
	if (c.Netlist == "") == (c.File == "") {
		return errors.Wrap(anp.ErrConfig, "netlist 与 file 必须且只能给出一个")
	}
	if c.Analysis != "" {
		if _, err := anp.ParseKind(c.Analysis); err != nil {
			return err
		}
	}
	if c.Solver.RelTol <= 0 || c.Solver.AbsTol <= 0 {
		return errors.Wrap(anp.ErrConfig, "容差必须大于0")
	}
	if c.Solver.MaxIter < 1 {
		return errors.Wrapf(anp.ErrConfig, "最大迭代次数必须大于0: %d", c.Solver.MaxIter)
	}
	if c.Solver.MaxRetries < 0 {
		return errors.Wrapf(anp.ErrConfig, "最大重试次数不能为负: %d", c.Solver.MaxRetries)
	}
	if c.Output.Plot != "" && !slices.Contains(plotFormats, strings.ToLower(c.Output.Plot)) {
		return errors.Wrapf(anp.ErrConfig, "不支持的图片格式: %s", c.Output.Plot)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level 日志级别
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, errors.Wrapf(anp.ErrConfig, "日志级别错误: %s", c.LogLevel)
	}
	return l, nil
}

// Deck 读取并解析网表
func (c *Config) Deck() (*Deck, error) {
	if c.File == "" {
		return ParseDeck(strings.NewReader(c.Netlist))
	}
	f, err := os.Open(c.File)
	if err != nil {
		return nil, errors.Wrap(err, "打开网表失败")
	}
	defer f.Close()
	return ParseDeck(f)
}

// Plan 选定的分析及其全部输入
type Plan struct {
	Kind     anp.Kind
	Options  anp.Options
	Elements []linsys.Element
	Ports    []string
	Sens     []string
	Solver   Solver
}

// Plan 解析网表并确定运行的分析
// 未指定 analysis 时，有 .STEP 则以第一个其他分析卡片为内层，否则运行第一个分析卡片
func (c *Config) Plan() (*Plan, error) {
	d, err := c.Deck()
	if err != nil {
		return nil, err
	}
	p := &Plan{
		Options:  d.Options,
		Elements: d.Elements,
		Ports:    append(slices.Clone(c.Ports), d.Ports...),
		Sens:     d.Sens,
		Solver:   c.Solver,
	}
	if d.RelTol > 0 {
		p.Solver.RelTol = d.RelTol
	}
	if d.AbsTol > 0 {
		p.Solver.AbsTol = d.AbsTol
	}
	if d.MaxIter > 0 {
		p.Solver.MaxIter = d.MaxIter
	}
	if p.Options.Tran.MaxRetries == 0 {
		p.Options.Tran.MaxRetries = c.Solver.MaxRetries
		p.Options.MPDE.MaxRetries = c.Solver.MaxRetries
	}
	p.Options.DC.DoubleDCOP = p.Options.DC.DoubleDCOP || c.Solver.DoubleDCOP

	inner := slices.IndexFunc(d.Kinds, func(k anp.Kind) bool { return k != anp.KindStep })
	switch {
	case c.Analysis != "":
		p.Kind, _ = anp.ParseKind(c.Analysis)
		if !d.Has(p.Kind) {
			return nil, errors.Wrapf(anp.ErrConfig, "网表没有 .%s 卡片", p.Kind)
		}
	case len(d.Kinds) == 0:
		return nil, errors.Wrap(anp.ErrConfig, "网表没有分析卡片")
	case d.Has(anp.KindStep):
		p.Kind = anp.KindStep
	default:
		p.Kind = d.Kinds[0]
	}
	if p.Kind == anp.KindStep {
		if inner < 0 {
			return nil, errors.Wrap(anp.ErrConfig, ".STEP 需要一个内层分析卡片")
		}
		p.Options.Step.Inner = d.Kinds[inner]
	}
	return p, nil
}

// Connections 元件名到所连节点名
func (p *Plan) Connections() map[string][]string {
	m := make(map[string][]string, len(p.Elements))
	for _, e := range p.Elements {
		m[e.Name] = []string{strings.ToUpper(e.N1), strings.ToUpper(e.N2)}
	}
	return m
}
