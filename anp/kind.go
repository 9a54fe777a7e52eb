package anp

import (
	"strings"

	"anacore/sweep"

	"github.com/pkg/errors"
)

// Kind 分析类型
type Kind uint8

// 分析类型定义
const (
	KindDC        Kind = iota // 直流扫描
	KindAC                    // 交流小信号扫描
	KindStep                  // 参数 STEP 外层循环
	KindTransient             // 瞬态
	KindMPDE                  // 多时间尺度
	KindMOR                   // 模型降阶
	kindCount
)

var kindNames = [kindCount]string{"DC", "AC", "STEP", "TRAN", "MPDE", "MOR"}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// ParseKind 解析分析类型名称
func ParseKind(s string) (Kind, error) {
	name := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(s), "."))
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	if name == "TRANSIENT" {
		return KindTransient, nil
	}
	return 0, errors.Wrapf(ErrConfig, "未知分析类型: %q", s)
}

// MarshalText 文本编码
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText 文本解码
func (k *Kind) UnmarshalText(b []byte) (err error) {
	*k, err = ParseKind(string(b))
	return err
}

// State 分析生命周期状态
type State uint8

// 状态定义
const (
	StateUninitialized State = iota
	StateInitialized
	StatePointInProgress
	StatePointComplete
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "未初始化"
	case StateInitialized:
		return "已初始化"
	case StatePointInProgress:
		return "求解中"
	case StatePointComplete:
		return "点完成"
	case StateFinished:
		return "已结束"
	}
	return "未知"
}

// Options 各分析类型的配置
type Options struct {
	DC   DCOptions
	AC   ACOptions
	Tran TranOptions
	MPDE MPDEOptions
	MOR  MOROptions
	Step StepOptions
}

// StepOptions STEP 外层循环配置
type StepOptions struct {
	Params []*sweep.Param // 外层扫描参数
	Inner  Kind           // 被重复的分析类型
}

type builder func(Env, Options) (Analysis, error)

var builders [kindCount]builder

func init() {
	builders = [kindCount]builder{
		KindDC:        func(e Env, o Options) (Analysis, error) { return wrap(NewDCSweep(e, o.DC)) },
		KindAC:        func(e Env, o Options) (Analysis, error) { return wrap(NewAC(e, o.AC)) },
		KindStep:      newStepFromOptions,
		KindTransient: func(e Env, o Options) (Analysis, error) { return wrap(NewTransient(e, o.Tran)) },
		KindMPDE:      func(e Env, o Options) (Analysis, error) { return wrap(NewMPDE(e, o.MPDE)) },
		KindMOR:       func(e Env, o Options) (Analysis, error) { return wrap(NewMOR(e, o.MOR)) },
	}
}

func wrap[T Analysis](a T, err error) (Analysis, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newStepFromOptions(env Env, opts Options) (Analysis, error) {
	if opts.Step.Inner == KindStep {
		return nil, errors.Wrap(ErrConfig, "STEP 不能以自身作为内层分析")
	}
	inner, err := New(opts.Step.Inner, env, opts)
	if err != nil {
		return nil, errors.Wrap(err, "创建内层分析失败")
	}
	return wrap(NewStep(env, opts.Step.Params, inner))
}

// New 按分析类型创建分析
func New(kind Kind, env Env, opts Options) (Analysis, error) {
	if kind >= kindCount || builders[kind] == nil {
		return nil, errors.Wrapf(ErrConfig, "未知分析类型: %d", kind)
	}
	return builders[kind](env, opts)
}
