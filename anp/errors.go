package anp

import (
	"fmt"

	"anacore/sweep"
	"anacore/tia"

	"github.com/pkg/errors"
)

// 错误分类
var (
	ErrConfig         = sweep.ErrConfig       // 配置错误，初始化时立即返回
	ErrState          = errors.New("分析状态错误") // 生命周期调用顺序错误
	ErrRetryExhausted = tia.ErrRetryExhausted // 重试耗尽，终止整个分析
	ErrDCOP           = errors.New("直流工作点求解失败")
)

// PointError 某个求解点上的不可恢复错误
type PointError struct {
	Kind  Kind
	Index int
	Err   error
}

func (e *PointError) Error() string {
	return fmt.Sprintf("%s 分析第 %d 点: %v", e.Kind, e.Index, e.Err)
}

func (e *PointError) Unwrap() error { return e.Err }
