package anp

import (
	"context"
	"testing"

	"anacore/tia"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportTimes(out *recorder) []float64 {
	ts := make([]float64, 0, len(out.reports))
	for _, r := range out.reports {
		ts = append(ts, r.Time)
	}
	return ts
}

func TestTransientReachesStopTime(t *testing.T) {
	solver := &fakeSolver{}
	dev := &fakeDevice{breakPoints: []float64{0.25}}
	out := &recorder{}
	tr, err := NewTransient(Env{Solver: solver, Device: dev, Output: out, Store: tia.NewDataStore(1)},
		TranOptions{Start: 0, Stop: 1, Step: 0.1})
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background()))
	assert.True(t, solver.calls[0].Info.DCOPFlag)
	assert.True(t, solver.calls[0].Info.TranOPFlag)
	assert.False(t, tr.GetDCOPFlag())

	times := reportTimes(out)
	assert.Equal(t, 0.0, times[0])
	assert.Equal(t, -1, out.reports[0].Index)
	assert.Equal(t, 1.0, times[len(times)-1])
	assert.Contains(t, times, 0.25)
	assert.IsIncreasing(t, times)
	assert.Empty(t, tr.Failures())
	assert.Equal(t, len(times)-1, tr.Stats().SuccessSteps)
	for _, n := range dev.notices {
		assert.Equal(t, notify{true, KindTransient}, n)
	}
}

func TestTransientRetriesInPlace(t *testing.T) {
	solver := &fakeSolver{fail: func(n int, _ *Point) bool { return n == 3 || n == 4 }}
	out := &recorder{}
	tr, err := NewTransient(Env{Solver: solver, Output: out, Store: tia.NewDataStore(1)},
		TranOptions{Start: 0, Stop: 1, Step: 0.1})
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background()))
	assert.Empty(t, tr.Failures())
	assert.Equal(t, 2, tr.Stats().FailedSteps)
	// 失败的尝试与随后的成功尝试使用同一个循环序号，步长逐次缩小
	assert.Equal(t, 2, solver.calls[3].Index)
	assert.Equal(t, 2, solver.calls[4].Index)
	assert.Equal(t, 2, solver.calls[5].Index)
	assert.Less(t, solver.calls[4].Info.NextTimeStep, solver.calls[3].Info.NextTimeStep)
	assert.Less(t, solver.calls[5].Info.NextTimeStep, solver.calls[4].Info.NextTimeStep)
	assert.Equal(t, solver.calls[3].Info.CurrentTime, solver.calls[5].Info.CurrentTime)
	// 失败尝试看到的基准解与重试时一致
	assert.Equal(t, solver.curr[3], solver.curr[5])
	assert.Equal(t, 1.0, reportTimes(out)[len(out.reports)-1])
}

func TestTransientRetryExhausted(t *testing.T) {
	solver := &fakeSolver{fail: func(_ int, p *Point) bool { return p.Info.TransientFlag && p.Info.CurrentTime > 0.25 }}
	out := &recorder{}
	tr, err := NewTransient(Env{Solver: solver, Output: out},
		TranOptions{Start: 0, Stop: 1, Step: 0.1, MaxRetries: 4})
	require.NoError(t, err)

	err = tr.Run(context.Background())
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, StateFinished, tr.State())
	require.Len(t, tr.Failures(), 1)
	require.Len(t, out.failures, 1)
	assert.Equal(t, KindTransient, out.failures[0].Kind)
	assert.Equal(t, 5, tr.Stats().FailedSteps)
	assert.LessOrEqual(t, reportTimes(out)[len(out.reports)-1], 0.5)
}

func TestTransientConstantStepFailsImmediately(t *testing.T) {
	solver := &fakeSolver{fail: func(n int, _ *Point) bool { return n == 2 }}
	tr, err := NewTransient(Env{Solver: solver}, TranOptions{Start: 0, Stop: 1, Step: 0.1, ConstantStep: true})
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Run(context.Background()), ErrRetryExhausted)
	assert.Equal(t, []int{1}, tr.Failures())
}

func TestTransientInnerFailureFailsStep(t *testing.T) {
	solver := &fakeSolver{}
	inner := &fakeInner{fn: func(n int, _ tia.TimeStepInfo) (tia.TwoLevelError, bool) {
		return tia.TwoLevelError{InnerSize: 1}, n != 1
	}}
	other := &fakeInner{}
	tr, err := NewTransient(Env{Solver: solver, Inner: []InnerSolver{inner, other}},
		TranOptions{Start: 0, Stop: 1, Step: 0.1})
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background()))
	assert.Equal(t, 1, tr.Stats().FailedSteps)
	// 内层收到的状态就是外层本次尝试的状态
	assert.Equal(t, solver.calls[2].Info, inner.infos[1])
	assert.Equal(t, solver.calls[3].Info.CurrentTime, inner.infos[1].CurrentTime)
	assert.Less(t, solver.calls[3].Info.NextTimeStep, inner.infos[1].NextTimeStep)
	assert.Len(t, other.infos, len(inner.infos))
}

func TestTransientInnerErrorFolded(t *testing.T) {
	// 外层误差本身可以接受，加上内层误差后超限
	solver := &fakeSolver{errSum: 0.5, errSize: 2}
	inner := &fakeInner{fn: func(n int, _ tia.TimeStepInfo) (tia.TwoLevelError, bool) {
		if n == 0 {
			return tia.TwoLevelError{XErrorSum: 50, QErrorSum: 50, InnerSize: 2}, true
		}
		return tia.TwoLevelError{XErrorSum: 0.1, QErrorSum: 0.1, InnerSize: 2}, true
	}}
	tr, err := NewTransient(Env{Solver: solver, Inner: []InnerSolver{inner}},
		TranOptions{Start: 0, Stop: 1, Step: 0.1})
	require.NoError(t, err)

	require.NoError(t, tr.Run(context.Background()))
	assert.Equal(t, 1, tr.Stats().FailedSteps)
	assert.Less(t, solver.calls[2].Info.NextTimeStep, solver.calls[1].Info.NextTimeStep)
}

func TestTransientDCOPFailure(t *testing.T) {
	solver := &fakeSolver{fail: func(n int, _ *Point) bool { return n == 0 }}
	tr, err := NewTransient(Env{Solver: solver}, TranOptions{Start: 0, Stop: 1, Step: 0.1})
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Run(context.Background()), ErrDCOP)

	// 跳过工作点
	solver = &fakeSolver{}
	tr, err = NewTransient(Env{Solver: solver}, TranOptions{Start: 0, Stop: 1, Step: 0.1, NoDCOP: true})
	require.NoError(t, err)
	require.NoError(t, tr.Run(context.Background()))
	assert.True(t, solver.calls[0].Info.TransientFlag)
}

func TestTransientCancellation(t *testing.T) {
	out := &recorder{}
	stop := false
	out.onReport = func(r Report) { stop = r.Index == 3 }
	tr, err := NewTransient(Env{Solver: &fakeSolver{}, Output: out, Stopper: StopFunc(func() bool { return stop })},
		TranOptions{Start: 0, Stop: 1, Step: 0.1})
	require.NoError(t, err)
	require.NoError(t, tr.Run(context.Background()))
	assert.True(t, tr.Stopped())
	assert.Equal(t, []int{0, 1, 2, 3}, out.indices())
	assert.Less(t, tr.Control().CurrentTime(), 1.0)
}

func TestTransientConfigErrors(t *testing.T) {
	_, err := NewTransient(Env{}, TranOptions{})
	assert.ErrorIs(t, err, ErrConfig)

	tr, err := NewTransient(Env{Solver: &fakeSolver{}}, TranOptions{Start: 1, Stop: 0, Step: 0.1})
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Init(context.Background()), ErrConfig)

	tr, err = NewTransient(Env{Solver: &fakeSolver{}}, TranOptions{Start: 0, Stop: 1, Step: 0.1, MinStep: 0.5, MaxStep: 0.1})
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Init(context.Background()), ErrConfig)
}
