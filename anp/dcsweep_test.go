package anp

import (
	"context"
	"testing"

	"anacore/sweep"
	"anacore/tia"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linParam(name string, start, stop, step float64) *sweep.Param {
	return &sweep.Param{Name: name, Kind: sweep.LIN, StartVal: start, StopVal: stop, StepVal: step}
}

func values(reports []Report) []float64 {
	out := make([]float64, 0, len(reports))
	for _, r := range reports {
		out = append(out, r.Values[0].Val)
	}
	return out
}

func TestDCSweepLinearAllSucceed(t *testing.T) {
	solver := &fakeSolver{}
	out := &recorder{}
	dev := &fakeDevice{}
	dc, err := NewDCSweep(Env{Solver: solver, Output: out, Device: dev, Store: tia.NewDataStore(2)},
		DCOptions{Params: []*sweep.Param{linParam("V1", 0, 5, 1)}})
	require.NoError(t, err)

	require.NoError(t, dc.Run(context.Background()))
	assert.Equal(t, StateFinished, dc.State())
	assert.Equal(t, 6, dc.LoopSize())
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, values(out.reports))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, out.indices())
	assert.Empty(t, dc.Failures())
	assert.Empty(t, out.failures)
	assert.Equal(t, 6, dc.Stats().SuccessSteps)
	assert.Equal(t, 6, dc.Stats().Jacobians)
	assert.Len(t, dev.params, 6)
	assert.Equal(t, paramSet{"V1", 5}, dev.params[5])
	for _, c := range solver.calls {
		assert.True(t, c.Info.DCOPFlag)
		assert.True(t, c.Info.DCSweepFlag)
	}
	// 最后一个点的解已提交
	assert.Equal(t, []float64{6, 6}, out.reports[5].Solution)
}

func TestDCSweepRecordAndAdvance(t *testing.T) {
	solver := &fakeSolver{fail: func(_ int, p *Point) bool {
		v := p.Values[0].Val
		return v == 2 || v == 4
	}}
	out := &recorder{}
	store := tia.NewDataStore(1)
	dc, err := NewDCSweep(Env{Solver: solver, Output: out, Store: store},
		DCOptions{Params: []*sweep.Param{linParam("V1", 0, 5, 1)}})
	require.NoError(t, err)

	require.NoError(t, dc.Run(context.Background()))
	assert.Equal(t, []int{2, 4}, dc.Failures())
	assert.Equal(t, []float64{0, 1, 3, 5}, values(out.reports))
	assert.Equal(t, len(dc.Failures())+dc.Stats().SuccessSteps, dc.LoopSize())
	assert.Equal(t, 2, dc.Stats().NonlinearFailures)
	require.Len(t, out.failures, 1)
	assert.Equal(t, failureReport{KindDC, -1, []int{2, 4}}, out.failures[0])
	// 失败点不提交：第 3 次调用（序号 2）失败，第 4 次调用看到的仍是第 2 次的解
	assert.Equal(t, []float64{2}, solver.curr[3])
}

func TestDCSweepDoubleDCOP(t *testing.T) {
	solver := &fakeSolver{}
	out := &recorder{}
	dc, err := NewDCSweep(Env{Solver: solver, Output: out},
		DCOptions{Params: []*sweep.Param{linParam("V1", 0, 2, 1)}, DoubleDCOP: true})
	require.NoError(t, err)

	require.NoError(t, dc.Run(context.Background()))
	require.Len(t, solver.calls, 4)
	assert.Equal(t, 0, solver.calls[0].Index)
	assert.Equal(t, tia.FirstDCOPStep, solver.calls[0].Info.DoubleDCOPStep)
	assert.Equal(t, 0, solver.calls[1].Index)
	assert.Equal(t, tia.LastDCOPStep, solver.calls[1].Info.DoubleDCOPStep)
	assert.True(t, solver.calls[1].Info.DoubleDCOPEnabled)
	assert.Equal(t, []int{0, 1, 2}, out.indices())
	assert.Equal(t, 3, dc.Stats().SuccessSteps)
}

func TestDCSweepResetReinitializes(t *testing.T) {
	a := linParam("A", 1, 2, 1)
	b := &sweep.Param{Name: "B", Kind: sweep.LIST, ValList: []float64{10, 20}}
	solver := &fakeSolver{}
	store := tia.NewDataStore(1)
	dc, err := NewDCSweep(Env{Solver: solver, Store: store}, DCOptions{Params: []*sweep.Param{a, b}})
	require.NoError(t, err)

	require.NoError(t, dc.Run(context.Background()))
	require.Len(t, solver.calls, 4)
	resets := make([]bool, 0, 4)
	for _, c := range solver.calls {
		resets = append(resets, c.Info.SweepSourceResetFlag)
	}
	assert.Equal(t, []bool{true, false, true, false}, resets)
	// 第二轮开始前历史被清零
	assert.Equal(t, []float64{0}, solver.curr[0])
	assert.Equal(t, []float64{1}, solver.curr[1])
	assert.Equal(t, []float64{0}, solver.curr[2])
	assert.Equal(t, []float64{3}, solver.curr[3])
}

func TestDCSweepCancellation(t *testing.T) {
	for _, k := range []int{0, 2, 4} {
		solver := &fakeSolver{fail: func(_ int, p *Point) bool { return p.Index == 1 }}
		out := &recorder{}
		stop := false
		out.onReport = func(r Report) {
			if r.Index == k {
				stop = true
			}
		}
		dc, err := NewDCSweep(Env{Solver: solver, Output: out, Stopper: StopFunc(func() bool { return stop })},
			DCOptions{Params: []*sweep.Param{linParam("V1", 0, 9, 1)}})
		require.NoError(t, err)

		require.NoError(t, dc.Run(context.Background()))
		assert.True(t, dc.Stopped())
		assert.Equal(t, StateFinished, dc.State())
		want := []int{}
		for i := 0; i <= k; i++ {
			if i != 1 {
				want = append(want, i)
			}
		}
		assert.Equal(t, want, out.indices(), "k=%d", k)
		if k >= 1 {
			assert.Equal(t, []int{1}, dc.Failures())
		} else {
			assert.Empty(t, dc.Failures())
		}
		assert.Len(t, solver.calls, k+1)
	}
}

func TestDCSweepContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := &recorder{onReport: func(r Report) {
		if r.Index == 1 {
			cancel()
		}
	}}
	dc, err := NewDCSweep(Env{Solver: &fakeSolver{}, Output: out},
		DCOptions{Params: []*sweep.Param{linParam("V1", 0, 5, 1)}})
	require.NoError(t, err)
	require.NoError(t, dc.Run(ctx))
	assert.True(t, dc.Stopped())
	assert.Equal(t, []int{0, 1}, out.indices())
}

func TestDCSweepConfigErrors(t *testing.T) {
	_, err := NewDCSweep(Env{}, DCOptions{})
	assert.ErrorIs(t, err, ErrConfig)

	dc, err := NewDCSweep(Env{Solver: &fakeSolver{}}, DCOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, dc.Init(context.Background()), ErrConfig)

	dc, err = NewDCSweep(Env{Solver: &fakeSolver{}},
		DCOptions{Params: []*sweep.Param{{Name: "L", Kind: sweep.LIST}}})
	require.NoError(t, err)
	assert.ErrorIs(t, dc.Run(context.Background()), ErrConfig)

	dc, err = NewDCSweep(Env{Solver: &fakeSolver{}, Device: &fakeDevice{}},
		DCOptions{Params: []*sweep.Param{linParam("BAD", 0, 1, 1)}})
	require.NoError(t, err)
	assert.ErrorIs(t, dc.Run(context.Background()), ErrConfig)
}

func TestDCSweepStateMachine(t *testing.T) {
	ctx := context.Background()
	dc, err := NewDCSweep(Env{Solver: &fakeSolver{}}, DCOptions{Params: []*sweep.Param{linParam("V1", 0, 1, 1)}})
	require.NoError(t, err)

	assert.Equal(t, StateUninitialized, dc.State())
	assert.ErrorIs(t, dc.LoopProcess(ctx), ErrState)
	assert.ErrorIs(t, dc.Finish(), ErrState)
	assert.ErrorIs(t, dc.ProcessSuccessfulStep(ctx), ErrState)

	require.NoError(t, dc.Init(ctx))
	assert.Equal(t, StateInitialized, dc.State())
	assert.ErrorIs(t, dc.Init(ctx), ErrState)
	assert.ErrorIs(t, dc.ProcessFailedStep(ctx), ErrState)

	ok, err := dc.TwoLevelStep(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StatePointComplete, dc.State())
	assert.Equal(t, 1, dc.LoopIter())

	require.NoError(t, dc.LoopProcess(ctx))
	_, err = dc.TwoLevelStep(ctx)
	assert.ErrorIs(t, err, ErrState)
	require.NoError(t, dc.Finish())

	assert.ErrorIs(t, dc.Finish(), ErrState)
	assert.ErrorIs(t, dc.Init(ctx), ErrState)
	assert.ErrorIs(t, dc.LoopProcess(ctx), ErrState)

	dc.ResetForStep()
	require.NoError(t, dc.Run(ctx))
	assert.Equal(t, 2, dc.Stats().SuccessSteps)
}

func TestDCSweepFatalSolverError(t *testing.T) {
	boom := errors.New("求解器崩溃")
	solver := &fakeSolver{fatal: func(n int, _ *Point) error {
		if n == 2 {
			return boom
		}
		return nil
	}}
	out := &recorder{}
	dc, err := NewDCSweep(Env{Solver: solver, Output: out}, DCOptions{Params: []*sweep.Param{linParam("V1", 0, 5, 1)}})
	require.NoError(t, err)

	err = dc.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	var pe *PointError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Index)
	assert.Equal(t, KindDC, pe.Kind)
	assert.Equal(t, StateFinished, dc.State())
	assert.Equal(t, []int{0, 1}, out.indices())
}

func TestDCSweepSensitivity(t *testing.T) {
	dc, err := NewDCSweep(Env{Solver: &fakeSolver{}, Sens: fakeSens{}},
		DCOptions{Params: []*sweep.Param{linParam("V1", 1, 3, 1)}})
	require.NoError(t, err)
	require.NoError(t, dc.Run(context.Background()))
	assert.Equal(t, [][]float64{{2}, {4}, {6}}, dc.Objective())
}
