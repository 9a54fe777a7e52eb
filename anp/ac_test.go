package anp

import (
	"context"
	"testing"

	"anacore/sweep"
	"anacore/tia"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestACSweep(t *testing.T) {
	solver := &fakeSolver{}
	linear := &fakeLinear{fail: func(p *Point) bool { return p.Index == 1 }}
	out := &recorder{}
	ac, err := NewAC(Env{Solver: solver, Linear: linear, Output: out, Store: tia.NewDataStore(1)},
		ACOptions{Kind: sweep.LIN, NumPoints: 4, FStart: 100, FStop: 400})
	require.NoError(t, err)

	require.NoError(t, ac.Run(context.Background()))
	// 工作点只求一次，且带 DCOP 标记
	require.Len(t, solver.calls, 1)
	assert.True(t, solver.calls[0].Info.DCOPFlag)
	assert.True(t, solver.calls[0].Info.ACOPFlag)
	assert.False(t, ac.GetDCOPFlag())

	require.Len(t, linear.calls, 4)
	freqs := make([]float64, 0, 4)
	for _, c := range linear.calls {
		freqs = append(freqs, c.Freq)
	}
	assert.Equal(t, []float64{100, 200, 300, 400}, freqs)
	assert.Equal(t, []int{1}, ac.Failures())
	assert.Equal(t, []int{0, 2, 3}, out.indices())
	assert.Equal(t, []float64{300}, out.reports[1].Re)
	assert.Equal(t, ac.LoopSize(), len(ac.Failures())+ac.Stats().SuccessSteps)
}

func TestACSweepDecade(t *testing.T) {
	linear := &fakeLinear{}
	ac, err := NewAC(Env{Solver: &fakeSolver{}, Linear: linear},
		ACOptions{Kind: sweep.DEC, NumPoints: 2, FStart: 1, FStop: 1100})
	require.NoError(t, err)
	require.NoError(t, ac.Run(context.Background()))
	assert.Equal(t, 7, ac.LoopSize())
	require.Len(t, linear.calls, 7)
	assert.InDelta(t, 1000, linear.calls[6].Freq, 1e-6)
}

func TestACDCOPFailureIsFatal(t *testing.T) {
	linear := &fakeLinear{}
	ac, err := NewAC(Env{Solver: &fakeSolver{fail: func(int, *Point) bool { return true }}, Linear: linear},
		ACOptions{Kind: sweep.LIN, NumPoints: 3, FStart: 1, FStop: 3})
	require.NoError(t, err)
	err = ac.Run(context.Background())
	assert.ErrorIs(t, err, ErrDCOP)
	assert.Empty(t, linear.calls)
	assert.Equal(t, StateUninitialized, ac.State())
}

func TestACConfigErrors(t *testing.T) {
	_, err := NewAC(Env{Solver: &fakeSolver{}}, ACOptions{})
	assert.ErrorIs(t, err, ErrConfig)

	ac, err := NewAC(Env{Solver: &fakeSolver{}, Linear: &fakeLinear{}}, ACOptions{Kind: sweep.LIN, NumPoints: 0, FStart: 1, FStop: 2})
	require.NoError(t, err)
	assert.ErrorIs(t, ac.Init(context.Background()), ErrConfig)

	ac, err = NewAC(Env{Solver: &fakeSolver{}, Linear: &fakeLinear{}}, ACOptions{Kind: sweep.LIST, NumPoints: 3, FStart: 1, FStop: 2})
	require.NoError(t, err)
	assert.ErrorIs(t, ac.Init(context.Background()), ErrConfig)
}

func TestACDCOPFlagAccessors(t *testing.T) {
	ac, err := NewAC(Env{Solver: &fakeSolver{}, Linear: &fakeLinear{}}, ACOptions{})
	require.NoError(t, err)
	ac.SetDCOPFlag(true)
	assert.True(t, ac.GetDCOPFlag())
	ac.SetDCOPFlag(false)
	assert.False(t, ac.GetDCOPFlag())
}
