package anp

import (
	"context"
	"math"
	"testing"

	"anacore/sweep"
	"anacore/tia"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMORBothSystems(t *testing.T) {
	solver := &fakeSolver{}
	linear := &fakeLinear{}
	red := &fakeReducer{}
	out := &recorder{}
	m, err := NewMOR(Env{Solver: solver, Linear: linear, Reducer: red, Output: out, Store: tia.NewDataStore(1)},
		MOROptions{Kind: sweep.LIN, NumPoints: 3, FStart: 10, FStop: 30, Size: 4, ExpPoint: 1e3, Original: true, Reduced: true})
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background()))
	require.Len(t, solver.calls, 1)
	assert.True(t, solver.calls[0].Info.DCOPFlag)
	assert.Equal(t, 4, red.size)
	assert.InDelta(t, 2*math.Pi*1e3, red.s0, 1e-9)
	assert.Equal(t, []System{SystemOriginal, SystemReduced}, m.Systems())
	assert.Equal(t, 6, m.LoopSize())

	require.Len(t, linear.calls, 6)
	for i, c := range linear.calls {
		assert.Equal(t, System(i/3), c.System, "call %d", i)
		assert.Equal(t, float64(10*(i%3+1)), c.Freq, "call %d", i)
	}
	require.Len(t, out.reports, 6)
	assert.Equal(t, []complex128{complex(30, 1)}, out.reports[5].H)
	assert.Equal(t, SystemReduced, out.reports[5].System)
	assert.Equal(t, 1, out.reports[5].Ports)
	assert.Empty(t, m.Failures())
}

func TestMORDefaultsToReduced(t *testing.T) {
	linear := &fakeLinear{fail: func(p *Point) bool { return p.Index == 1 }}
	m, err := NewMOR(Env{Solver: &fakeSolver{}, Linear: linear, Reducer: &fakeReducer{}},
		MOROptions{Kind: sweep.DEC, NumPoints: 1, FStart: 1, FStop: 100, Size: 2})
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, []System{SystemReduced}, m.Systems())
	assert.Equal(t, 3, m.LoopSize())
	assert.Equal(t, []int{1}, m.Failures())
	assert.Equal(t, 1, m.Stats().FailedLinearSolves)
	assert.Equal(t, m.LoopSize(), len(m.Failures())+m.Stats().SuccessSteps)
}

func TestMORInitFailures(t *testing.T) {
	red := &fakeReducer{}
	m, err := NewMOR(Env{Solver: &fakeSolver{fail: func(int, *Point) bool { return true }}, Linear: &fakeLinear{}, Reducer: red},
		MOROptions{Kind: sweep.LIN, NumPoints: 2, FStart: 1, FStop: 2, Size: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Run(context.Background()), ErrDCOP)
	assert.Zero(t, red.size)

	boom := errors.New("Krylov 子空间退化")
	linear := &fakeLinear{}
	m, err = NewMOR(Env{Solver: &fakeSolver{}, Linear: linear, Reducer: &fakeReducer{err: boom}},
		MOROptions{Kind: sweep.LIN, NumPoints: 2, FStart: 1, FStop: 2, Size: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Run(context.Background()), boom)
	assert.Empty(t, linear.calls)
}

func TestMORConfigErrors(t *testing.T) {
	_, err := NewMOR(Env{Solver: &fakeSolver{}, Linear: &fakeLinear{}}, MOROptions{Size: 1})
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewMOR(Env{Solver: &fakeSolver{}, Linear: &fakeLinear{}, Reducer: &fakeReducer{}}, MOROptions{})
	assert.ErrorIs(t, err, ErrConfig)

	m, err := NewMOR(Env{Solver: &fakeSolver{}, Linear: &fakeLinear{}, Reducer: &fakeReducer{}},
		MOROptions{Kind: sweep.LIN, NumPoints: 2, FStart: 5, FStop: 1, Size: 1})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Init(context.Background()), ErrConfig)
}
