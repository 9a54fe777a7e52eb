package anacore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"anacore/anp"
	"anacore/config"
	"anacore/output"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	anp.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func parse(t *testing.T, data string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(data))
	require.NoError(t, err)
	cfg.Output.Dir = filepath.Join(t.TempDir(), "out")
	return cfg
}

func find(rec *output.Record, kind anp.Kind, outer int) *output.Curve {
	for _, c := range rec.Curves {
		if c.Kind == kind && c.Outer == outer {
			return c
		}
	}
	return nil
}

func TestSimulateTransient(t *testing.T) {
	cfg := parse(t, `
netlist: |
  V1 in 0 1 DELAY 0.1m
  R1 in out 1k
  C1 out 0 1u
  .TRAN 10u 2m
  .PORT out
output:
  plot: svg
`)
	sim, err := Simulate(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, anp.StateFinished, sim.Analysis().State())
	assert.Equal(t, []string{"IN", "OUT", "I(V1)"}, sim.Record.Names)

	tran := find(sim.Record, anp.KindTransient, -1)
	require.NotNil(t, tran)
	assert.InDelta(t, 2e-3, tran.X[len(tran.X)-1], 1e-12)
	out := tran.Column(1)
	assert.InDelta(t, 1-math.Exp(-1.9), out[len(out)-1], 2e-2)

	for _, name := range []string{"record.json", "charts.html", "00_TRAN.svg"} {
		_, err := os.Stat(filepath.Join(cfg.Output.Dir, name))
		assert.NoError(t, err, name)
	}
}

func TestSimulateStepDCWithSensitivity(t *testing.T) {
	cfg := parse(t, `
netlist: |
  V1 in 0 1
  R1 in out 1k
  R2 out 0 1k
  .DC V1 0 2 1
  .STEP R2 1k 3k 2k
  .PORT out
  .SENS R2
`)
	sim, err := Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, anp.KindStep, sim.Plan.Kind)
	require.NoError(t, sim.Run(context.Background(), nil))

	assert.Equal(t, 2, sim.Analysis().LoopSize())
	last := find(sim.Record, anp.KindDC, 1)
	require.NotNil(t, last)
	assert.Equal(t, []float64{0, 1, 2}, last.X)
	assert.InDelta(t, 1.5, last.Column(1)[2], 1e-9)
	require.Len(t, last.Objective, 3)
	// d v(out) / d R2 = V1 R1 / (R1+R2)^2
	assert.InDelta(t, 2*1e3/16e6, last.Objective[2][0], 1e-7)

	step := find(sim.Record, anp.KindStep, -1)
	require.NotNil(t, step)
	assert.Equal(t, []float64{1e3, 3e3}, step.Column(0))
}

func TestSimulateACAndMOR(t *testing.T) {
	netlist := `
netlist: |
  V1 in 0 0 AC 1
  R1 in out 1k
  C1 out 0 1u
  R2 out a 1k
  C2 a 0 1u
  .AC DEC 2 10 1.1k
  .MOR 4 0 DEC 2 10 1.1k ORIG RED
  .PORT a
analysis: %s
`
	cfg := parse(t, fmt.Sprintf(netlist, "AC"))
	sim, err := Build(cfg)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), nil))
	ac := find(sim.Record, anp.KindAC, -1)
	require.NotNil(t, ac)
	assert.Len(t, ac.X, 5)

	cfg = parse(t, fmt.Sprintf(netlist, "MOR"))
	sim, err = Build(cfg)
	require.NoError(t, err)
	require.NoError(t, sim.Run(context.Background(), nil))
	var orig, red *output.Curve
	for _, c := range sim.Record.Curves {
		switch c.System {
		case "original":
			orig = c
		case "reduced":
			red = c
		}
	}
	require.NotNil(t, orig)
	require.NotNil(t, red)
	require.Len(t, red.X, len(orig.X))
	// 满阶降阶与原系统一致
	for i := range orig.X {
		assert.InDelta(t, orig.Column(0)[i], red.Column(0)[i], 1e-6)
	}
}

func TestSimulateStopRequest(t *testing.T) {
	cfg := parse(t, `
netlist: |
  V1 in 0 1
  R1 in 0 1k
  .DC V1 0 10 1
`)
	sim, err := Build(cfg)
	require.NoError(t, err)
	calls := 0
	stop := anp.StopFunc(func() bool {
		calls++
		return calls > 3
	})
	require.NoError(t, sim.Run(context.Background(), stop))
	assert.True(t, sim.Analysis().Stopped())
	dc := find(sim.Record, anp.KindDC, -1)
	require.NotNil(t, dc)
	assert.Len(t, dc.X, 3)
}

func TestBuildErrors(t *testing.T) {
	cfg := parse(t, "netlist: |\n  R1 a 0 1\n  .DC R1 1 2 1\n  .SENS R9\n")
	_, err := Build(cfg)
	assert.True(t, errors.Is(err, anp.ErrConfig))

	cfg = parse(t, "netlist: |\n  R1 a 0 1\n  .DC R1 1 2 1\n  .PORT b\n")
	_, err = Build(cfg)
	assert.True(t, errors.Is(err, anp.ErrConfig))
}
