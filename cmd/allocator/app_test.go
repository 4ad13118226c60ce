package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/google/subcommands"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pairCSV holds two uncorrelated assets with variances in ratio 1:4.
const pairCSV = `date,LOW,HIGH
2024-01-02,0.01,0.02
2024-01-03,-0.01,0.02
2024-01-04,0.01,-0.02
2024-01-05,-0.01,-0.02
`

// driftCSV is the same pair with positive expected returns, LOW 0.005 and HIGH 0.01.
const driftCSV = `LOW,HIGH
0.015,0.03
-0.005,0.03
0.015,-0.01
-0.005,-0.01
`

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	return &app{
		cfg: &config.Config{
			DataDir: t.TempDir(),
			Port:    8002,
			Engine: config.EngineConfig{
				Alpha:            0.05,
				Frequency:        "D",
				DecayFactor:      0.94,
				FrontierPoints:   5,
				RandomPortfolios: 0,
				Seed:             3,
				MaxIterations:    2000,
				Parallelism:      2,
			},
		},
		log: zerolog.Nop(),
		out: out,
	}, out
}

func writeCSV(t *testing.T) string {
	t.Helper()
	return writeFile(t, pairCSV)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "returns.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run parses args into the command's flags and executes it.
func run(t *testing.T, cmd subcommands.Command, args ...string) subcommands.ExitStatus {
	t.Helper()
	f := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.SetFlags(f)
	require.NoError(t, f.Parse(args))
	return cmd.Execute(context.Background(), f)
}

func TestOptimize_Models(t *testing.T) {
	path := writeCSV(t)

	tests := []struct {
		model string
		want  []float64
	}{
		{"mean-risk", []float64{0.8, 0.2}},
		{"risk-parity", []float64{2.0 / 3, 1.0 / 3}},
		{"hrp", []float64{0.8, 0.2}},
		{"max-decorrelation", []float64{0.5, 0.5}},
		{"equal-weight", []float64{0.5, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			a, out := newTestApp(t)
			status := run(t, &optimizeCmd{app: a}, "-csv", path, "-model", tt.model, "-json")
			require.Equal(t, subcommands.ExitSuccess, status)

			var res optimizeResult
			require.NoError(t, json.Unmarshal(out.Bytes(), &res))
			assert.Equal(t, []string{"LOW", "HIGH"}, res.Weights.Assets)
			assert.InDeltaSlice(t, tt.want, res.Weights.Values, 1e-3)
			require.NotNil(t, res.Performance)
		})
	}
}

func TestOptimize_CapitalAndTable(t *testing.T) {
	a, out := newTestApp(t)
	status := run(t, &optimizeCmd{app: a}, "-csv", writeCSV(t), "-capital", "1000", "-currency", "usd")
	require.Equal(t, subcommands.ExitSuccess, status)

	text := out.String()
	assert.Contains(t, text, "LOW")
	assert.Contains(t, text, "80.00%")
	assert.Contains(t, text, "Expected return")
	assert.Contains(t, text, "800.00 USD")
	assert.Contains(t, text, "200.00 USD")
}

func TestOptimize_Rejections(t *testing.T) {
	path := writeCSV(t)
	tests := []struct {
		name string
		args []string
		want subcommands.ExitStatus
	}{
		{"no returns", []string{}, subcommands.ExitUsageError},
		{"both sources", []string{"-csv", path, "-dataset", "pair"}, subcommands.ExitUsageError},
		{"missing file", []string{"-csv", filepath.Join(t.TempDir(), "none.csv")}, subcommands.ExitUsageError},
		{"unknown model", []string{"-csv", path, "-model", "kelly"}, subcommands.ExitFailure},
		{"unknown measure", []string{"-csv", path, "-measure", "XYZ"}, subcommands.ExitFailure},
		{"unreachable target", []string{"-csv", path, "-target-return", "100"}, subcommands.ExitFailure},
		{"bad frequency", []string{"-csv", path, "-freq", "Q"}, subcommands.ExitUsageError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestApp(t)
			assert.Equal(t, tt.want, run(t, &optimizeCmd{app: a}, tt.args...))
		})
	}
}

func TestFrontier(t *testing.T) {
	a, out := newTestApp(t)
	status := run(t, &frontierCmd{app: a}, "-csv", writeFile(t, driftCSV), "-points", "4", "-random", "6", "-json")
	require.Equal(t, subcommands.ExitSuccess, status)

	var frontier optimization.Frontier
	require.NoError(t, json.Unmarshal(out.Bytes(), &frontier))
	require.NotEmpty(t, frontier.Points)
	assert.LessOrEqual(t, len(frontier.Points), 4)
	assert.Len(t, frontier.Random, 6)
	for i := 1; i < len(frontier.Points); i++ {
		assert.GreaterOrEqual(t, frontier.Points[i].Return, frontier.Points[i-1].Return-1e-6)
		assert.GreaterOrEqual(t, frontier.Points[i].Risk, frontier.Points[i-1].Risk)
	}

	a, _ = newTestApp(t)
	assert.Equal(t, subcommands.ExitUsageError, run(t, &frontierCmd{app: a}, "-csv", writeCSV(t), "-points", "1"))
}

func TestRisk(t *testing.T) {
	a, out := newTestApp(t)
	status := run(t, &riskCmd{app: a}, "-csv", writeCSV(t), "-weights", "HIGH=0.2,LOW=0.8", "-json")
	require.Equal(t, subcommands.ExitSuccess, status)

	var rows []measureRow
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	require.NotEmpty(t, rows)
	byMeasure := map[string]measureRow{}
	for _, r := range rows {
		byMeasure[r.Measure] = r
	}
	mv, ok := byMeasure["MV"]
	require.True(t, ok)
	// Sample variances are 0.0004/3 and 0.0016/3; the pair is uncorrelated.
	want := 0.64*0.0004/3 + 0.04*0.0016/3
	assert.InDelta(t, want, mv.Value, 1e-12)

	a, out = newTestApp(t)
	status = run(t, &riskCmd{app: a}, "-csv", writeCSV(t), "-contributions", "MV")
	require.Equal(t, subcommands.ExitSuccess, status)
	assert.Contains(t, out.String(), "Risk contributions (MV)")

	a, _ = newTestApp(t)
	assert.Equal(t, subcommands.ExitUsageError, run(t, &riskCmd{app: a}, "-csv", writeCSV(t), "-weights", "LOW=1"))
}

func TestImportAndDatasets(t *testing.T) {
	a, out := newTestApp(t)
	path := writeCSV(t)

	status := run(t, &importCmd{app: a}, "-name", "pair", path)
	require.Equal(t, subcommands.ExitSuccess, status)
	assert.Contains(t, out.String(), `Stored "pair": 2 assets, 4 periods`)

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, &datasetsCmd{app: a}))
	assert.Contains(t, out.String(), "LOW,HIGH")

	out.Reset()
	status = run(t, &optimizeCmd{app: a}, "-dataset", "pair", "-model", "equal-weight", "-assets", "HIGH", "-json")
	require.Equal(t, subcommands.ExitSuccess, status)
	var res optimizeResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, []string{"HIGH"}, res.Weights.Assets)

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, &datasetsCmd{app: a}, "-rm", "pair"))
	assert.Equal(t, subcommands.ExitUsageError, run(t, &optimizeCmd{app: a}, "-dataset", "pair"))

	assert.Equal(t, subcommands.ExitUsageError, run(t, &importCmd{app: a}, path))
}

func TestBackup(t *testing.T) {
	a, out := newTestApp(t)
	require.Equal(t, subcommands.ExitSuccess, run(t, &importCmd{app: a}, "-name", "pair", writeCSV(t)))

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, &backupCmd{app: a}))
	require.Contains(t, out.String(), "Wrote allocator-backup-")
	archive := strings.TrimSpace(strings.TrimPrefix(out.String(), "Wrote "))

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, &backupCmd{app: a}, "-verify", archive))
	assert.Contains(t, out.String(), "returns.db OK")

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, &backupCmd{app: a}, "-list"))
	assert.Contains(t, out.String(), archive)

	assert.Equal(t, subcommands.ExitFailure, run(t, &backupCmd{app: a}, "-verify", "missing.tar.gz"))
}

func TestParseWeights(t *testing.T) {
	w, err := parseWeights(" A=0.6, B=0.4 ")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, w.Assets)
	assert.Equal(t, []float64{0.6, 0.4}, w.Values)

	for _, bad := range []string{"A", "A=x", "A=NaN"} {
		_, err := parseWeights(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, []string{"a", "b"}, splitList("a,,b, "))
	assert.Empty(t, splitList(" "))
}
