package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromasky/internal/config"
	"chromasky/internal/fieldstore"
	"chromasky/internal/glow"
	"chromasky/internal/grid"
	"chromasky/internal/observability"
	"chromasky/internal/runner"
	"chromasky/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Mock CloudWatch API ---

type mockCloudWatchAPI struct {
	mu       sync.Mutex
	calls    []*cloudwatch.PutMetricDataInput
	failNext bool
}

func (m *mockCloudWatchAPI) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return nil, fmt.Errorf("simulated CloudWatch failure")
	}
	m.calls = append(m.calls, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func datumValue(t *testing.T, in *cloudwatch.PutMetricDataInput, name string) cwTypes.MetricDatum {
	t.Helper()
	for _, d := range in.MetricData {
		if aws.ToString(d.MetricName) == name {
			return d
		}
	}
	t.Fatalf("metric %s not published", name)
	return cwTypes.MetricDatum{}
}

// --- Mock SQS API ---

type mockSQSAPI struct {
	mu       sync.Mutex
	queueURL string
	bodies   []string
	failNext bool
}

func (m *mockSQSAPI) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return nil, fmt.Errorf("simulated SQS API failure")
	}
	m.queueURL = aws.ToString(params.QueueUrl)
	m.bodies = append(m.bodies, aws.ToString(params.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

// --- Fixtures ---

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "local",
		LogLevel:    "error",
		Storage: config.StorageConfig{
			InputDir:  t.TempDir(),
			OutputDir: t.TempDir(),
		},
		Events: config.EventConfig{
			LocalTZ:       "Asia/Shanghai",
			Intents:       []string{"today_sunset"},
			SunriseTimes:  []string{"05:00"},
			SunsetTimes:   []string{"19:45"},
			WindowMinutes: 30,
		},
		Region: config.RegionConfig{North: 42, South: 16, West: 104, East: 130},
		Glow: config.GlowConfig{
			Factors:           []string{"boundary", "hcc", "mcc", "lcc", "aod550"},
			WeightBoundary:    0.5,
			WeightHCC:         0.3,
			WeightMCC:         0.2,
			StepKm:            10,
			MaxDistanceKm:     400,
			OptimalDistanceKm: 350,
			ClearThreshold:    0.1,
		},
		Observability: config.ObservabilityConfig{MetricNamespace: "Chromasky"},
		AWS: config.AWSConfig{
			Region:         "us-east-1",
			ResultQueueURL: "https://sqs.us-east-1.amazonaws.com/123456789012/glow-results",
		},
		WorkerCount: 2,
	}
}

// seedDataset writes a 2x2 input dataset valid at 2025-06-21 11:00 UTC,
// the hour of the 19:45 Shanghai sunset target.
func seedDataset(t *testing.T, dir string) {
	t.Helper()
	validTime := time.Date(2025, 6, 21, 11, 0, 0, 0, time.UTC)
	g, err := grid.NewGrid([]float64{30, 31}, []float64{110, 111})
	require.NoError(t, err)
	field := func(name string, rows [][]float64) *grid.Field {
		f, err := grid.NewFieldFromRows(name, g, validTime, rows)
		require.NoError(t, err)
		return f
	}
	ds, err := grid.NewDataset(
		field(types.FieldHCC, [][]float64{{0.5, 0.0}, {0.6, 0.5}}),
		field(types.FieldMCC, [][]float64{{0.3, 0.3}, {0.3, 0.3}}),
		field(types.FieldLCC, [][]float64{{0.05, 0.05}, {0.05, 0.05}}),
		field(types.FieldAOD550, [][]float64{{0.1, 0.1}, {0.1, 0.1}}),
	)
	require.NoError(t, err)
	require.NoError(t, fieldstore.New(dir, testLogger).SaveDataset(context.Background(), ds))
}

// --- Metric publisher ---

func TestPublishRunCompleted(t *testing.T) {
	cw := &mockCloudWatchAPI{}
	p := &liveMetricPublisher{client: cw, namespace: "Chromasky"}

	require.NoError(t, p.PublishRunCompleted(context.Background(), 3, 1))
	require.Len(t, cw.calls, 1)
	in := cw.calls[0]
	assert.Equal(t, "Chromasky", aws.ToString(in.Namespace))
	assert.Equal(t, 1.0, aws.ToFloat64(datumValue(t, in, "GlowRunCompleted").Value))
	assert.Equal(t, 3.0, aws.ToFloat64(datumValue(t, in, "BundlesWritten").Value))
	assert.Equal(t, 1.0, aws.ToFloat64(datumValue(t, in, "TargetsSkipped").Value))

	cw.failNext = true
	err := p.PublishRunCompleted(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulated CloudWatch failure")
}

func TestPublishBundleStats(t *testing.T) {
	cw := &mockCloudWatchAPI{}
	p := &liveMetricPublisher{client: cw, namespace: "Chromasky"}

	stats := glow.Stats{ActiveCells: 10, EvaluatedCells: 9, FailedCells: 1, MeanFinal: math.NaN(), MaxFinal: 0.8}
	require.NoError(t, p.PublishBundleStats(context.Background(), types.EventSunrise, stats))
	require.Len(t, cw.calls, 1)
	in := cw.calls[0]

	mean := datumValue(t, in, "MeanGlowIndex")
	assert.Equal(t, 0.0, aws.ToFloat64(mean.Value), "NaN is not a valid CloudWatch value")
	assert.Equal(t, 0.8, aws.ToFloat64(datumValue(t, in, "MaxGlowIndex").Value))
	assert.Equal(t, 9.0, aws.ToFloat64(datumValue(t, in, "EvaluatedCells").Value))
	require.Len(t, mean.Dimensions, 1)
	assert.Equal(t, "EventKind", aws.ToString(mean.Dimensions[0].Name))
	assert.Equal(t, "sunrise", aws.ToString(mean.Dimensions[0].Value))
}

// --- Notifier ---

func TestNotifyBundleWritten(t *testing.T) {
	q := &mockSQSAPI{}
	n := &liveNotifier{client: q, queueURL: "https://queue.example/glow"}

	notice := runner.BundleNotice{
		Name:   "2025-06-21_sunset_1945",
		RunID:  "run-1",
		Kind:   types.EventSunset,
		Target: time.Date(2025, 6, 21, 11, 45, 0, 0, time.UTC),
		Stats:  glow.Stats{MeanFinal: math.NaN(), MaxFinal: math.NaN()},
	}
	require.NoError(t, n.NotifyBundleWritten(context.Background(), notice))

	assert.Equal(t, "https://queue.example/glow", q.queueURL)
	require.Len(t, q.bodies, 1)
	var got runner.BundleNotice
	require.NoError(t, json.Unmarshal([]byte(q.bodies[0]), &got))
	assert.Equal(t, notice.Name, got.Name)
	assert.Equal(t, types.EventSunset, got.Kind)
	assert.Equal(t, 0.0, got.Stats.MeanFinal)

	q.failNext = true
	require.Error(t, n.NotifyBundleWritten(context.Background(), notice))
}

// --- Wiring ---

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level     string
		debugOn   bool
		infoOn    bool
		warningOn bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
		{"bogus", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := newLogger(io.Discard, tt.level)
			ctx := context.Background()
			assert.Equal(t, tt.debugOn, l.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tt.infoOn, l.Enabled(ctx, slog.LevelInfo))
			assert.Equal(t, tt.warningOn, l.Enabled(ctx, slog.LevelWarn))
		})
	}
}

func TestNewWorkerWiresSinks(t *testing.T) {
	cfg := testConfig(t)

	w, err := newWorker(cfg, testLogger, observability.NewMetricsForTesting(), prometheus.NewRegistry(),
		sinks{cloudwatch: &mockCloudWatchAPI{}, sqs: &mockSQSAPI{}})
	require.NoError(t, err)
	assert.IsType(t, &runner.BreakerPublisher{}, w.runner.Metrics)
	assert.IsType(t, &runner.BreakerNotifier{}, w.runner.Notifier)
	assert.Nil(t, w.server)
	assert.Equal(t, 30*time.Minute, w.runner.Config.Window)
	assert.Equal(t, grid.Bounds{North: 42, South: 16, West: 104, East: 130}, w.runner.Config.Region)
	assert.ElementsMatch(t, []string{types.FieldHCC, types.FieldMCC, types.FieldLCC, types.FieldAOD550},
		w.runner.Evaluator.RequiredFields())
}

func TestNewWorkerWithoutSinks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observability.MetricsAddr = "127.0.0.1:0"

	w, err := newWorker(cfg, testLogger, observability.NewMetricsForTesting(), prometheus.NewRegistry(), sinks{})
	require.NoError(t, err)
	assert.Nil(t, w.runner.Metrics)
	assert.Nil(t, w.runner.Notifier)
	assert.NotNil(t, w.server)
}

func TestNewWorkerRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		code   types.ErrorCode
	}{
		{"unknown factor", func(c *config.Config) { c.Glow.Factors = []string{"hcc", "rain"} }, types.ErrCodeValidationUnknownFactor},
		{"zero quality weight", func(c *config.Config) {
			c.Glow.WeightBoundary, c.Glow.WeightHCC, c.Glow.WeightMCC = 0, 0, 0
		}, types.ErrCodeValidationWeights},
		{"bad sunset clock", func(c *config.Config) { c.Events.SunsetTimes = []string{"25:00"} }, types.ErrCodeValidationTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := newWorker(cfg, testLogger, observability.NewMetricsForTesting(), prometheus.NewRegistry(), sinks{})
			require.Error(t, err)
			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestNewSinksDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observability.MetricNamespace = ""
	cfg.AWS.ResultQueueURL = ""

	s, err := newSinks(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, s.cloudwatch)
	assert.Nil(t, s.sqs)
}

// --- Local mode ---

func TestRunLocalEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	seedDataset(t, cfg.Storage.InputDir)
	cw := &mockCloudWatchAPI{}
	q := &mockSQSAPI{}

	w, err := newWorker(cfg, testLogger, observability.NewMetricsForTesting(), prometheus.NewRegistry(),
		sinks{cloudwatch: cw, sqs: q})
	require.NoError(t, err)

	var out bytes.Buffer
	in := strings.NewReader(`{"now":"2025-06-21T02:00:00Z"}`)
	require.NoError(t, runLocal(context.Background(), w, in, &out, testLogger))

	var summary runner.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 1, summary.Targets)
	assert.Equal(t, 1, summary.Written)
	require.Len(t, summary.Bundles, 1)

	b, err := fieldstore.New(cfg.Storage.OutputDir, testLogger).LoadBundle(context.Background(), "2025-06-21_sunset_1945")
	require.NoError(t, err)
	assert.Equal(t, 4, b.Stats.EvaluatedCells)

	require.Len(t, q.bodies, 1)
	assert.Contains(t, q.bodies[0], `"name":"2025-06-21_sunset_1945"`)
	require.Len(t, cw.calls, 2, "bundle stats then run heartbeat")
	assert.Equal(t, 1.0, aws.ToFloat64(datumValue(t, cw.calls[1], "BundlesWritten").Value))
}

func TestRunLocalBadPayload(t *testing.T) {
	cfg := testConfig(t)
	w, err := newWorker(cfg, testLogger, observability.NewMetricsForTesting(), prometheus.NewRegistry(), sinks{})
	require.NoError(t, err)

	err = runLocal(context.Background(), w, strings.NewReader(`{"intents":`), io.Discard, testLogger)
	require.Error(t, err)
}

func TestRunLocalServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Observability.MetricsAddr = "127.0.0.1:0"
	w, err := newWorker(cfg, testLogger, observability.NewMetricsForTesting(), prometheus.NewRegistry(), sinks{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLocal(ctx, w, strings.NewReader(`{"now":"2025-06-21T02:00:00Z"}`), io.Discard, testLogger)
	}()

	select {
	case err := <-errCh:
		t.Fatalf("runLocal returned before cancel: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runLocal did not stop after cancel")
	}
}
