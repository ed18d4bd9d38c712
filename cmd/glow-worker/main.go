// Package main is the entrypoint for the glow worker.
//
// The worker is triggered by an EventBridge schedule (or a manual job payload)
// once fresh input fields have been prepared. It expands the configured event
// intentions into target instants, evaluates the glow index over the
// calculation region for each, and writes one result bundle per target.
//
// This file handles dependency wiring (cold start) and delegates all business
// logic to the internal/runner package.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"

	"chromasky/internal/astro"
	"chromasky/internal/config"
	"chromasky/internal/core"
	"chromasky/internal/fieldstore"
	"chromasky/internal/glow"
	"chromasky/internal/grid"
	"chromasky/internal/observability"
	"chromasky/internal/runner"
	"chromasky/internal/targets"
	"chromasky/internal/types"
)

// --- Metric Publisher Implementation ---

// cloudwatchAPI is the subset of the CloudWatch SDK client used by the worker.
type cloudwatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// liveMetricPublisher is the production implementation of runner.MetricPublisher.
// It publishes metrics to CloudWatch under the configured namespace.
type liveMetricPublisher struct {
	client    cloudwatchAPI
	namespace string
}

// PublishRunCompleted emits "GlowRunCompleted=1" together with the bundle
// counts. The heartbeat feeds the missed-run alarm.
func (p *liveMetricPublisher) PublishRunCompleted(ctx context.Context, written, skipped int) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwTypes.MetricDatum{
			{
				MetricName: aws.String("GlowRunCompleted"),
				Value:      aws.Float64(1),
				Unit:       cwTypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("BundlesWritten"),
				Value:      aws.Float64(float64(written)),
				Unit:       cwTypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("TargetsSkipped"),
				Value:      aws.Float64(float64(skipped)),
				Unit:       cwTypes.StandardUnitCount,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish run completion metrics: %w", err)
	}
	return nil
}

// PublishBundleStats emits the cell counts and score summary of one bundle,
// dimensioned by EventKind.
func (p *liveMetricPublisher) PublishBundleStats(ctx context.Context, kind types.EventKind, stats glow.Stats) error {
	stats = stats.Finite()
	dims := []cwTypes.Dimension{
		{
			Name:  aws.String("EventKind"),
			Value: aws.String(string(kind)),
		},
	}
	datum := func(name string, v float64, unit cwTypes.StandardUnit) cwTypes.MetricDatum {
		return cwTypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(v),
			Unit:       unit,
			Dimensions: dims,
		}
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwTypes.MetricDatum{
			datum("ActiveCells", float64(stats.ActiveCells), cwTypes.StandardUnitCount),
			datum("EvaluatedCells", float64(stats.EvaluatedCells), cwTypes.StandardUnitCount),
			datum("FailedCells", float64(stats.FailedCells), cwTypes.StandardUnitCount),
			datum("MeanGlowIndex", stats.MeanFinal, cwTypes.StandardUnitNone),
			datum("MaxGlowIndex", stats.MaxFinal, cwTypes.StandardUnitNone),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish bundle stats metrics: %w", err)
	}
	return nil
}

// --- SQS Notifier Implementation ---

// sqsAPI is the subset of the SQS SDK client used by the worker.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// liveNotifier is the production implementation of runner.Notifier. Each
// written bundle becomes one JSON message on the result queue.
type liveNotifier struct {
	client   sqsAPI
	queueURL string
}

// NotifyBundleWritten sends the notice to the result queue.
func (n *liveNotifier) NotifyBundleWritten(ctx context.Context, notice runner.BundleNotice) error {
	notice.Stats = notice.Stats.Finite()
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle notice: %w", err)
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("SQS SendMessage failed: %w", err)
	}
	return nil
}

// --- Wiring ---

// worker is the fully wired runtime.
type worker struct {
	runner *runner.Runner
	server *core.Server // nil when METRICS_ADDR is unset
	addr   string
}

// sinks are the optional AWS clients. A nil client disables its sink.
type sinks struct {
	cloudwatch cloudwatchAPI
	sqs        sqsAPI
}

// newWorker assembles the runner and the optional metrics server from config.
func newWorker(cfg *config.Config, logger *slog.Logger, prom *observability.Metrics, gatherer prometheus.Gatherer, out sinks) (*worker, error) {
	factors, err := types.ParseFactors(cfg.Glow.Factors)
	if err != nil {
		return nil, err
	}
	params := glow.Params{
		StepKm:            cfg.Glow.StepKm,
		MaxDistanceKm:     cfg.Glow.MaxDistanceKm,
		OptimalDistanceKm: cfg.Glow.OptimalDistanceKm,
		ClearThreshold:    cfg.Glow.ClearThreshold,
	}
	weights := glow.Weights{
		types.FactorBoundary: cfg.Glow.WeightBoundary,
		types.FactorHCC:      cfg.Glow.WeightHCC,
		types.FactorMCC:      cfg.Glow.WeightMCC,
	}
	model, err := glow.NewScoringModel(params, factors, weights, logger)
	if err != nil {
		return nil, err
	}

	expander, err := targets.NewExpander(cfg.Location(), cfg.Events.SunriseTimes, cfg.Events.SunsetTimes)
	if err != nil {
		return nil, err
	}

	solar := astro.NewSolarService(logger)
	evaluator := glow.NewEvaluator(model, solar, grid.NewSampler(logger), prom, logger,
		glow.WithWorkers(cfg.WorkerCount))
	inputs := fieldstore.New(cfg.Storage.InputDir, logger)
	outputs := fieldstore.New(cfg.Storage.OutputDir, logger)

	r := &runner.Runner{
		Config: runner.Config{
			Intents: cfg.Events.Intents,
			Window:  cfg.EventWindow(),
			Region: grid.Bounds{
				North: cfg.Region.North,
				South: cfg.Region.South,
				West:  cfg.Region.West,
				East:  cfg.Region.East,
			},
		},
		Log:       logger,
		Targets:   expander,
		Inputs:    inputs,
		Outputs:   outputs,
		Masks:     astro.NewMaskBuilder(solar, cfg.WorkerCount, logger),
		Evaluator: evaluator,
		Prom:      prom,
		Clock:     types.RealClock{},
	}
	if out.cloudwatch != nil && cfg.Observability.MetricNamespace != "" {
		r.Metrics = runner.NewBreakerPublisher(&liveMetricPublisher{
			client:    out.cloudwatch,
			namespace: cfg.Observability.MetricNamespace,
		})
	}
	if out.sqs != nil && cfg.AWS.ResultQueueURL != "" {
		r.Notifier = runner.NewBreakerNotifier(&liveNotifier{
			client:   out.sqs,
			queueURL: cfg.AWS.ResultQueueURL,
		})
	}

	w := &worker{runner: r, addr: cfg.Observability.MetricsAddr}
	if cfg.Observability.MetricsAddr != "" {
		w.server, err = core.NewServer(logger, gatherer,
			core.InputStoreProbe(inputs), core.OutputStoreProbe(outputs))
		if err != nil {
			return nil, err
		}
	}
	return w, nil
}

// newSinks creates the AWS clients needed by the configured sinks. It returns
// empty sinks without touching the SDK when none are configured.
func newSinks(ctx context.Context, cfg *config.Config) (sinks, error) {
	if cfg.Observability.MetricNamespace == "" && cfg.AWS.ResultQueueURL == "" {
		return sinks{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return sinks{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}

	var s sinks
	if cfg.Observability.MetricNamespace != "" {
		s.cloudwatch = cloudwatch.NewFromConfig(awsCfg)
	}
	if cfg.AWS.ResultQueueURL != "" {
		s.sqs = sqs.NewFromConfig(awsCfg)
	}
	return s, nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// runLocal reads one job payload from stdin, runs it, and prints the summary.
// When the metrics server is enabled it keeps serving until interrupted.
func runLocal(ctx context.Context, w *worker, in io.Reader, out io.Writer, logger *slog.Logger) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	var serveErr chan error
	if w.server != nil {
		serveErr = make(chan error, 1)
		go func() { serveErr <- w.server.ListenAndServe(ctx, w.addr) }()
	}

	summary, err := w.runner.Handler(ctx, json.RawMessage(payload))
	if err != nil {
		return err
	}
	if err := json.NewEncoder(out).Encode(summary); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	if serveErr == nil {
		return nil
	}
	logger.Info("job finished; serving metrics until interrupted", "addr", w.addr)
	return <-serveErr
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.LogLevel)
	logger.Info("Glow worker initializing (cold start)",
		"env", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out, err := newSinks(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize AWS clients", "error", err)
		os.Exit(1)
	}

	w, err := newWorker(cfg, logger, observability.NewMetrics(), prometheus.DefaultGatherer, out)
	if err != nil {
		logger.Error("Failed to wire glow worker", "error", err)
		os.Exit(1)
	}

	logger.Info("Glow worker initialized",
		"input_dir", cfg.Storage.InputDir,
		"output_dir", cfg.Storage.OutputDir,
		"intents", cfg.Events.Intents,
		"metric_namespace", cfg.Observability.MetricNamespace,
		"result_queue", cfg.AWS.ResultQueueURL,
	)

	// Local mode: read a job from stdin instead of starting the Lambda runtime.
	// Usage: echo '{"intents":["today_sunset"]}' | go run ./cmd/glow-worker
	if cfg.IsLocal() {
		logger.Info("APP_ENV=local: reading job from stdin")
		if err := runLocal(ctx, w, os.Stdin, os.Stdout, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Handler execution completed successfully")
		return
	}

	if w.server != nil {
		go func() {
			if err := w.server.ListenAndServe(ctx, w.addr); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}
	lambda.StartWithOptions(w.runner.Handler, lambda.WithContext(ctx))
}
