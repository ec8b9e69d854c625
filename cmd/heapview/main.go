package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/getsentry/heapview/internal/analysis"
	"github.com/getsentry/heapview/internal/flamegraph"
	"github.com/getsentry/heapview/internal/logutil"
	"github.com/getsentry/heapview/internal/pprofutil"
	"github.com/getsentry/heapview/internal/storageutil"
	"github.com/getsentry/heapview/internal/tracestore"
)

type environment struct {
	config ServiceConfig

	speedscopeMetric flamegraph.Metric

	summaryWriter *kafka.Writer

	snapshotsBucket *blob.Bucket
	resultsBucket   *blob.Bucket
}

var release string

func newEnvironment(ctx context.Context, config ServiceConfig) (*environment, error) {
	e := environment{config: config}

	var err error
	e.speedscopeMetric, err = flamegraph.ParseMetric(config.SpeedscopeMetric)
	if err != nil {
		return nil, err
	}
	e.snapshotsBucket, err = blob.OpenBucket(ctx, config.InputBucket)
	if err != nil {
		return nil, err
	}
	e.resultsBucket, err = blob.OpenBucket(ctx, config.OutputBucket)
	if err != nil {
		_ = e.snapshotsBucket.Close()
		return nil, err
	}
	if len(config.KafkaBrokers) > 0 {
		e.summaryWriter = &kafka.Writer{
			Addr:         kafka.TCP(config.KafkaBrokers...),
			Balancer:     kafka.CRC32Balancer{},
			Compression:  kafka.Lz4,
			ReadTimeout:  3 * time.Second,
			Topic:        config.KafkaTopic,
			WriteTimeout: 3 * time.Second,
		}
	}
	return &e, nil
}

func (e *environment) shutdown() {
	err := e.snapshotsBucket.Close()
	if err != nil {
		sentry.CaptureException(err)
	}
	err = e.resultsBucket.Close()
	if err != nil {
		sentry.CaptureException(err)
	}
	if e.summaryWriter != nil {
		err = e.summaryWriter.Close()
		if err != nil {
			sentry.CaptureException(err)
		}
	}
	sentry.Flush(5 * time.Second)
}

// analyze reads the snapshot stored at snapshotPath, stores every view of
// its analysis under a new prefix of the results bucket and returns the
// summary describing where they are.
func (e *environment) analyze(ctx context.Context, snapshotPath string) (SummaryKafkaMessage, error) {
	received := time.Now()
	id := uuid.New().String()
	logger := log.With().Str("analysis_id", id).Str("snapshot", snapshotPath).Logger()

	s := sentry.StartSpan(ctx, "snapshot.read")
	s.Description = "Read snapshot from the bucket"
	var snap tracestore.Snapshot
	err := storageutil.UnmarshalCompressed(ctx, e.snapshotsBucket, snapshotPath, &snap)
	s.Finish()
	if err != nil {
		return SummaryKafkaMessage{}, fmt.Errorf("reading snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return SummaryKafkaMessage{}, err
	}

	result, err := analysis.Analyze(ctx, &snap)
	if err != nil {
		return SummaryKafkaMessage{}, err
	}
	logger.Info().
		Uint64("total_allocations", result.Summary.TotalAllocations).
		Uint64("peak", result.Summary.Peak).
		Msg("heap trace analyzed")

	s = sentry.StartSpan(ctx, "results.write")
	s.Description = "Write results to the bucket"
	err = e.writeResults(ctx, id, result)
	s.Finish()
	if err != nil {
		return SummaryKafkaMessage{}, err
	}

	return buildSummaryKafkaMessage(id, snapshotPath, e.config.Environment, result.Summary, received), nil
}

func (e *environment) writeResults(ctx context.Context, id string, result analysis.Result) error {
	err := storageutil.CompressedWrite(ctx, e.resultsBucket, resultPath(id), result)
	if err != nil {
		return err
	}
	name := result.Summary.Debuggee
	if name == "" {
		name = id
	}
	err = storageutil.WriteJSON(ctx, e.resultsBucket, speedscopePath(id), flamegraph.ToSpeedscope(result.TopDown, e.speedscopeMetric, name))
	if err != nil {
		return err
	}
	p, err := pprofutil.FromBottomUp(result.BottomUp, result.Summary)
	if err != nil {
		return err
	}
	return storageutil.WriteObject(ctx, e.resultsBucket, pprofPath(id), "application/octet-stream", func(w io.Writer) error {
		return p.Write(w)
	})
}

func (e *environment) publish(ctx context.Context, m SummaryKafkaMessage) error {
	if e.summaryWriter == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return e.summaryWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.ID),
		Value: b,
	})
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <snapshot object>\n", os.Args[0])
		os.Exit(2)
	}

	config, err := newServiceConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error reading the configuration")
	}
	if err := logutil.ConfigureLogger(config.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("error configuring the logger")
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              config.SentryDSN,
		EnableTracing:    true,
		Environment:      config.Environment,
		Release:          release,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	env, err := newEnvironment(ctx, config)
	if err != nil {
		sentry.CaptureException(err)
		sentry.Flush(5 * time.Second)
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	hub := sentry.CurrentHub().Clone()
	ctx = sentry.SetHubOnContext(ctx, hub)
	transaction := sentry.StartSpan(ctx, "heapview.analyze", sentry.TransactionName("analyze"))
	hub.Scope().SetTag("snapshot", os.Args[1])

	code := 0
	m, err := env.analyze(transaction.Context(), os.Args[1])
	if err == nil {
		err = env.publish(transaction.Context(), m)
	}
	transaction.Finish()
	if err != nil {
		hub.CaptureException(err)
		event := log.Error().Err(err)
		if errors.Is(err, storageutil.ErrObjectNotFound) {
			event = event.Bool("not_found", true)
		}
		event.Str("snapshot", os.Args[1]).Msg("error analyzing heap trace")
		code = 1
	} else {
		log.Info().Str("analysis_id", m.ID).Str("result", m.ResultPath).Msg("analysis stored")
	}

	env.shutdown()
	stop()
	os.Exit(code)
}
