package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/voxreader/reader-stream/internal/audio"
	"github.com/voxreader/reader-stream/internal/config"
	"github.com/voxreader/reader-stream/internal/observability"
	"github.com/voxreader/reader-stream/internal/protocol"
	"github.com/voxreader/reader-stream/internal/reader"
	"github.com/voxreader/reader-stream/internal/resilience"
	"github.com/voxreader/reader-stream/internal/stream"
	"github.com/voxreader/reader-stream/internal/timing"
	"github.com/voxreader/reader-stream/internal/transport"
)

func main() {
	app := &cli.App{
		Name:  "readerstream",
		Usage: "Stream a Reader document to an audio file with live word highlighting",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "document",
				Aliases:  []string{"d"},
				Usage:    "Reader document (read) ID",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "voice",
				Usage: "Voice ID (overrides READER_VOICE_ID)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output audio file (default <document>.mp3)",
			},
			&cli.IntFlag{
				Name:    "position",
				Aliases: []string{"p"},
				Usage:   "Absolute character position to resume from",
				Value:   0,
			},
			&cli.BoolFlag{
				Name:  "highlight",
				Usage: "Render live word highlighting to the terminal",
			},
			&cli.BoolFlag{
				Name:  "from-start",
				Usage: "Reset the server-side listening position before streaming",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	documentID := c.String("document")
	voiceID := cfg.ReaderVoiceID
	if c.String("voice") != "" {
		voiceID = c.String("voice")
	}
	outputPath := c.String("output")
	if outputPath == "" {
		outputPath = documentID + ".mp3"
	}
	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = strings.ToUpper(uuid.New().String())
	}

	logger.Info().
		Str("document_id", documentID).
		Str("voice_id", voiceID).
		Str("output", outputPath).
		Int("position", c.Int("position")).
		Msg("Reader stream starting")

	if cfg.MetricsEnabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := ":" + cfg.MetricsPort
			logger.Info().Str("addr", addr).Msg("Prometheus metrics enabled at /metrics")
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiClient := reader.NewClient(reader.ClientConfig{
		BaseURL:       cfg.ReaderAPIBaseURL,
		BearerToken:   cfg.ReaderBearerToken,
		DeviceID:      deviceID,
		AppCheckToken: cfg.AppCheckToken,
	}, logger)

	if c.Bool("from-start") {
		if err := apiClient.PrepareForStreaming(ctx, documentID, voiceID); err != nil {
			logger.Warn().Err(err).Msg("Failed to reset listening position, continuing")
		}
	}

	factory, err := transport.NewFactory(transport.FactoryConfig{
		BaseURL:             cfg.ReaderAPIBaseURL,
		DocumentID:          documentID,
		VoiceID:             voiceID,
		BearerToken:         cfg.ReaderBearerToken,
		DeviceID:            deviceID,
		AppCheckToken:       cfg.AppCheckToken,
		ConnectTimeout:      time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond,
		BreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		BreakerResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create connection factory: %w", err)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	// Accepted audio is teed to the output file as it arrives, so partial
	// audio survives any failure below.
	buf := audio.NewBufferWithTee(outFile)

	var (
		ticker       *timing.Ticker
		timingSink   stream.TimingSink
		rendererDone chan struct{}
	)
	if c.Bool("highlight") {
		if text, err := apiClient.SimpleText(ctx, documentID); err == nil {
			preview := text
			if len(preview) > 120 {
				preview = preview[:120] + "..."
			}
			fmt.Println(preview)
		} else {
			logger.Debug().Err(err).Msg("Document text unavailable, highlighting from timing data only")
		}

		ticker = timing.NewTicker(timing.TickerConfig{
			TickHz:       cfg.TickerHz,
			AnchorPad:    time.Duration(cfg.AnchorPadMs) * time.Millisecond,
			FallbackStep: time.Duration(cfg.FallbackStepMs) * time.Millisecond,
			WordsBefore:  cfg.WordsBefore,
			WordsAfter:   cfg.WordsAfter,
		}, logger)
		timingSink = ticker

		go ticker.Run(ctx)
		rendererDone = make(chan struct{})
		go renderHighlights(ticker.Events(), rendererDone)
	}

	metrics := observability.NewStreamMetrics(documentID)
	decoder := protocol.NewDecoder(logger)

	sessionCfg := stream.SessionConfig{
		IdleTimeout:       time.Duration(cfg.IdleTimeoutMs) * time.Millisecond,
		CharBudget:        cfg.CharBudget,
		CharBudgetHardCap: cfg.CharBudgetHardCap,
	}
	session := stream.NewSession(factory, decoder, buf, timingSink, sessionCfg, metrics, logger)

	orch := stream.NewOrchestrator(session, apiClient, apiClient, stream.OrchestratorConfig{
		MaxConnections: cfg.MaxConnections,
		Backoff: &resilience.BackoffConfig{
			Base:       time.Duration(cfg.BaseBackoffMs) * time.Millisecond,
			Max:        time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
			Multiplier: 2.0,
			Jitter:     time.Duration(cfg.BackoffJitterMs) * time.Millisecond,
		},
		Session: sessionCfg,
	}, metrics, logger)

	res, runErr := orch.Run(ctx, documentID, c.Int("position"))

	if ticker != nil {
		ticker.Stop()
		<-rendererDone
	}

	if closeErr := outFile.Close(); closeErr != nil && runErr == nil {
		runErr = fmt.Errorf("failed to finalize output file: %w", closeErr)
	}

	if res != nil {
		logger.Info().
			Str("reason", res.Reason.String()).
			Int("final_position", res.FinalPosition).
			Int("connections", res.Connections).
			Int("audio_bytes", buf.Len()).
			Str("output", outputPath).
			Msg("Streaming finished")
	}
	if runErr != nil {
		// Audio accepted before the failure is already in the output file.
		return fmt.Errorf("streaming failed: %w", runErr)
	}
	return nil
}

// renderHighlights paints the moving word window on one terminal line,
// highlighting the active word in reverse video.
func renderHighlights(events <-chan timing.HighlightEvent, done chan<- struct{}) {
	defer close(done)

	painted := false
	for ev := range events {
		// Start/End are rune offsets within the window.
		runes := []rune(ev.WindowText)
		if ev.Start < 0 || ev.End > len(runes) || ev.Start > ev.End {
			continue
		}
		line := string(runes[:ev.Start]) +
			"\x1b[7m" + string(runes[ev.Start:ev.End]) + "\x1b[0m" +
			string(runes[ev.End:])
		fmt.Fprintf(os.Stdout, "\r\x1b[K%s", line)
		painted = true
	}
	if painted {
		fmt.Fprintln(os.Stdout)
	}
}
