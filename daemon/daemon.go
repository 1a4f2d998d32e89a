// Package daemon wires the tailer, aggregator, and detector into the
// single cooperative pipeline described for the running service, and
// owns the shutdown flag driven by SIGINT/SIGTERM.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/makhomed/autofilter/aggregator"
	"github.com/makhomed/autofilter/botstore"
	"github.com/makhomed/autofilter/config"
	"github.com/makhomed/autofilter/detect"
	"github.com/makhomed/autofilter/rdns"
	"github.com/makhomed/autofilter/reload"
	"github.com/makhomed/autofilter/tail"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures a single daemon run, gathering the resolved paths
// and flags the CLI layer is responsible for producing.
type Options struct {
	LogFilePath string
	BotFilePath string
	PIDFilePath string
	Config      *config.Tables
	DryRun      bool

	// Diag is the configuration-diagnostics logger (§6): "PID file
	// missing" (threaded into the reload controller) and dry-run
	// detections (threaded into the detector) are logged there instead
	// of the rotating operational sink. Nil falls back to the current
	// global logger.
	Diag *zerolog.Logger
}

// Daemon owns the shutdown flag and the wired pipeline components.
type Daemon struct {
	opts     Options
	shutdown atomic.Bool
	tailer   *tail.Tailer
	detector *detect.Detector
	agg      *aggregator.Aggregator
}

// New assembles the pipeline: tailer (D) feeding the aggregator (E),
// whose window-close callback invokes the detector (F), which in turn
// owns the threshold resolver (B), the reverse-DNS verifier (C), the bot
// store (G), and the reload controller (H).
func New(opts Options) *Daemon {
	d := &Daemon{opts: opts}

	store := botstore.NewStore(opts.BotFilePath)
	verifier := rdns.NewVerifier()
	var reloader *reload.Controller
	if !opts.DryRun {
		reloader = reload.NewController(opts.PIDFilePath, opts.Diag)
	}
	d.detector = detect.New(opts.Config, store, verifier, reloader, opts.DryRun, opts.Diag)

	d.agg = aggregator.New(func(w *aggregator.Window) {
		if err := d.detector.Run(context.Background(), w, time.Now()); err != nil {
			log.Error().Err(err).Str("window", w.Prefix).Msg("detection cycle failed")
		}
	})

	d.tailer = tail.NewTailer(opts.LogFilePath, d.shutdownRequested)
	return d
}

// Run blocks until a shutdown signal is received or the tailer reports
// an unrecoverable error.
func (d *Daemon) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, stopping tailer")
		d.shutdown.Store(true)
	}()

	log.Info().Str("path", d.opts.LogFilePath).Msg("starting log tailer")
	return d.tailer.Lines(d.agg.OnLine)
}

func (d *Daemon) shutdownRequested() bool {
	return d.shutdown.Load()
}
