// Package detect implements the two-pass window-close analysis that
// turns an aggregated window into new bot records, merging them into the
// persistent bot set.
package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/makhomed/autofilter/aggregator"
	"github.com/makhomed/autofilter/botstore"
	"github.com/makhomed/autofilter/config"
	"github.com/makhomed/autofilter/logging"
	"github.com/makhomed/autofilter/rdns"
	"github.com/makhomed/autofilter/reload"
	"github.com/makhomed/autofilter/threshold"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Detector owns the bot store and reload controller and runs the
// two-pass detection algorithm at every window close (§4.F).
type Detector struct {
	tables       *config.Tables
	store        *botstore.Store
	verifier     *rdns.Verifier
	reloader     *reload.Controller
	dryRun       bool
	detectionLog zerolog.Logger
}

// New builds a Detector. reloader may be nil, in which case reload
// signaling is skipped entirely (used by the daemon in dry-run mode and by
// tests that only care about the bot set, not the reload side effect). diag is the
// configuration-diagnostics logger; in dry-run mode §4.F requires
// detections to be "logged to the configuration stream only", so the
// detector's own detection log is pinned to diag rather than the
// operational sink whenever dryRun is true (pass nil to fall back to the
// current global logger).
func New(tables *config.Tables, store *botstore.Store, verifier *rdns.Verifier, reloader *reload.Controller, dryRun bool, diag *zerolog.Logger) *Detector {
	detectionLog := log.Logger
	if dryRun {
		detectionLog = logging.Resolve(diag)
	}
	return &Detector{
		tables:       tables,
		store:        store,
		verifier:     verifier,
		reloader:     reloader,
		dryRun:       dryRun,
		detectionLog: detectionLog,
	}
}

// Run executes one detection cycle against a freshly-closed window. It
// loads and expires the persistent bot set, runs both passes, and -
// unless running in dry-run mode - writes the merged set back and gives
// the reload controller a chance to signal the fronting server.
func (d *Detector) Run(ctx context.Context, w *aggregator.Window, now time.Time) error {
	set, err := d.store.Load(now)
	if err != nil {
		return fmt.Errorf("failed to load bot set: %w", err)
	}

	handled := make(map[string]bool)

	d.passOneURI(ctx, w, set, handled, now)
	d.passRequestCount(ctx, w, set, handled, now)

	if d.dryRun {
		return nil
	}

	if err := d.store.Write(set); err != nil {
		return fmt.Errorf("failed to write bot set: %w", err)
	}

	if d.reloader != nil {
		if _, err := d.reloader.MaybeReload(now, set.Keys()); err != nil {
			log.Warn().Err(err).Msg("failed to signal fronting server reload")
		}
	}
	return nil
}

// passOneURI implements §4.F Pass 1: addresses that touched exactly one
// distinct URI during the window, checked against the one-URI limit.
func (d *Detector) passOneURI(ctx context.Context, w *aggregator.Window, set botstore.Set, handled map[string]bool, now time.Time) {
	for _, addr := range sortedAddrs(w.AddrURICount) {
		byURI := w.AddrURICount[addr]
		if len(byURI) != 1 {
			continue
		}
		var load float64
		for _, v := range byURI {
			load = v
		}
		l := int64(math.Floor(load))

		country := w.Country[addr]
		limit := d.tables.OneURICount.Resolve(addr, country)
		if limit == threshold.None || uint64(l) <= limit {
			continue
		}
		if _, exists := set[addr]; exists {
			continue
		}

		if d.recordIfNotWhitelisted(ctx, set, addr, country, l, now, "ONE_URI_COUNT") {
			handled[addr] = true
		}
	}
}

// passRequestCount implements §4.F Pass 2: total load across all
// addresses seen in the window, checked against the request-count limit.
// Addresses already recorded in Pass 1 are skipped.
func (d *Detector) passRequestCount(ctx context.Context, w *aggregator.Window, set botstore.Set, handled map[string]bool, now time.Time) {
	for _, addr := range sortedAddrs(w.AddrCount) {
		if handled[addr] {
			continue
		}
		l := int64(math.Floor(w.AddrCount[addr]))

		country := w.Country[addr]
		limit := d.tables.RequestCount.Resolve(addr, country)
		if limit == threshold.None || uint64(l) <= limit {
			continue
		}
		if _, exists := set[addr]; exists {
			continue
		}

		d.recordIfNotWhitelisted(ctx, set, addr, country, l, now, "REQUEST_COUNT")
	}
}

// recordIfNotWhitelisted consults the reverse-DNS verifier; whitelisted
// crawlers are never recorded. Otherwise it inserts a new BotRecord into
// set and logs the detection at INFO. Returns true if a record was
// inserted.
func (d *Detector) recordIfNotWhitelisted(ctx context.Context, set botstore.Set, addr, country string, load int64, now time.Time, kind string) bool {
	verdict := d.verifier.Verify(ctx, addr)
	if verdict.Kind == rdns.Whitelisted {
		log.Debug().Str("address", addr).Str("hostname", verdict.Hostname).Msg("whitelisted crawler, skipping")
		return false
	}

	hostname := "UNKNOWN REVERSE DOMAIN NAME"
	if verdict.Hostname != "" {
		hostname = verdict.Hostname
	}

	blockDuration := d.tables.BlockDuration.Resolve(addr, country)
	var blockUntil time.Time
	if blockDuration == threshold.None {
		blockUntil = now.AddDate(100, 0, 0)
	} else {
		blockUntil = now.Add(time.Duration(blockDuration) * time.Second)
	}

	set[addr] = &botstore.BotRecord{
		Address:      addr,
		BlockUntil:   blockUntil,
		Country:      country,
		ObservedLoad: load,
		Reason:       fmt.Sprintf("%s from %s", kind, hostname),
	}

	d.detectionLog.Info().
		Str("address", addr).
		Str("country", country).
		Int64("load", load).
		Str("reason", kind).
		Str("hostname", hostname).
		Msg("blocked client")
	return true
}

func sortedAddrs[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
