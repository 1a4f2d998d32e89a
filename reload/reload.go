// Package reload signals the fronting HTTP server to reload its
// configuration whenever the published bot set changes, subject to a
// cooldown that keeps reload signals from thrashing.
package reload

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/czcorpus/cnc-gokit/collections"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/makhomed/autofilter/logging"
)

// Cooldown is the minimum interval between two reload signals (§4.H,
// §Glossary "Reload cooldown").
const Cooldown = 60 * time.Second

// Signaler delivers the reload signal to the fronting server's master
// process. Abstracted for testability; ProcessSignaler is the real
// implementation used by the daemon.
type Signaler interface {
	Signal(pid int) error
}

// ProcessSignaler sends a SIGHUP-equivalent to a process by PID; the
// Controller reads that PID from the PID file.
type ProcessSignaler struct{}

// Signal sends SIGHUP to pid.
func (ProcessSignaler) Signal(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGHUP)
}

// Controller tracks the last reload time and the last-published address
// set, and decides whether a new reload signal should be sent (§4.H).
type Controller struct {
	pidFilePath   string
	cooldown      time.Duration
	signaler      Signaler
	diag          zerolog.Logger
	lastReload    time.Time
	lastPublished collections.Set[string]
}

// NewController builds a Controller bound to pidFilePath, using the
// default 60-second cooldown and the real OS signaler. diag is the
// configuration-diagnostics logger; "PID file missing or unreadable" is
// logged there rather than on the operational sink (pass nil to fall
// back to the current global logger).
func NewController(pidFilePath string, diag *zerolog.Logger) *Controller {
	return &Controller{
		pidFilePath:   pidFilePath,
		cooldown:      Cooldown,
		signaler:      ProcessSignaler{},
		diag:          logging.Resolve(diag),
		lastPublished: collections.Set[string]{},
	}
}

// NewControllerWithSignaler builds a Controller with a custom cooldown,
// signaler and diagnostics logger, primarily for tests.
func NewControllerWithSignaler(pidFilePath string, cooldown time.Duration, signaler Signaler, diag *zerolog.Logger) *Controller {
	return &Controller{
		pidFilePath:   pidFilePath,
		cooldown:      cooldown,
		signaler:      signaler,
		diag:          logging.Resolve(diag),
		lastPublished: collections.Set[string]{},
	}
}

// MaybeReload is invoked after every store write. It computes the
// current address set from addresses (a key projection of the bot set -
// no separate comparison structure is kept), and signals
// the fronting server if the cooldown has elapsed and the set changed
// since the last signal. If the PID file is missing or unreadable,
// signaling is silently skipped for this cycle (§4.H, §7).
func (c *Controller) MaybeReload(now time.Time, addresses []string) (signaled bool, err error) {
	current := collections.Set[string]{}
	for _, a := range addresses {
		current.Add(a)
	}

	if now.Sub(c.lastReload) < c.cooldown {
		return false, nil
	}
	if setsEqual(current, c.lastPublished) {
		return false, nil
	}

	pid, err := readPID(c.pidFilePath)
	if err != nil {
		c.diag.Warn().Err(err).Str("path", c.pidFilePath).Msg("pid file missing or unreadable, skipping reload signal")
		return false, nil
	}

	if err := c.signaler.Signal(pid); err != nil {
		return false, fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	c.lastReload = now
	c.lastPublished = current
	log.Info().Int("pid", pid).Int("addresses", current.Size()).Msg("signaled fronting server to reload")
	return true, nil
}

func setsEqual(a, b collections.Set[string]) bool {
	if a.Size() != b.Size() {
		return false
	}
	as := a.ToSlice()
	bs := b.ToSlice()
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	firstLine := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	pid, err := strconv.Atoi(firstLine)
	if err != nil {
		return 0, fmt.Errorf("invalid pid file contents: %w", err)
	}
	return pid, nil
}
