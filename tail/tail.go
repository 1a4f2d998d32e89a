// Package tail produces a lazy sequence of lines from a single access
// log file, read from the start of the file and then as they are
// appended, reopening on rotation (inode change) and polling for the
// file's initial appearance.
package tail

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/makhomed/autofilter/fsop"

	"github.com/rs/zerolog/log"
)

// PollInterval is the cadence at which the tailer polls for the file's
// existence and for new content once at EOF (§4.D).
const PollInterval = time.Second

// StaleWindow is how far back a warm-up-skipping tailer discards records
// by wall-clock age when SkipStaleOnStart is enabled (§4.D, §9).
const StaleWindow = 2 * time.Minute

// Tailer follows a single file path, handing each line to the caller via
// Lines. It owns a LogCursor (path, open handle, inode)
// and honors cooperative shutdown at every read/sleep checkpoint.
//
// seekPos tracks the byte offset of the last confirmed line boundary:
// the file handle is explicitly seeked back to it before every read
// attempt, mirroring FileTailReader.ApplyNewContent's SeekStart
// bookkeeping in the teacher's load/tail/reader.go. This is what keeps a
// record whose write straddles two polling cycles intact instead of
// losing its already-buffered prefix - a single long-lived bufio.Reader
// spanning poll cycles would otherwise have consumed those bytes from
// its internal buffer and handed back a truncated remainder next time.
type Tailer struct {
	path             string
	file             *os.File
	inode            int64
	seekPos          int64
	shutdown         func() bool
	SkipStaleOnStart bool
}

// NewTailer builds a Tailer for path. shutdown is polled at every
// read/sleep checkpoint; once it returns true, Lines stops yielding and
// returns.
func NewTailer(path string, shutdown func() bool) *Tailer {
	return &Tailer{path: path, shutdown: shutdown}
}

// Lines invokes onLine for every complete line of the file, starting at
// offset 0 (and at offset 0 of each new file after a rotation), then for
// every line appended later, blocking and polling as needed, until the
// shutdown predicate returns true.
func (t *Tailer) Lines(onLine func(string)) error {
	if err := t.awaitFileAndOpen(); err != nil {
		return err
	}
	defer t.close()

	if t.SkipStaleOnStart {
		t.discardStaleBacklog(onLine)
	}

	for {
		if t.shutdown() {
			return nil
		}
		if err := t.drainCompleteLines(onLine); err != nil {
			return err
		}
		if err := t.checkRotationAndSleep(); err != nil {
			return err
		}
	}
}

// drainCompleteLines seeks the file back to the last confirmed line
// boundary and hands every complete ('\n'-terminated) line to onLine,
// advancing seekPos past each one in turn. A trailing, not-yet-terminated
// fragment is left entirely unconsumed at the file level: seekPos is not
// advanced past it, so the next call re-reads it from its own start once
// the rest of the record has been appended, instead of treating the
// remainder as a fresh line (§4.D, §8 S6).
func (t *Tailer) drainCompleteLines(onLine func(string)) error {
	if _, err := t.file.Seek(t.seekPos, io.SeekStart); err != nil {
		return err
	}
	reader := bufio.NewReader(t.file)
	for {
		if t.shutdown() {
			return nil
		}
		raw, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		t.seekPos += int64(len(raw))
		onLine(string(raw[:len(raw)-1]))
	}
}

// discardStaleBacklog reads and drops lines whose window-key prefix
// timestamp is more than StaleWindow old, so a freshly-restarted daemon
// does not re-process an entire backlog of already-past traffic. This
// routine is opt-in (§9 Open Question): by default SkipStaleOnStart is
// false and this is never called. Like drainCompleteLines, it only
// advances seekPos past lines it has fully consumed, leaving a trailing
// fragment for the main loop to pick up from its own start.
func (t *Tailer) discardStaleBacklog(onLine func(string)) {
	cutoff := time.Now().Add(-StaleWindow)
	if _, err := t.file.Seek(t.seekPos, io.SeekStart); err != nil {
		return
	}
	reader := bufio.NewReader(t.file)
	for {
		if t.shutdown() {
			return
		}
		raw, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		t.seekPos += int64(len(raw))
		trimmed := string(raw[:len(raw)-1])
		timeField := trimmed
		if idx := strings.IndexByte(trimmed, '\t'); idx >= 0 {
			timeField = trimmed[:idx]
		}
		ts, err := time.Parse(time.RFC3339, timeField)
		if err == nil && ts.Before(cutoff) {
			continue
		}
		onLine(trimmed)
	}
}

func (t *Tailer) awaitFileAndOpen() error {
	for {
		if t.shutdown() {
			return nil
		}
		if fsop.IsFile(t.path) {
			break
		}
		time.Sleep(PollInterval)
	}
	return t.open()
}

func (t *Tailer) open() error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	inode, _, err := fsop.GetFileProps(t.path)
	if err != nil {
		f.Close()
		return err
	}
	t.file = f
	t.inode = inode
	t.seekPos = 0
	return nil
}

func (t *Tailer) close() {
	if t.file != nil {
		t.file.Close()
	}
}

// checkRotationAndSleep is invoked once drainCompleteLines runs dry: it
// checks whether the path's current inode differs from the held one and,
// if so, closes and reopens from offset 0 of the new file; otherwise it
// sleeps for PollInterval (§4.D).
func (t *Tailer) checkRotationAndSleep() error {
	currInode, _, err := fsop.GetFileProps(t.path)
	if err != nil {
		log.Warn().Err(err).Str("path", t.path).Msg("failed to stat log file, will retry")
		time.Sleep(PollInterval)
		return nil
	}
	if currInode != t.inode {
		log.Info().Str("path", t.path).Int64("old_inode", t.inode).Int64("new_inode", currInode).Msg("log rotation detected, reopening")
		t.close()
		return t.open()
	}
	if t.shutdown() {
		return nil
	}
	time.Sleep(PollInterval)
	return nil
}
