package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/makhomed/autofilter/aggregator"
	"github.com/makhomed/autofilter/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonStopsOnShutdownSignal(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(logPath, []byte(""), 0644))

	d := New(Options{
		LogFilePath: logPath,
		BotFilePath: filepath.Join(dir, "bot.conf"),
		PIDFilePath: filepath.Join(dir, "autofilter.pid"),
		Config:      config.Defaults(),
		DryRun:      true,
	})

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	time.Sleep(50 * time.Millisecond)
	d.shutdown.Store(true)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop after shutdown flag was set")
	}
}

func TestDaemonProcessesLinesIntoAWindow(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(logPath, []byte(""), 0644))

	cfg := config.Defaults()
	d := New(Options{
		LogFilePath: logPath,
		BotFilePath: filepath.Join(dir, "bot.conf"),
		PIDFilePath: filepath.Join(dir, "autofilter.pid"),
		Config:      cfg,
		DryRun:      true,
	})

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	time.Sleep(30 * time.Millisecond)
	line := time.Now().UTC().Format(time.RFC3339) + "\tUS\t1.2.3.4\t-\t-\t200\thttp\texample.com\tGET\t/a\t1\t-\tua\n"
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		// both upstream fields are "-", so the line carries the edge weight
		return d.agg.CurrentAddrCount("1.2.3.4") == aggregator.EdgeWeight
	}, 3*time.Second, 20*time.Millisecond)

	d.shutdown.Store(true)
	<-done
}
