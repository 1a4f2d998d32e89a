// Package config loads the daemon's threshold configuration from an
// optional, line-oriented text file and falls back to built-in defaults
// whenever the file is missing or malformed.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/makhomed/autofilter/logging"
	"github.com/makhomed/autofilter/threshold"

	"github.com/rs/zerolog"
)

const (
	// DefaultRequestLimit is the built-in ALL request-count limit.
	DefaultRequestLimit uint64 = 128

	// DefaultOneURILimit is the built-in ALL one-URI-count limit.
	DefaultOneURILimit uint64 = 32

	// DefaultBlockDurationSecs is the built-in ALL block duration, in seconds.
	DefaultBlockDurationSecs uint64 = 86400
)

// Tables bundles the three threshold tables the detector consults.
type Tables struct {
	RequestCount  *threshold.Table
	OneURICount   *threshold.Table
	BlockDuration *threshold.Table
}

// Defaults builds the built-in fallback tables.
func Defaults() *Tables {
	req := threshold.NewTable()
	one := threshold.NewTable()
	blk := threshold.NewTable()
	_ = req.Set(threshold.EntityAll, DefaultRequestLimit)
	_ = one.Set(threshold.EntityAll, DefaultOneURILimit)
	_ = blk.Set(threshold.EntityAll, DefaultBlockDurationSecs)
	return &Tables{RequestCount: req, OneURICount: one, BlockDuration: blk}
}

// Load parses path as the §4.A grammar. A missing path is not an error
// and yields the built-in defaults. Any parse error causes the entire
// file to be discarded in favor of the defaults; the reason is logged
// to the configuration diagnostics stream (diag; pass nil to fall back
// to the current global logger) and the daemon continues.
func Load(path string, diag *zerolog.Logger) *Tables {
	if path == "" {
		return Defaults()
	}
	diagLog := logging.Resolve(diag)
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			diagLog.Warn().Err(err).Str("path", path).Msg("failed to open config file, using defaults")
		}
		return Defaults()
	}
	defer f.Close()

	tables, err := parse(f)
	if err != nil {
		diagLog.Warn().Err(err).Str("path", path).Msg("config file parse error, falling back to built-in defaults")
		return Defaults()
	}
	return tables
}

// Validate parses path without falling back to defaults on error,
// giving the --test-config CLI flag a real pass/fail signal. A missing
// path is valid (it simply means "use the built-in defaults").
func Validate(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = parse(f)
	return err
}

// parse reads the full grammar and returns tables, or the first error
// encountered (duplicate entity, malformed duration/integer, invalid
// CIDR, or a one_uri_limit > request_limit violation).
func parse(r io.Reader) (*Tables, error) {
	req := threshold.NewTable()
	one := threshold.NewTable()
	blk := threshold.NewTable()
	seenLimit := make(map[string]bool)
	seenBlock := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.ReplaceAll(line, "\t", " ")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		directive := strings.ToLower(fields[0])
		switch directive {
		case "limit":
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: expected 'limit <entity> <request_count> <one_uri_count>'", lineNum)
			}
			entity := normalizeEntity(fields[1])
			if seenLimit[entity] {
				return nil, fmt.Errorf("line %d: duplicate limit entity %q", lineNum, entity)
			}
			reqVal, err := parseCountValue(fields[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			oneVal, err := parseCountValue(fields[3])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			if oneVal > reqVal {
				return nil, fmt.Errorf("line %d: one_uri_count (%d) must not exceed request_count (%d) for %q", lineNum, oneVal, reqVal, entity)
			}
			if err := req.Set(entity, reqVal); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			if err := one.Set(entity, oneVal); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			seenLimit[entity] = true

		case "block":
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: expected 'block <entity> <duration>'", lineNum)
			}
			entity := normalizeEntity(fields[1])
			if seenBlock[entity] {
				return nil, fmt.Errorf("line %d: duplicate block entity %q", lineNum, entity)
			}
			secs, err := parseDuration(fields[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			if err := blk.Set(entity, secs); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			seenBlock[entity] = true

		default:
			return nil, fmt.Errorf("line %d: unknown directive %q", lineNum, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	synthesizeAll(req, DefaultRequestLimit)
	synthesizeAll(one, DefaultOneURILimit)
	synthesizeAll(blk, DefaultBlockDurationSecs)

	return &Tables{RequestCount: req, OneURICount: one, BlockDuration: blk}, nil
}

// normalizeEntity applies the §4.A case-folding rule: tokens containing
// ':' (IPv6 literals) are left as-is, everything else is upper-cased so
// country codes like "ua" become "UA".
func normalizeEntity(tok string) string {
	if strings.Contains(tok, ":") {
		return tok
	}
	return strings.ToUpper(tok)
}

func parseCountValue(tok string) (uint64, error) {
	if strings.EqualFold(tok, "none") {
		return threshold.None, nil
	}
	v, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count value %q: %w", tok, err)
	}
	if v < 1 {
		return 0, fmt.Errorf("count value must be >= 1, got %q", tok)
	}
	return v, nil
}

// parseDuration converts "<positive-int>{h|d}" into seconds.
func parseDuration(tok string) (uint64, error) {
	if len(tok) < 2 {
		return 0, fmt.Errorf("invalid duration %q", tok)
	}
	unit := tok[len(tok)-1]
	numPart := tok[:len(tok)-1]
	n, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid duration %q", tok)
	}
	switch unit {
	case 'h', 'H':
		return n * 3600, nil
	case 'd', 'D':
		return n * 86400, nil
	default:
		return 0, fmt.Errorf("invalid duration unit in %q (expected 'h' or 'd')", tok)
	}
}

func synthesizeAll(t *threshold.Table, defaultVal uint64) {
	if !t.HasAll() {
		_ = t.Set(threshold.EntityAll, defaultVal)
	}
}
