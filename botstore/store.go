// Package botstore loads, merges, expires and atomically persists the
// bot artifact consumed by the fronting HTTP server.
package botstore

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/makhomed/autofilter/fsop"

	"github.com/czcorpus/cnc-gokit/fs"
	"github.com/rs/zerolog/log"
)

// BotRecord is a single blocked-client entry.
type BotRecord struct {
	Address      string
	BlockUntil   time.Time
	Country      string
	ObservedLoad int64
	Reason       string
}

// Live reports whether the record is still in effect at now.
func (r *BotRecord) Live(now time.Time) bool {
	return r.BlockUntil.After(now)
}

// Set is the authoritative in-memory bot set: address -> record.
type Set map[string]*BotRecord

// Keys returns the addresses currently present in the set.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}

// Store reads and writes the bot artifact at a fixed filesystem path.
type Store struct {
	path string
}

// NewStore creates a Store bound to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the artifact, dropping any record whose block_until has
// already passed. A missing artifact is treated as an empty set (§7).
func (s *Store) Load(now time.Time) (Set, error) {
	set := make(Set)
	isf, err := fs.IsFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat bot artifact: %w", err)
	}
	if !isf {
		return set, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bot artifact: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			log.Warn().Err(err).Str("line", line).Msg("malformed bot artifact line, skipping")
			continue
		}
		if !rec.Live(now) {
			continue
		}
		set[rec.Address] = rec
	}
	return set, nil
}

// Write serializes set to the artifact path using an atomic
// write-to-tmp-then-rename sequence, so a concurrent reader never
// observes a partial file (§4.G, §5). Records are sorted by observed
// load, descending; ties break on address for determinism.
func (s *Store) Write(set Set) error {
	records := make([]*BotRecord, 0, len(set))
	for _, r := range set {
		records = append(records, r)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].ObservedLoad != records[j].ObservedLoad {
			return records[i].ObservedLoad > records[j].ObservedLoad
		}
		return records[i].Address < records[j].Address
	})

	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(formatLine(r))
		sb.WriteByte('\n')
	}
	return fsop.AtomicWriteFile(s.path, []byte(sb.String()), 0644)
}

func formatLine(r *BotRecord) string {
	return fmt.Sprintf(
		"%45s 1; #    %s    %7d    %s    %s",
		r.Address,
		r.Country,
		r.ObservedLoad,
		r.BlockUntil.UTC().Format(time.RFC3339),
		r.Reason,
	)
}

func parseLine(line string) (*BotRecord, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return nil, fmt.Errorf("expected at least 6 fields, got %d", len(fields))
	}
	address := fields[0]
	country := fields[3]
	load, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid load value %q: %w", fields[4], err)
	}
	blockUntil, err := time.Parse(time.RFC3339, fields[5])
	if err != nil {
		return nil, fmt.Errorf("invalid block_until value %q: %w", fields[5], err)
	}
	reason := strings.Join(fields[6:], " ")
	return &BotRecord{
		Address:      address,
		BlockUntil:   blockUntil,
		Country:      country,
		ObservedLoad: load,
		Reason:       reason,
	}, nil
}
