// Package aggregator accumulates per-address and per-(address,URI)
// weighted request counts within one-minute windows derived from the
// access log's timestamp prefix.
package aggregator

import (
	"strings"

	"github.com/rs/zerolog/log"
)

const numFields = 13

// WindowKeyLen is the length of the "YYYY-MM-DD HH:MM" window key.
const WindowKeyLen = 16

// EdgeWeight is applied when a request was served entirely from the
// fronting server's cache/static layer (both upstream fields are "-").
const EdgeWeight = 0.01

// OriginWeight is applied to every other request.
const OriginWeight = 1.0

// Line holds the TAB-separated fields of a single access log record, in
// the order they appear on disk.
type Line struct {
	TimeISO               string
	Country               string
	Address               string
	UpstreamCacheStatus   string
	UpstreamResponseTime  string
	Status                string
	Scheme                string
	Host                  string
	Method                string
	URI                   string
	BodyBytes             string
	Referer               string
	UserAgent             string
}

// ParseLine splits a raw TAB-separated log line into its fields. It
// returns false if the line does not carry exactly the expected number
// of fields.
func ParseLine(raw string) (Line, bool) {
	fields := strings.Split(raw, "\t")
	if len(fields) != numFields {
		return Line{}, false
	}
	return Line{
		TimeISO:              fields[0],
		Country:              fields[1],
		Address:              fields[2],
		UpstreamCacheStatus:  fields[3],
		UpstreamResponseTime: fields[4],
		Status:               fields[5],
		Scheme:               fields[6],
		Host:                 fields[7],
		Method:               fields[8],
		URI:                  fields[9],
		BodyBytes:            fields[10],
		Referer:              fields[11],
		UserAgent:            fields[12],
	}, true
}

// WindowKey derives the 16-character "YYYY-MM-DD HH:MM" window key from
// a raw time_iso field such as "2024-05-01T12:34:56+02:00".
func WindowKey(timeISO string) (string, bool) {
	if len(timeISO) < WindowKeyLen {
		return "", false
	}
	key := []byte(timeISO[:WindowKeyLen])
	if key[10] == 'T' {
		key[10] = ' '
	}
	return string(key), true
}

// Weight returns the request's weight: EdgeWeight when both upstream
// fields are the literal "-" (served from cache/edge), OriginWeight
// otherwise.
func Weight(l Line) float64 {
	if l.UpstreamCacheStatus == "-" && l.UpstreamResponseTime == "-" {
		return EdgeWeight
	}
	return OriginWeight
}

// Window is the spec's CountsWindow: per-address and per-(address,URI)
// weighted counts accumulated during a single one-minute bucket.
type Window struct {
	Prefix       string
	AddrCount    map[string]float64
	AddrURICount map[string]map[string]float64
	Country      map[string]string
}

func newWindow(prefix string) *Window {
	return &Window{
		Prefix:       prefix,
		AddrCount:    make(map[string]float64),
		AddrURICount: make(map[string]map[string]float64),
		Country:      make(map[string]string),
	}
}

// Aggregator accumulates lines into a single open Window and invokes
// onClose exactly once per boundary crossing, handing it the window that
// just closed. Exactly one window is open at a time (§3).
type Aggregator struct {
	current *Window
	onClose func(*Window)
}

// New creates an Aggregator. onClose is invoked synchronously, on the
// same goroutine as OnLine, whenever a line with a strictly different
// prefix than the currently open window arrives.
func New(onClose func(*Window)) *Aggregator {
	return &Aggregator{onClose: onClose}
}

// OnLine feeds a single raw log line into the aggregator. Malformed
// lines are logged and skipped; the current window is left untouched.
func (a *Aggregator) OnLine(raw string) {
	line, ok := ParseLine(raw)
	if !ok {
		log.Warn().Str("line", sample(raw)).Msg("malformed log line, skipping")
		return
	}
	key, ok := WindowKey(line.TimeISO)
	if !ok {
		log.Warn().Str("line", sample(raw)).Msg("malformed time field, skipping")
		return
	}

	if a.current != nil && key != a.current.Prefix {
		closed := a.current
		a.current = nil
		a.onClose(closed)
	}
	if a.current == nil {
		a.current = newWindow(key)
	}

	w := a.current
	weight := Weight(line)
	w.AddrCount[line.Address] += weight
	uriKey := line.Host + line.URI
	byURI, ok := w.AddrURICount[line.Address]
	if !ok {
		byURI = make(map[string]float64)
		w.AddrURICount[line.Address] = byURI
	}
	byURI[uriKey] += weight
	w.Country[line.Address] = line.Country
}

// CurrentAddrCount returns the accumulated weight for addr in the
// currently open window, or 0 if the window has no entry yet (or no
// window is open at all).
func (a *Aggregator) CurrentAddrCount(addr string) float64 {
	if a.current == nil {
		return 0
	}
	return a.current.AddrCount[addr]
}

func sample(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
