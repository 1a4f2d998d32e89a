// Package threshold resolves the configured request-count, one-URI-count
// and block-duration limits for a given client address and country using
// the four-level precedence described for the detector.
package threshold

import (
	"math"
	"net"
)

// EntityAll is the catch-all entity every table must contain.
const EntityAll = "ALL"

// None is the sentinel value for an effectively-disabled limit.
const None uint64 = math.MaxUint64

type cidrEntry struct {
	raw string
	net *net.IPNet
}

// Table maps entities (exact address, CIDR, country code, or ALL) to a
// single kind of limit value (request count, one-URI count, or block
// duration in seconds). CIDR entities are tracked separately, in
// declaration order, since resolution is first-match-wins rather than
// longest-prefix (see DESIGN.md Open Question decisions).
type Table struct {
	exact   map[string]uint64
	country map[string]uint64
	cidrs   []cidrEntry
	cidrVal map[string]uint64
}

// NewTable creates an empty table. Callers should add an ALL entry
// before relying on Resolve, or accept the Resolve fallback of 0 if ALL
// is absent (should not occur once a table has gone through config
// loading, which always synthesizes ALL from defaults).
func NewTable() *Table {
	return &Table{
		exact:   make(map[string]uint64),
		country: make(map[string]uint64),
		cidrVal: make(map[string]uint64),
	}
}

// Set records a value for an entity. The entity kind (exact address,
// CIDR, country, ALL) is inferred from its shape.
func (t *Table) Set(entity string, value uint64) error {
	if len(entity) == 0 {
		return nil
	}
	if containsSlash(entity) {
		_, ipnet, err := net.ParseCIDR(entity)
		if err != nil {
			return err
		}
		t.cidrs = append(t.cidrs, cidrEntry{raw: entity, net: ipnet})
		t.cidrVal[entity] = value
		return nil
	}
	if isCountryCode(entity) {
		t.country[entity] = value
		return nil
	}
	t.exact[entity] = value
	return nil
}

// HasAll reports whether the ALL entity is present.
func (t *Table) HasAll() bool {
	_, ok := t.exact[EntityAll]
	return ok
}

// Resolve returns the applicable limit for (address, country) following
// the precedence: exact address, first-match CIDR (declaration order),
// country, ALL.
func (t *Table) Resolve(address string, country string) uint64 {
	if v, ok := t.exact[address]; ok {
		return v
	}
	if ip := net.ParseIP(address); ip != nil {
		for _, c := range t.cidrs {
			if c.net.Contains(ip) {
				return t.cidrVal[c.raw]
			}
		}
	}
	if country != "" {
		if v, ok := t.country[country]; ok {
			return v
		}
	}
	return t.exact[EntityAll]
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}

func isCountryCode(s string) bool {
	if s == EntityAll {
		return false
	}
	if len(s) != 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
