package aggregator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func makeLine(timeISO, country, addr, cacheStatus, respTime, uri string) string {
	return fmt.Sprintf(
		"%s\t%s\t%s\t%s\t%s\t200\thttp\texample.com\tGET\t%s\t100\t-\tmozilla",
		timeISO, country, addr, cacheStatus, respTime, uri,
	)
}

func TestWindowKeyNormalizesTToSpace(t *testing.T) {
	key, ok := WindowKey("2024-05-01T12:34:56+02:00")
	assert.True(t, ok)
	assert.Equal(t, "2024-05-01 12:34", key)
}

func TestWindowKeyTooShort(t *testing.T) {
	_, ok := WindowKey("2024")
	assert.False(t, ok)
}

func TestWeightEdgeVsOrigin(t *testing.T) {
	l, ok := ParseLine(makeLine("2024-05-01T12:34:56Z", "US", "1.2.3.4", "-", "-", "/a"))
	assert.True(t, ok)
	assert.Equal(t, EdgeWeight, Weight(l))

	l, ok = ParseLine(makeLine("2024-05-01T12:34:56Z", "US", "1.2.3.4", "HIT", "0.001", "/a"))
	assert.True(t, ok)
	assert.Equal(t, OriginWeight, Weight(l))
}

func TestParseLineWrongFieldCount(t *testing.T) {
	_, ok := ParseLine("too\tfew\tfields")
	assert.False(t, ok)
}

func TestAggregatorAccumulatesWithinWindow(t *testing.T) {
	var closed []*Window
	agg := New(func(w *Window) { closed = append(closed, w) })

	for i := 0; i < 11; i++ {
		agg.OnLine(makeLine("2024-05-01T12:34:00Z", "US", "1.2.3.4", "HIT", "0.01", "/a"))
	}
	for i := 0; i < 5; i++ {
		agg.OnLine(makeLine("2024-05-01T12:34:30Z", "US", "1.2.3.4", "HIT", "0.01", "/b"))
	}
	assert.Empty(t, closed, "window must not close while prefix is unchanged")
	assert.Equal(t, float64(16), agg.current.AddrCount["1.2.3.4"])
	assert.Equal(t, float64(11), agg.current.AddrURICount["1.2.3.4"]["example.com/a"])
	assert.Equal(t, float64(5), agg.current.AddrURICount["1.2.3.4"]["example.com/b"])
}

func TestAggregatorClosesOnPrefixChange(t *testing.T) {
	var closed []*Window
	agg := New(func(w *Window) { closed = append(closed, w) })

	agg.OnLine(makeLine("2024-05-01T12:34:00Z", "US", "1.2.3.4", "HIT", "0.01", "/a"))
	agg.OnLine(makeLine("2024-05-01T12:34:30Z", "US", "1.2.3.4", "HIT", "0.01", "/a"))
	agg.OnLine(makeLine("2024-05-01T12:35:00Z", "US", "1.2.3.4", "HIT", "0.01", "/a"))

	assert.Len(t, closed, 1)
	assert.Equal(t, "2024-05-01 12:34", closed[0].Prefix)
	assert.Equal(t, float64(2), closed[0].AddrCount["1.2.3.4"])
	// the new window only has the third line
	assert.Equal(t, "2024-05-01 12:35", agg.current.Prefix)
	assert.Equal(t, float64(1), agg.current.AddrCount["1.2.3.4"])
}

func TestAggregatorMalformedLineIsSkipped(t *testing.T) {
	var closed []*Window
	agg := New(func(w *Window) { closed = append(closed, w) })
	agg.OnLine("garbage")
	assert.Nil(t, agg.current)
	assert.Empty(t, closed)
}

func TestAddrURICountSumsToAddrCount(t *testing.T) {
	var closed []*Window
	agg := New(func(w *Window) { closed = append(closed, w) })
	agg.OnLine(makeLine("2024-05-01T12:34:00Z", "US", "1.2.3.4", "HIT", "0.01", "/a"))
	agg.OnLine(makeLine("2024-05-01T12:34:01Z", "US", "1.2.3.4", "-", "-", "/b"))
	agg.OnLine(makeLine("2024-05-01T12:35:00Z", "US", "1.2.3.4", "-", "-", "/c"))

	w := closed[0]
	var sum float64
	for _, v := range w.AddrURICount["1.2.3.4"] {
		sum += v
	}
	assert.InDelta(t, w.AddrCount["1.2.3.4"], sum, 1e-9)
}
