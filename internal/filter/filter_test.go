package filter

import (
	"testing"

	"github.com/n0call/aprstx/internal/aprs"
	"github.com/n0call/aprstx/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkt(info string) aprs.Packet {
	return aprs.NewPacket(aprs.NewCallSign("N0CALL", 0), aprs.NewCallSign("APRS", 0), info)
}

func TestFilterDrop(t *testing.T) {
	f, err := New([]config.FilterConfig{
		{Name: "rfonly", Action: config.ActionDrop, Pattern: "RFONLY"},
	})
	require.NoError(t, err)

	assert.False(t, f.ShouldPass(pkt(">Test RFONLY packet")))
	assert.True(t, f.ShouldPass(pkt(">Normal packet")))
}

func TestFilterPassOverridesDefaultDrop(t *testing.T) {
	f, err := New([]config.FilterConfig{
		{Name: "emergency", Action: config.ActionPass, Pattern: "EMERGENCY"},
		{Name: "default", Action: config.ActionDrop, Pattern: ".*"},
	})
	require.NoError(t, err)

	assert.True(t, f.ShouldPass(pkt(">EMERGENCY test")))
	assert.False(t, f.ShouldPass(pkt(">Normal packet")))
}

func TestFilterMatchesSourceCallsign(t *testing.T) {
	f, err := New([]config.FilterConfig{
		{Name: "callsign", Action: config.ActionDrop, Pattern: "^N0CALL.*"},
	})
	require.NoError(t, err)

	p := pkt(">Test")
	p.Source = aprs.NewCallSign("N0CALL", 5)
	assert.False(t, f.ShouldPass(p))

	p2 := pkt(">Test")
	p2.Source = aprs.NewCallSign("N1CALL", 0)
	assert.True(t, f.ShouldPass(p2))
}

func TestFilterMultipleRules(t *testing.T) {
	f, err := New([]config.FilterConfig{
		{Name: "rfonly", Action: config.ActionDrop, Pattern: "RFONLY"},
		{Name: "nogate", Action: config.ActionDrop, Pattern: "NOGATE"},
		{Name: "tcpip", Action: config.ActionDrop, Pattern: "TCPIP"},
	})
	require.NoError(t, err)

	assert.False(t, f.ShouldPass(pkt(">Test RFONLY")))
	assert.False(t, f.ShouldPass(pkt(">Test NOGATE")))

	p := pkt(">Test")
	p.Path = []aprs.CallSign{aprs.NewCallSign("TCPIP", 0)}
	assert.False(t, f.ShouldPass(p))

	assert.True(t, f.ShouldPass(pkt(">Normal packet")))
}

func TestFilterInvalidRegex(t *testing.T) {
	_, err := New([]config.FilterConfig{
		{Name: "bad", Action: config.ActionDrop, Pattern: "[invalid regex"},
	})
	require.Error(t, err)
}
