package aprs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallSign(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantCall   string
		wantSSID   uint8
		wantUsed   bool
		wantErr    bool
	}{
		{name: "bare call", token: "N0CALL", wantCall: "N0CALL", wantSSID: 0},
		{name: "call with ssid", token: "WIDE2-2", wantCall: "WIDE2", wantSSID: 2},
		{name: "used hop", token: "WIDE1-1*", wantCall: "WIDE1", wantSSID: 1, wantUsed: true},
		{name: "lowercase uppercased", token: "n0call-5", wantCall: "N0CALL", wantSSID: 5},
		{name: "ssid too large", token: "N0CALL-16", wantErr: true},
		{name: "empty call", token: "-5", wantErr: true},
		{name: "non numeric ssid defaults to zero", token: "N0CALL-AB", wantCall: "N0CALL", wantSSID: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := ParseCallSign(tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCall, cs.Call)
			assert.Equal(t, tt.wantSSID, cs.SSID)
			assert.Equal(t, tt.wantUsed, cs.Digipeated)
		})
	}
}

func TestCallSignString(t *testing.T) {
	assert.Equal(t, "N0CALL", NewCallSign("n0call", 0).String())
	assert.Equal(t, "N0CALL-10", NewCallSign("n0call", 10).String())

	used := NewCallSign("WIDE1", 1)
	used.Digipeated = true
	assert.Equal(t, "WIDE1-1*", used.String())
}

func TestDetectDataType(t *testing.T) {
	tests := []struct {
		info string
		want DataType
	}{
		{"!4903.50N/07201.75W>Test", DataTypePosition},
		{"=position", DataTypePosition},
		{"/position", DataTypePosition},
		{"@position", DataTypePosition},
		{">status", DataTypeStatus},
		{":N0CALL   :hello", DataTypeMessage},
		{";object", DataTypeObject},
		{")item", DataTypeItem},
		{"`mice", DataTypeMicE},
		{"'mice", DataTypeMicE},
		{"T#001,...", DataTypeTelemetry},
		{"_weather", DataTypeWeather},
		{"{userdefined", DataTypeUserDefined},
		{"}thirdparty", DataTypeThirdParty},
		{"Xgarbage", DataTypeInvalid},
		{"", DataTypeInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.info, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectDataType(tt.info))
		})
	}
}

func TestPacketString(t *testing.T) {
	p := NewPacket(NewCallSign("N0CALL", 0), NewCallSign("APRS", 0), ">hello")
	assert.Equal(t, "N0CALL>APRS:>hello", p.String())

	p.Path = []CallSign{NewCallSign("WIDE1", 1), NewCallSign("WIDE2", 2)}
	assert.Equal(t, "N0CALL>APRS,WIDE1-1,WIDE2-2:>hello", p.String())
}

func TestHasRFOnlyAndNoGate(t *testing.T) {
	p := NewPacket(NewCallSign("N0CALL", 0), NewCallSign("APRS", 0), ">Test RFONLY packet")
	assert.True(t, p.HasRFOnly())
	assert.False(t, p.HasNoGate())

	p2 := NewPacket(NewCallSign("N0CALL", 0), NewCallSign("APRS", 0), ">Test NOGATE packet")
	assert.True(t, p2.HasNoGate())
	assert.False(t, p2.HasRFOnly())
}
