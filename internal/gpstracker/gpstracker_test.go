package gpstracker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0call/aprstx/internal/config"
)

func testLogger() *log.Logger { return log.New(io.Discard) }

func TestParseFixedPositionValid(t *testing.T) {
	pos, err := ParseFixedPosition("40.7128,-74.0060,100")
	require.NoError(t, err)
	assert.Equal(t, 40.7128, pos.Latitude)
	assert.Equal(t, -74.0060, pos.Longitude)
	require.NotNil(t, pos.Altitude)
	assert.Equal(t, 100.0, *pos.Altitude)

	pos2, err := ParseFixedPosition("51.5074,-0.1278")
	require.NoError(t, err)
	assert.Nil(t, pos2.Altitude)

	pos3, err := ParseFixedPosition(" 35.6762 , 139.6503 , 50 ")
	require.NoError(t, err)
	assert.Equal(t, 35.6762, pos3.Latitude)
	assert.Equal(t, 139.6503, pos3.Longitude)
}

func TestParseFixedPositionErrors(t *testing.T) {
	cases := []string{
		"40.7128",
		"",
		"not_a_number,-74.0060",
		"40.7128,not_a_number",
		"40.7128,-74.0060,not_a_number",
		"91.0,-74.0060",
		"-91.0,-74.0060",
		"40.7128,181.0",
		"40.7128,-181.0",
	}
	for _, c := range cases {
		_, err := ParseFixedPosition(c)
		assert.Error(t, err, "expected error for %q", c)
	}
}

func TestSamePlace(t *testing.T) {
	a := Position{Latitude: 40.7128, Longitude: -74.0060}
	b := Position{Latitude: 40.7128, Longitude: -74.0060}
	c := Position{Latitude: 40.7129, Longitude: -74.0060}
	assert.True(t, a.SamePlace(b))
	assert.False(t, a.SamePlace(c))
}

func TestFixedSourceRunPublishesPosition(t *testing.T) {
	position := "40.7128,-74.0060,100"
	tr := New(&config.GpsConfig{Type: config.GpsFixed, Position: &position}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := tr.Position()
		return ok
	}, time.Second, 10*time.Millisecond)

	pos, ok := tr.Position()
	require.True(t, ok)
	assert.Equal(t, 40.7128, pos.Latitude)

	cancel()
	require.NoError(t, <-done)
}

func TestProcessGGAUpdatesPosition(t *testing.T) {
	tr := New(&config.GpsConfig{Type: config.GpsSerial}, testLogger())
	tr.processNMEASentence("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47")

	pos, ok := tr.Position()
	require.True(t, ok)
	assert.InDelta(t, 48.1173, pos.Latitude, 0.001)
	assert.InDelta(t, 11.5167, pos.Longitude, 0.001)
	require.NotNil(t, pos.Altitude)
	assert.Equal(t, 545.4, *pos.Altitude)
}

func TestProcessRMCUpdatesSpeedAndCourse(t *testing.T) {
	tr := New(&config.GpsConfig{Type: config.GpsSerial}, testLogger())
	tr.processNMEASentence("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")

	pos, ok := tr.Position()
	require.True(t, ok)
	require.NotNil(t, pos.Speed)
	assert.InDelta(t, 22.4, *pos.Speed, 0.01)
	require.NotNil(t, pos.Course)
	assert.InDelta(t, 84.4, *pos.Course, 0.01)
}

func TestProcessRMCVoidFixIgnored(t *testing.T) {
	tr := New(&config.GpsConfig{Type: config.GpsSerial}, testLogger())
	tr.processNMEASentence("$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")

	_, ok := tr.Position()
	assert.False(t, ok)
}

func TestProcessGpsdJSONConvertsSpeedToKnots(t *testing.T) {
	tr := New(&config.GpsConfig{Type: config.GpsGpsd}, testLogger())
	tr.processGpsdJSON(`{"class":"TPV","lat":40.7128,"lon":-74.0060,"alt":100.0,"speed":5.14444,"track":180.0}`)

	pos, ok := tr.Position()
	require.True(t, ok)
	assert.Equal(t, 40.7128, pos.Latitude)
	require.NotNil(t, pos.Speed)
	assert.InDelta(t, 10.0, *pos.Speed, 0.01)
}

func TestProcessGpsdJSONIgnoresNonTPV(t *testing.T) {
	tr := New(&config.GpsConfig{Type: config.GpsGpsd}, testLogger())
	tr.processGpsdJSON(`{"class":"DEVICES"}`)

	_, ok := tr.Position()
	assert.False(t, ok)
}

func TestDisabledSourceNeverPublishes(t *testing.T) {
	tr := New(&config.GpsConfig{Type: config.GpsNone}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	_, ok := tr.Position()
	assert.False(t, ok)

	cancel()
	require.NoError(t, <-done)
}
