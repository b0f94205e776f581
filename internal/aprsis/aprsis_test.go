package aprsis

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0call/aprstx/internal/config"
	"github.com/n0call/aprstx/internal/router"
)

func testLogger() *log.Logger { return log.New(io.Discard) }

func TestCalculatePasscode(t *testing.T) {
	assert.Equal(t, int32(13023), CalculatePasscode("N0CALL"))
	assert.Equal(t, int32(13023), CalculatePasscode("N0CALL-10"))
	assert.Equal(t, int32(24231), CalculatePasscode("KJ4ERJ"))
}

func TestResolvePasscodeUsesMinusOneLiteral(t *testing.T) {
	c := &Client{cfg: config.AprsIsConfig{Callsign: "N0CALL", Passcode: "-1"}, logger: testLogger()}
	assert.Equal(t, int32(-1), c.resolvePasscode())
}

func TestResolvePasscodeUsesExplicitValue(t *testing.T) {
	c := &Client{cfg: config.AprsIsConfig{Callsign: "N0CALL", Passcode: "12345"}, logger: testLogger()}
	assert.Equal(t, int32(12345), c.resolvePasscode())
}

func TestResolvePasscodeFallsBackToCalculated(t *testing.T) {
	c := &Client{cfg: config.AprsIsConfig{Callsign: "N0CALL", Passcode: "not-a-number"}, logger: testLogger()}
	assert.Equal(t, int32(13023), c.resolvePasscode())
}

// TestConnectAndRunLoginAndRelay drives connectAndRun against an
// in-process fake APRS-IS server: banner, login line, login verification,
// and one received packet relayed to ingress.
func TestConnectAndRunLoginAndRelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	var loginLine string
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		_, _ = conn.Write([]byte("# aprsc 2.1.0 test server\r\n"))

		r := bufio.NewReader(conn)
		loginLine, _ = r.ReadString('\n')
		_, _ = conn.Write([]byte("# logresp N0CALL-10 verified, server TEST\r\n"))

		_, _ = conn.Write([]byte("SENDER>APRS:>hello\r\n"))

		_, _ = r.ReadString('\n')
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	cfg := config.AprsIsConfig{
		Server:   host,
		Port:     uint16(portNum),
		Callsign: "N0CALL-10",
		Passcode: "-1",
		RxEnable: true,
		TxEnable: true,
	}
	c := New(cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	ingress := make(chan router.RoutedPacket, 10)
	isTx := make(chan router.RoutedPacket, 10)

	errCh := make(chan error, 1)
	go func() { errCh <- c.connectAndRun(ctx, ingress, isTx) }()

	select {
	case rp := <-ingress:
		assert.Equal(t, "SENDER>APRS:>hello", rp.Packet.String())
		assert.Equal(t, router.AprsIs, rp.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a received packet on ingress")
	}

	cancel()
	<-errCh
	<-serverDone

	assert.Contains(t, loginLine, "user N0CALL-10 pass -1")
}
