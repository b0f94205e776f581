package message

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0call/aprstx/internal/aprs"
	"github.com/n0call/aprstx/internal/router"
)

func testLogger() *log.Logger { return log.New(io.Discard) }

func runHandler(t *testing.T, h *Handler) (feed chan router.RoutedPacket, out chan router.RoutedPacket, cancel context.CancelFunc) {
	t.Helper()
	feed = make(chan router.RoutedPacket, 10)
	out = make(chan router.RoutedPacket, 10)
	ctx, c := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx, feed, out) }()
	return feed, out, c
}

func TestIncomingMessageWithMsgIDIsAcked(t *testing.T) {
	h := New("N0CALL-10", testLogger())
	feed, out, cancel := runHandler(t, h)
	defer cancel()

	p, err := aprs.ParsePacket("SENDER>APRS::N0CALL-10:Hello{001")
	require.NoError(t, err)

	feed <- router.RoutedPacket{Packet: p, Source: router.SerialPort("radio0")}

	select {
	case rp := <-out:
		assert.Equal(t, ":SENDER   :ack001", rp.Packet.Information)
		assert.Equal(t, router.Internal, rp.Source)
	case <-time.After(time.Second):
		t.Fatal("expected an ack packet")
	}
}

func TestDuplicateMessageResendsAck(t *testing.T) {
	h := New("N0CALL-10", testLogger())
	feed, out, cancel := runHandler(t, h)
	defer cancel()

	p, err := aprs.ParsePacket("SENDER>APRS::N0CALL-10:Hello{001")
	require.NoError(t, err)

	feed <- router.RoutedPacket{Packet: p, Source: router.SerialPort("radio0")}
	<-out

	feed <- router.RoutedPacket{Packet: p, Source: router.SerialPort("radio0")}
	select {
	case rp := <-out:
		assert.Equal(t, ":SENDER   :ack001", rp.Packet.Information)
	case <-time.After(time.Second):
		t.Fatal("expected a resent ack for the duplicate message")
	}
}

func TestAprstStatusQueryGetsReply(t *testing.T) {
	h := New("N0CALL-10", testLogger())
	feed, out, cancel := runHandler(t, h)
	defer cancel()

	p, err := aprs.ParsePacket("SENDER>APRS::N0CALL-10:?APRST")
	require.NoError(t, err)

	feed <- router.RoutedPacket{Packet: p, Source: router.SerialPort("radio0")}

	select {
	case rp := <-out:
		assert.Equal(t, ":SENDER   :aprstx daemon running", rp.Packet.Information)
	case <-time.After(time.Second):
		t.Fatal("expected a status reply")
	}
}

func TestAckRemovesPending(t *testing.T) {
	h := New("N0CALL-10", testLogger())
	feed, out, cancel := runHandler(t, h)
	defer cancel()

	outbound := aprs.NewPacket(aprs.NewCallSign("N0CALL", 10), aprs.NewCallSign("OTHER", 0), ":OTHER    :hi{042")
	h.Enqueue("042", outbound)
	require.Equal(t, 1, h.PendingCount())

	ackPacket, err := aprs.ParsePacket("OTHER>APRS::N0CALL-10:ack042")
	require.NoError(t, err)
	feed <- router.RoutedPacket{Packet: ackPacket, Source: router.SerialPort("radio0")}

	require.Eventually(t, func() bool { return h.PendingCount() == 0 }, time.Second, 10*time.Millisecond)
	_ = out
}

func TestAddresseeMismatchIgnored(t *testing.T) {
	h := New("N0CALL-10", testLogger())
	feed, out, cancel := runHandler(t, h)
	defer cancel()

	p, err := aprs.ParsePacket("SENDER>APRS::OTHER    :Hello{001")
	require.NoError(t, err)

	feed <- router.RoutedPacket{Packet: p, Source: router.SerialPort("radio0")}

	select {
	case rp := <-out:
		t.Fatalf("unexpected packet for mismatched addressee: %v", rp.Packet)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestNonMessagePacketsIgnored(t *testing.T) {
	h := New("N0CALL-10", testLogger())
	feed, out, cancel := runHandler(t, h)
	defer cancel()

	p, err := aprs.ParsePacket("SENDER>APRS:>status text")
	require.NoError(t, err)

	feed <- router.RoutedPacket{Packet: p, Source: router.SerialPort("radio0")}

	select {
	case rp := <-out:
		t.Fatalf("unexpected packet for non-message data type: %v", rp.Packet)
	case <-time.After(150 * time.Millisecond):
	}
}
