// Package aprsis implements the APRS-IS TCP client: login, keepalive,
// and bidirectional packet relay against the router's IS-egress
// broadcast channel and ingress queue.
package aprsis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/n0call/aprstx/internal/aprs"
	"github.com/n0call/aprstx/internal/config"
	"github.com/n0call/aprstx/internal/router"
)

const (
	connectTimeout = 30 * time.Second
	keepalive      = 20 * time.Second
	reconnectDelay = 30 * time.Second
	clientVersion  = "aprstx 0.1.0"
)

// Client maintains a reconnecting APRS-IS connection.
type Client struct {
	cfg    config.AprsIsConfig
	logger *log.Logger
}

// New constructs a Client for the given APRS-IS configuration section.
func New(cfg config.AprsIsConfig, logger *log.Logger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// Run reconnects every 30s on error or clean close, until ctx is
// cancelled. Received packets are pushed onto ingress tagged AprsIs;
// isTx is a subscription to the router's IS-egress broadcast to relay
// outbound.
func (c *Client) Run(ctx context.Context, ingress chan<- router.RoutedPacket, isTx <-chan router.RoutedPacket) error {
	for {
		err := c.connectAndRun(ctx, ingress, isTx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Error("APRS-IS connection error, reconnecting", "error", err, "delay", reconnectDelay)
		} else {
			c.logger.Warn("APRS-IS connection closed normally, reconnecting", "delay", reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) connectAndRun(ctx context.Context, ingress chan<- router.RoutedPacket, isTx <-chan router.RoutedPacket) error {
	c.logger.Info("connecting to APRS-IS server", "server", c.cfg.Server, "port", c.cfg.Port)

	addr := fmt.Sprintf("%s:%d", c.cfg.Server, c.cfg.Port)
	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("aprsis: connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	c.logger.Info("connected to APRS-IS server")

	reader := bufio.NewReader(conn)

	banner, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("aprsis: reading server banner: %w", err)
	}
	c.logger.Info("APRS-IS server banner", "banner", strings.TrimSpace(banner))

	if err := c.login(conn); err != nil {
		return err
	}

	loginReply, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("aprsis: reading login reply: %w", err)
	}
	if !strings.Contains(loginReply, "verified") && !strings.Contains(loginReply, "unverified") {
		return fmt.Errorf("aprsis: login failed: %s", strings.TrimSpace(loginReply))
	}
	c.logger.Info("APRS-IS login successful", "reply", strings.TrimSpace(loginReply))

	return c.relay(ctx, conn, reader, ingress, isTx)
}

func (c *Client) login(conn net.Conn) error {
	passcode := c.resolvePasscode()

	filterSuffix := ""
	if c.cfg.Filter != nil && *c.cfg.Filter != "" {
		filterSuffix = " filter " + *c.cfg.Filter
	}

	login := fmt.Sprintf("user %s pass %d vers %s%s\r\n", c.cfg.Callsign, passcode, clientVersion, filterSuffix)
	if _, err := conn.Write([]byte(login)); err != nil {
		return fmt.Errorf("aprsis: sending login: %w", err)
	}
	c.logger.Info("sent login to APRS-IS")
	return nil
}

func (c *Client) resolvePasscode() int32 {
	if c.cfg.Passcode == "-1" {
		return -1
	}
	if v, err := strconv.ParseInt(c.cfg.Passcode, 10, 32); err == nil {
		return int32(v)
	}
	return CalculatePasscode(c.cfg.Callsign)
}

// relay runs the read/write/keepalive select loop for one connection.
func (c *Client) relay(ctx context.Context, conn net.Conn, reader *bufio.Reader, ingress chan<- router.RoutedPacket, isTx <-chan router.RoutedPacket) error {
	keepaliveTicker := time.NewTicker(keepalive)
	defer keepaliveTicker.Stop()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case line := <-lines:
			trimmed := strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(trimmed, "#"):
				c.logger.Debug("APRS-IS server message", "message", trimmed)
			case trimmed == "":
			default:
				p, err := aprs.ParsePacket(trimmed)
				if err != nil {
					continue
				}
				c.logger.Info("rx aprs-is", "packet", p.String())
				if c.cfg.RxEnable {
					select {
					case ingress <- router.RoutedPacket{Packet: p, Source: router.AprsIs}:
					case <-ctx.Done():
						return nil
					}
				}
			}

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				c.logger.Info("APRS-IS connection closed by server")
				return nil
			}
			return fmt.Errorf("aprsis: read error: %w", err)

		case rp := <-isTx:
			if !c.cfg.TxEnable {
				continue
			}
			line := rp.Packet.String() + "\r\n"
			if _, err := conn.Write([]byte(line)); err != nil {
				return fmt.Errorf("aprsis: writing packet: %w", err)
			}
			c.logger.Info("tx aprs-is", "packet", rp.Packet.String())

		case <-keepaliveTicker.C:
			c.logger.Debug("sending APRS-IS keepalive")
			if _, err := conn.Write([]byte("# keepalive\r\n")); err != nil {
				return fmt.Errorf("aprsis: writing keepalive: %w", err)
			}
		}
	}
}

// CalculatePasscode implements the standard APRS-IS passcode hash over
// the callsign (SSID stripped), an exact port of
// original_source/src/network.rs's calculate_passcode.
func CalculatePasscode(callsign string) int32 {
	call := callsign
	if idx := strings.IndexByte(call, '-'); idx >= 0 {
		call = call[:idx]
	}
	call = strings.ToUpper(call)

	hash := int32(0x73e2)
	for i, ch := range call {
		if i%2 == 0 {
			hash ^= int32(ch) << 8
		} else {
			hash ^= int32(ch)
		}
	}

	return hash & 0x7fff
}
