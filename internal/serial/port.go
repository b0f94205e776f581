package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/n0call/aprstx/internal/aprs"
	"github.com/n0call/aprstx/internal/ax25"
	"github.com/n0call/aprstx/internal/config"
	"github.com/n0call/aprstx/internal/kiss"
	"github.com/n0call/aprstx/internal/router"
)

// Port drives one serial-attached TNC: it decodes inbound frames (KISS
// or TNC2 text, per the configured protocol) into packets for the
// router's ingress queue, and re-encodes packets from the RF-egress
// broadcast channel for transmission.
type Port struct {
	cfg    config.SerialPortConfig
	logger *log.Logger

	openFunc func(device string, baud uint32) (io.ReadWriteCloser, error)
}

// New constructs a Port from its configuration section.
func New(cfg config.SerialPortConfig, logger *log.Logger) *Port {
	return &Port{
		cfg:    cfg,
		logger: logger,
		openFunc: func(device string, baud uint32) (io.ReadWriteCloser, error) {
			return Open(device, baud)
		},
	}
}

// Run opens the port and runs its protocol loop until ctx is cancelled
// or the underlying device errors.
func (p *Port) Run(ctx context.Context, ingress chan<- router.RoutedPacket, rfRx <-chan router.RoutedPacket) error {
	p.logger.Info("opening serial port", "name", p.cfg.Name, "device", p.cfg.Device)

	conn, err := p.openFunc(p.cfg.Device, p.cfg.BaudRate)
	if err != nil {
		return fmt.Errorf("serial: opening port %s: %w", p.cfg.Name, err)
	}
	defer conn.Close()

	p.logger.Info("serial port opened", "name", p.cfg.Name)

	switch p.cfg.Protocol {
	case config.ProtocolKiss:
		return p.runKiss(ctx, conn, ingress, rfRx)
	case config.ProtocolTnc2:
		return p.runTNC2(ctx, conn, ingress, rfRx)
	default:
		return fmt.Errorf("serial: unknown protocol %q on port %s", p.cfg.Protocol, p.cfg.Name)
	}
}

func (p *Port) runKiss(ctx context.Context, conn io.ReadWriteCloser, ingress chan<- router.RoutedPacket, rfRx <-chan router.RoutedPacket) error {
	decoder := kiss.NewDecoder()

	reads := p.readLoop(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return nil

		case chunk, ok := <-reads.data:
			if !ok {
				return <-reads.err
			}
			decoder.Feed(chunk)
			for {
				frame, ok := decoder.Next()
				if !ok {
					break
				}
				p.handleAX25Frame(ctx, frame, ingress)
			}

		case rp, ok := <-rfRx:
			if !ok {
				continue
			}
			if !p.cfg.TxEnable {
				continue
			}
			frame, err := ax25.Encode(rp.Packet)
			if err != nil {
				p.logger.Debug("failed to encode AX.25 frame", "error", err)
				continue
			}
			if _, err := conn.Write(kiss.Encode(frame, 0)); err != nil {
				p.logger.Error("failed to write to serial port", "name", p.cfg.Name, "error", err)
				continue
			}
			p.logger.Info("tx", "port", p.cfg.Name, "packet", rp.Packet.String())
		}
	}
}

func (p *Port) handleAX25Frame(ctx context.Context, frame []byte, ingress chan<- router.RoutedPacket) {
	text, err := ax25.DecodeToText(frame)
	if err != nil {
		p.logger.Debug("failed to decode AX.25 frame", "error", err)
		return
	}
	p.handleTextLine(ctx, text, ingress)
}

func (p *Port) runTNC2(ctx context.Context, conn io.ReadWriteCloser, ingress chan<- router.RoutedPacket, rfRx <-chan router.RoutedPacket) error {
	reads := p.readLoop(ctx, conn)
	var buf strings.Builder

	for {
		select {
		case <-ctx.Done():
			return nil

		case chunk, ok := <-reads.data:
			if !ok {
				return <-reads.err
			}
			buf.Write(chunk)
			content := buf.String()
			for {
				idx := strings.IndexByte(content, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimSuffix(content[:idx], "\r")
				content = content[idx+1:]
				if line != "" {
					p.handleTextLine(ctx, line, ingress)
				}
			}
			buf.Reset()
			buf.WriteString(content)

		case rp, ok := <-rfRx:
			if !ok {
				continue
			}
			if !p.cfg.TxEnable {
				continue
			}
			line := rp.Packet.String() + "\r\n"
			if _, err := conn.Write([]byte(line)); err != nil {
				p.logger.Error("failed to write to serial port", "name", p.cfg.Name, "error", err)
				continue
			}
			p.logger.Info("tx", "port", p.cfg.Name, "packet", rp.Packet.String())
		}
	}
}

func (p *Port) handleTextLine(ctx context.Context, line string, ingress chan<- router.RoutedPacket) {
	packet, err := aprs.ParsePacket(line)
	if err != nil {
		p.logger.Debug("failed to parse packet", "line", line, "error", err)
		return
	}

	p.logger.Info("rx", "port", p.cfg.Name, "packet", packet.String())

	if !p.cfg.RxEnable {
		return
	}

	select {
	case ingress <- router.RoutedPacket{Packet: packet, Source: router.SerialPort(p.cfg.Name)}:
	case <-ctx.Done():
	}
}

type readLoopChans struct {
	data chan []byte
	err  chan error
}

// readLoop spawns a goroutine that reads in a tight loop and pushes
// chunks to a channel, letting the protocol loops select over it
// alongside the RF-egress subscription.
func (p *Port) readLoop(ctx context.Context, r io.Reader) readLoopChans {
	out := readLoopChans{data: make(chan []byte), err: make(chan error, 1)}

	go func() {
		buf := bufio.NewReaderSize(r, 1024)
		tmp := make([]byte, 256)
		for {
			n, err := buf.Read(tmp)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, tmp[:n])
				select {
				case out.data <- chunk:
				case <-ctx.Done():
					close(out.data)
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					out.err <- nil
				} else {
					out.err <- err
				}
				close(out.data)
				return
			}
		}
	}()

	return out
}
