// Package message implements the directed-message handler: addressee
// matching, idempotent ack replies, the "?APRST" status query, and
// retried outbound delivery while awaiting an ack.
package message

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/n0call/aprstx/internal/aprs"
	"github.com/n0call/aprstx/internal/router"
)

const (
	retryInterval  = 30 * time.Second
	maxAttempts    = 3
	receivedMaxAge = 24 * time.Hour
	cleanupEvery   = 5 * time.Minute
)

type pendingMessage struct {
	packet      aprs.Packet
	attempts    uint8
	lastAttempt time.Time
}

// Handler consumes the router's message feed, replies to directed
// messages addressed to mycall, and retries its own outbound messages
// until acked or abandoned.
type Handler struct {
	mycall string
	logger *log.Logger

	mu       sync.Mutex
	pending  map[string]*pendingMessage
	received map[string]time.Time
}

// New constructs a Handler for the given local callsign.
func New(mycall string, logger *log.Logger) *Handler {
	return &Handler{
		mycall:   mycall,
		logger:   logger,
		pending:  make(map[string]*pendingMessage),
		received: make(map[string]time.Time),
	}
}

// Run reads from feed until ctx is cancelled, handling only packets
// whose DataType is Message; every other packet is ignored. Retry and
// cleanup housekeeping share this loop via their own tickers.
func (h *Handler) Run(ctx context.Context, feed <-chan router.RoutedPacket, out chan<- router.RoutedPacket) error {
	h.logger.Info("starting message handler", "mycall", h.mycall)

	retryTicker := time.NewTicker(retryInterval)
	defer retryTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupEvery)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retryTicker.C:
			h.retryPending(ctx, out)
		case <-cleanupTicker.C:
			h.cleanupReceived()
		case rp, ok := <-feed:
			if !ok {
				return nil
			}
			if rp.Packet.DataType != aprs.DataTypeMessage {
				continue
			}
			h.handleMessage(ctx, rp.Packet, out)
		}
	}
}

// handleMessage implements spec.md §4.9's ":<ADDRESSEE>:<text>[{<msgid>}]"
// parse and dispatch.
func (h *Handler) handleMessage(ctx context.Context, p aprs.Packet, out chan<- router.RoutedPacket) {
	info := p.Information
	if !strings.HasPrefix(info, ":") || len(info) < 11 {
		return
	}

	addressee := strings.TrimSpace(info[1:10])
	if !strings.HasPrefix(addressee, h.mycall) {
		return
	}

	remaining := info[11:]

	if strings.HasPrefix(remaining, "ack") || strings.HasPrefix(remaining, "rej") {
		h.handleAckRej(p, remaining)
		return
	}

	h.handleIncoming(ctx, p, remaining, out)
}

func (h *Handler) handleIncoming(ctx context.Context, p aprs.Packet, text string, out chan<- router.RoutedPacket) {
	msgText, msgID, hasID := splitMsgID(text)

	h.logger.Info("received message", "from", p.Source.String(), "text", msgText)

	if hasID {
		key := p.Source.String() + ":" + msgID
		h.mu.Lock()
		if _, seen := h.received[key]; !seen {
			h.received[key] = time.Now()
		} else {
			h.logger.Debug("duplicate message, resending ack", "key", key)
		}
		h.mu.Unlock()

		ackText := fmt.Sprintf(":%-9s:ack%s", p.Source.String(), msgID)
		h.send(ctx, ackText, out)
		h.logger.Info("sent ack", "to", p.Source.String(), "msgid", msgID)
	}

	if strings.EqualFold(strings.TrimSpace(msgText), "?APRST") {
		h.sendStatusReply(ctx, p.Source, out)
	}
}

func splitMsgID(text string) (body string, msgID string, hasID bool) {
	idx := strings.LastIndex(text, "{")
	if idx < 0 {
		return text, "", false
	}
	return text[:idx], text[idx+1:], true
}

func (h *Handler) handleAckRej(p aprs.Packet, ackText string) {
	isAck := strings.HasPrefix(ackText, "ack")
	msgID := ackText[3:]

	h.logger.Info("received ack/rej", "ack", isAck, "from", p.Source.String(), "msgid", msgID)

	h.mu.Lock()
	delete(h.pending, msgID)
	h.mu.Unlock()
}

func (h *Handler) sendStatusReply(ctx context.Context, to aprs.CallSign, out chan<- router.RoutedPacket) {
	status := fmt.Sprintf(":%-9s:aprstx daemon running", to.String())
	h.send(ctx, status, out)
}

func (h *Handler) send(ctx context.Context, information string, out chan<- router.RoutedPacket) {
	source := h.sourceCallSign()
	p := aprs.NewPacket(source, aprs.NewCallSign("APRS", 0), information)
	select {
	case out <- router.RoutedPacket{Packet: p, Source: router.Internal}:
	case <-ctx.Done():
	}
}

func (h *Handler) sourceCallSign() aprs.CallSign {
	cs, err := aprs.ParseCallSign(h.mycall)
	if err != nil {
		return aprs.NewCallSign("N0CALL", 0)
	}
	return cs
}

// Enqueue registers an outbound message awaiting ack under the
// caller-supplied msgID, per spec.md §3's "Pending outbound message" data
// model. It does not send the packet; retryPending resends it until an
// ack/rej for msgID arrives or the attempts run out.
func (h *Handler) Enqueue(msgID string, p aprs.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[msgID] = &pendingMessage{packet: p, attempts: 0, lastAttempt: time.Now()}
}

func (h *Handler) retryPending(ctx context.Context, out chan<- router.RoutedPacket) {
	h.mu.Lock()
	now := time.Now()
	var toSend []aprs.Packet
	var toRemove []string

	for msgID, pm := range h.pending {
		if now.Sub(pm.lastAttempt) < retryInterval {
			continue
		}
		if pm.attempts >= maxAttempts {
			h.logger.Warn("message failed after max attempts, giving up", "msgid", msgID)
			toRemove = append(toRemove, msgID)
			continue
		}
		pm.attempts++
		pm.lastAttempt = now
		h.logger.Info("retrying message", "msgid", msgID, "attempt", pm.attempts)
		toSend = append(toSend, pm.packet)
	}
	for _, msgID := range toRemove {
		delete(h.pending, msgID)
	}
	h.mu.Unlock()

	for _, p := range toSend {
		select {
		case out <- router.RoutedPacket{Packet: p, Source: router.Internal}:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) cleanupReceived() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for key, at := range h.received {
		if now.Sub(at) >= receivedMaxAge {
			delete(h.received, key)
		}
	}
}

// PendingCount reports the number of outbound messages currently
// awaiting ack, for tests and diagnostics.
func (h *Handler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
