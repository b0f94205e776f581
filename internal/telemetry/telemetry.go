// Package telemetry emits periodic T#/PARM/UNIT/status packets summarizing
// the process-wide packet counters.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/n0call/aprstx/internal/aprs"
)

// Sender delivers a locally-generated packet to the router's ingress
// queue tagged as an internal packet. Telemetry depends only on this
// narrow callback rather than the router package directly, since the
// router in turn depends on telemetry.Stats — a direct import would
// cycle.
type Sender func(aprs.Packet)

// Config mirrors config.TelemetryConfig's fields this package needs,
// avoiding a dependency on the config package for two scalars.
type Config struct {
	Interval uint32
	Comment  string
}

// Run ticks every Interval seconds until ctx is cancelled. Each tick emits
// a T# packet, PARM/UNIT label packets on every 10th sequence, and a
// status line whenever Comment is non-empty.
func Run(ctx context.Context, cfg Config, mycall string, send Sender, logger *log.Logger) error {
	logger.Info("starting telemetry service", "interval", cfg.Interval)

	ticker := time.NewTicker(time.Duration(cfg.Interval) * time.Second)
	defer ticker.Stop()

	source := sourceCallSign(mycall)
	var sequence uint32

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rx := Stats.PacketsRx.Load()
			tx := Stats.PacketsTx.Load()
			digi := Stats.PacketsDigipeated.Load()
			rfToIS := Stats.PacketsIgateRFtoIS.Load()
			isToRF := Stats.PacketsIgateIStoRF.Load()

			telemData := fmt.Sprintf("T#%03d,%03d,%03d,%03d,%03d,%03d,00000000",
				sequence%1000,
				rx%256, tx%256, digi%256, rfToIS%256, isToRF%256)

			send(aprs.NewPacket(source, aprs.NewCallSign("APRS", 0), telemData))

			logger.Info("sending telemetry",
				"rx", rx, "tx", tx, "digi", digi, "rf_to_is", rfToIS, "is_to_rf", isToRF)

			if sequence%10 == 0 {
				labels := fmt.Sprintf(":%-9s:PARM.RxPkts,TxPkts,Digi,RF>IS,IS>RF", mycall)
				send(aprs.NewPacket(source, aprs.NewCallSign("APRS", 0), labels))

				units := fmt.Sprintf(":%-9s:UNIT.Pkts,Pkts,Pkts,Pkts,Pkts", mycall)
				send(aprs.NewPacket(source, aprs.NewCallSign("APRS", 0), units))
			}

			if cfg.Comment != "" {
				status := ">aprstx " + cfg.Comment
				send(aprs.NewPacket(source, aprs.NewCallSign("APRS", 0), status))
			}

			sequence++
		}
	}
}

func sourceCallSign(mycall string) aprs.CallSign {
	cs, err := aprs.ParseCallSign(mycall)
	if err != nil {
		return aprs.NewCallSign("N0CALL", 0)
	}
	return cs
}
