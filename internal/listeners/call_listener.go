package listeners

import (
	"github.com/spf13/cast"
	"github.com/tripzi-app/calling/pkg/events"
	"github.com/tripzi-app/calling/pkg/logger"
	"github.com/tripzi-app/calling/pkg/metrics"
	"go.uber.org/zap"
)

// InitCallListeners wires the lifecycle events published by the signaling
// channel into the prometheus collectors.
func InitCallListeners() {
	m := metrics.NewMetrics()
	bus := events.GetEventBus()

	bus.Subscribe(events.CallCreated, func(ev events.Event) error {
		m.RecordCallStarted(cast.ToString(ev.Data["callType"]))
		return nil
	})

	bus.Subscribe(events.CallAnswered, func(ev events.Event) error {
		m.RecordCallAnswered()
		return nil
	})

	bus.Subscribe(events.CallDeclined, func(ev events.Event) error {
		m.RecordCallDeclined()
		return nil
	})

	bus.Subscribe(events.CallEnded, func(ev events.Event) error {
		m.RecordCallEnded(cast.ToString(ev.Data["endReason"]), cast.ToInt64(ev.Data["durationSec"]))
		return nil
	})

	bus.Subscribe(events.CallExpired, func(ev events.Event) error {
		logger.Info("Ringing call expired",
			zap.String("callId", cast.ToString(ev.Data["callId"])))
		return nil
	})

	logger.Info("Call lifecycle listeners initialized")
}
