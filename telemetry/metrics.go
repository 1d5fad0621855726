// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatMessagesHandled prometheus.Counter
	ChatLinesSent       prometheus.Counter
	TimerFires          prometheus.Counter
	EventSubEvents      *prometheus.CounterVec
	commandsExecuted    *prometheus.CounterVec
	commandErrors       *prometheus.CounterVec

	// Histograms (seconds)
	DispatchDuration prometheus.Observer

	// Gauges
	ConnectedWidgets prometheus.Gauge
	ActiveChannels   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessagesHandled = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_chat_messages_total", Help: "Number of non-self chat messages dispatched"})
		ChatLinesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_chat_lines_sent_total", Help: "Number of chat lines the bot sent"})
		TimerFires = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_timer_fires_total", Help: "Number of timer-triggered command fires"})
		EventSubEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_eventsub_events_total", Help: "Number of EventSub notifications received"}, []string{"type"})
		commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_commands_executed_total", Help: "Number of command invocations"}, []string{"module", "action"})
		commandErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_command_errors_total", Help: "Number of failed command invocations"}, []string{"module", "action"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_dispatch_duration_seconds", Help: "Chat message dispatch duration seconds", Buckets: prometheus.DefBuckets})
		ConnectedWidgets = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_connected_widgets", Help: "Currently connected widget websockets"})
		ActiveChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_active_channels", Help: "Channels the bot is joined to"})
	})
}

// IncCommandExecuted records one command invocation. Safe before Init.
func IncCommandExecuted(module, action string) {
	if commandsExecuted != nil {
		commandsExecuted.WithLabelValues(module, action).Inc()
	}
}

// IncCommandError records one failed command invocation. Safe before Init.
func IncCommandError(module, action string) {
	if commandErrors != nil {
		commandErrors.WithLabelValues(module, action).Inc()
	}
}

// IncEventSubEvent records one received EventSub notification. Safe before Init.
func IncEventSubEvent(eventType string) {
	if EventSubEvents != nil {
		EventSubEvents.WithLabelValues(eventType).Inc()
	}
}

// IncChatMessage records one dispatched chat message. Safe before Init.
func IncChatMessage() {
	if ChatMessagesHandled != nil {
		ChatMessagesHandled.Inc()
	}
}

// IncChatLineSent records one outgoing chat line. Safe before Init.
func IncChatLineSent() {
	if ChatLinesSent != nil {
		ChatLinesSent.Inc()
	}
}

// IncActiveChannels records a joined channel. Safe before Init.
func IncActiveChannels() {
	if ActiveChannels != nil {
		ActiveChannels.Inc()
	}
}

// DecActiveChannels records a parted channel. Safe before Init.
func DecActiveChannels() {
	if ActiveChannels != nil {
		ActiveChannels.Dec()
	}
}

// IncWidget records one widget connection. Safe before Init.
func IncWidget() {
	if ConnectedWidgets != nil {
		ConnectedWidgets.Inc()
	}
}

// DecWidget records one widget disconnection. Safe before Init.
func DecWidget() {
	if ConnectedWidgets != nil {
		ConnectedWidgets.Dec()
	}
}

// IncTimerFire records one timer fire. Safe before Init.
func IncTimerFire() {
	if TimerFires != nil {
		TimerFires.Inc()
	}
}

// ObserveDispatch records a dispatch duration in seconds. Safe before Init.
func ObserveDispatch(seconds float64) {
	if DispatchDuration != nil {
		DispatchDuration.Observe(seconds)
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
