package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "labmanager/api"
	movesRoute       = "/api/labs/:labId/moves"
	movesSpanName    = "board.move.request"
	movesEventName   = "board.move.request"
	movesEventDomain = "labmanager"
)

// moveRequestMetrics collects per-stage timings for one move request and
// emits them as a span plus a structured observability event.
type moveRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration      time.Duration
	commitDuration    time.Duration
	encodeDuration    time.Duration
	containersPatched int
	duplicate         bool
	errorStage        string
}

func newMoveRequestMetrics(ctx context.Context, logger *log.Logger) (*moveRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, movesSpanName)
	return &moveRequestMetrics{logger: logger, span: span, start: time.Now()}, spanCtx
}

func (m *moveRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *moveRequestMetrics) ObserveCommit(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.commitDuration = duration
}

func (m *moveRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *moveRequestMetrics) SetContainersPatched(count int) {
	if count < 0 {
		count = 0
	}
	m.containersPatched = count
}

func (m *moveRequestMetrics) SetDuplicate(duplicate bool) {
	m.duplicate = duplicate
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finishes the span and writes the observability event. It must run
// exactly once, after the response is committed.
func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMS := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := map[string]any{
		"http.route":                     movesRoute,
		"http.status_code":               status,
		"board.moves.total_ms":           totalMS,
		"board.moves.containers_patched": m.containersPatched,
		"board.moves.duplicate":          m.duplicate,
	}
	spanAttrs := []attribute.KeyValue{
		attribute.String("http.route", movesRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("board.moves.total_ms", totalMS),
		attribute.Int("board.moves.containers_patched", m.containersPatched),
		attribute.Bool("board.moves.duplicate", m.duplicate),
	}
	if m.authDuration > 0 {
		attrs["board.moves.auth_ms"] = durationToMillis(m.authDuration)
		spanAttrs = append(spanAttrs, attribute.Float64("board.moves.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.commitDuration > 0 {
		attrs["board.moves.commit_ms"] = durationToMillis(m.commitDuration)
		spanAttrs = append(spanAttrs, attribute.Float64("board.moves.commit_ms", durationToMillis(m.commitDuration)))
	}
	if m.encodeDuration > 0 {
		attrs["board.moves.encode_ms"] = durationToMillis(m.encodeDuration)
		spanAttrs = append(spanAttrs, attribute.Float64("board.moves.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs["board.moves.error_stage"] = m.errorStage
		spanAttrs = append(spanAttrs, attribute.String("board.moves.error_stage", m.errorStage))
	}
	if err != nil {
		attrs["error.message"] = err.Error()
		spanAttrs = append(spanAttrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		eventAttrs := make([]attribute.KeyValue, 0, len(spanAttrs)+4)
		eventAttrs = append(eventAttrs, spanAttrs...)
		eventAttrs = append(eventAttrs,
			attribute.String("event.name", movesEventName),
			attribute.String("event.domain", movesEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		)
		m.span.SetAttributes(spanAttrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.SetStatus(codes.Error, err.Error())
		case m.errorStage != "":
			m.span.SetStatus(codes.Error, m.errorStage)
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      movesEventName,
		"event.domain":    movesEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
