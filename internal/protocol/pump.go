package protocol

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/wagiedev/toolhost-go/internal/config"
	"github.com/wagiedev/toolhost-go/internal/wire"
)

// Pump classifies lines read from the tool server. Replies go to the
// Dispatcher; everything else is a diagnostic that is logged, passed to the
// diagnostic callback and checked for the readiness marker.
//
// HandleLine has the config.LineHandler signature and is driven by the
// transport's readers, one goroutine per stream.
type Pump struct {
	log        *slog.Logger
	dispatcher *Dispatcher
	marker     string
	onLine     func(string)

	readyOnce sync.Once
	ready     chan struct{}
}

// NewPump creates a pump. An empty marker disables readiness detection.
// onLine may be nil.
func NewPump(log *slog.Logger, dispatcher *Dispatcher, marker string, onLine func(string)) *Pump {
	return &Pump{
		log:        log.With("component", "pump"),
		dispatcher: dispatcher,
		marker:     strings.ToLower(marker),
		onLine:     onLine,
		ready:      make(chan struct{}),
	}
}

// Ready is closed the first time a line containing the marker is seen.
func (p *Pump) Ready() <-chan struct{} {
	return p.ready
}

// HandleLine processes one line from stream.
func (p *Pump) HandleLine(stream config.Stream, line []byte) {
	msg, err := wire.Classify(line)
	if err != nil {
		p.log.Warn("Discarding malformed message", "stream", stream, "error", err)

		return
	}

	if msg.Kind != wire.KindDiagnostic {
		p.dispatcher.Deliver(msg)

		return
	}

	text := string(msg.Raw)

	p.log.Log(context.Background(), diagnosticLevel(msg.Raw), "Tool server output", "stream", stream, "line", text)

	if p.onLine != nil {
		p.onLine(text)
	}

	if p.marker != "" && strings.Contains(strings.ToLower(text), p.marker) {
		p.readyOnce.Do(func() {
			p.log.Info("Tool server signalled readiness", "stream", stream)
			close(p.ready)
		})
	}
}

// diagnosticLevel picks a log level from the content of a diagnostic line.
func diagnosticLevel(line []byte) slog.Level {
	lower := bytes.ToLower(line)

	switch {
	case bytes.HasPrefix(lower, []byte("[debug]")):
		return slog.LevelDebug
	case bytes.HasPrefix(lower, []byte("error:")), bytes.Contains(lower, []byte(" error:")):
		return slog.LevelWarn
	case bytes.HasPrefix(lower, []byte("warning:")), bytes.Contains(lower, []byte(" warning:")):
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
