package shadowtap

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/shadowtap/event"
	"github.com/hazyhaar/shadowtap/internal/sink"
)

// Sink is the output interface for shadowtap messages.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, retries int, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookRetries(retries), sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink, with no serialisation.
func NewCallbackSink(fn func(ctx context.Context, msg event.Message) error) Sink {
	return sink.NewCallback(fn)
}

// NewStoreSink opens the SQLite event store at path.
func NewStoreSink(path string) (Sink, error) {
	return sink.OpenStore(path)
}

// BuildSinks creates the sinks described by cfgs. On error the sinks
// already opened are closed.
func BuildSinks(cfgs []SinkConfig, logger *slog.Logger) ([]Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]Sink, 0, len(cfgs))
	for i, c := range cfgs {
		var s Sink
		switch c.Type {
		case "stdout":
			s = sink.NewStdout(nil)
		case "webhook":
			s = NewWebhookSink(c.URL, c.Retries, logger)
		case "sqlite":
			st, err := sink.OpenStore(c.Path)
			if err != nil {
				closeAll(out)
				return nil, fmt.Errorf("shadowtap: sink %d: %w", i, err)
			}
			s = st
		default:
			closeAll(out)
			return nil, fmt.Errorf("shadowtap: sink %d: unknown type %q", i, c.Type)
		}
		kinds := make([]event.Kind, 0, len(c.Kinds))
		for _, k := range c.Kinds {
			kinds = append(kinds, event.Kind(k))
		}
		out = append(out, sink.Filter(s, kinds...))
	}
	return out, nil
}

func closeAll(sinks []Sink) {
	for _, s := range sinks {
		s.Close()
	}
}
