package ingest

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"solescan/internal/faults"
)

// streamConn is the subset of the websocket connection the worker reads.
// Tests substitute their own.
type streamConn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a stream connection. The default dials nhooyr websocket.
type Dialer func(ctx context.Context, url string) (streamConn, error)

type wsConn struct{ conn *websocket.Conn }

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "shutdown")
}

func dialWebsocket(ctx context.Context, url string) (streamConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	// Resale price bursts can exceed the library default.
	conn.SetReadLimit(2 << 20)
	return &wsConn{conn: conn}, nil
}

// StreamWorker keeps a websocket subscription to a push-capable resale feed
// and hands each JSON price event to the sink. Connection loss reconnects
// under the backoff policy; a clean read resets it.
type StreamWorker struct {
	SourceName string
	SourceKind string
	URL        string
	Sink       *Sink
	Logger     *zap.Logger
	Backoff    Backoff
	Dial       Dialer

	healthState
}

func (w *StreamWorker) Name() string { return w.SourceName }
func (w *StreamWorker) Kind() string { return w.SourceKind }
func (w *StreamWorker) Mode() string { return "stream" }

func (w *StreamWorker) Run(ctx context.Context) error {
	if w.URL == "" {
		return faults.New(faults.ConfigurationInvalid, "stream source %s has no url", w.SourceName)
	}
	dial := w.Dial
	if dial == nil {
		dial = dialWebsocket
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.markRun(time.Now().UTC())

		conn, err := dial(ctx, w.URL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.markError(StatusDown, err)
			if w.Backoff.Exhausted(attempt) {
				return faults.Wrap(faults.TransientUpstream, err, "stream reconnect budget exhausted")
			}
			delay := w.Backoff.Delay(attempt)
			attempt++
			w.log().Warn("stream dial failed",
				zap.String("source", w.SourceName),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		err = w.readLoop(ctx, conn, &attempt)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			w.markError(StatusDegraded, err)
			w.log().Warn("stream read ended", zap.String("source", w.SourceName), zap.Error(err))
		}
	}
}

func (w *StreamWorker) readLoop(ctx context.Context, conn streamConn, attempt *int) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		*attempt = 0

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			w.log().Debug("undecodable stream frame",
				zap.String("source", w.SourceName), zap.Error(err))
			continue
		}
		if ev.ObservedAt.IsZero() {
			ev.ObservedAt = time.Now().UTC()
		}

		outcome, err := w.Sink.Consume(ctx, w.SourceName, w.SourceKind, ev)
		if err != nil {
			return err
		}
		w.record(time.Now().UTC(), outcome)
		w.markOK()
	}
}

func (w *StreamWorker) log() *zap.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return zap.NewNop()
}
