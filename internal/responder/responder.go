// Package responder serves the phone's current signal reading to any TCP
// client that connects.
package responder

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"tetherctl/internal/model"
	"tetherctl/internal/wire"
)

const writeTimeout = 2 * time.Second

// SampleTimeout bounds how long a connection waits for the source. It stays
// well under the desktop's fetch timeout so a slow source yields NoSignal
// rather than a dropped pairing.
const SampleTimeout = 500 * time.Millisecond

// Source produces a fresh signal reading.
type Source interface {
	Signal(ctx context.Context) (model.SignalReading, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (model.SignalReading, error)

func (f SourceFunc) Signal(ctx context.Context) (model.SignalReading, error) {
	return f(ctx)
}

// StaticSource always returns the same reading.
type StaticSource model.SignalReading

func (s StaticSource) Signal(context.Context) (model.SignalReading, error) {
	return model.SignalReading(s), nil
}

// Responder accepts connections and writes one encoded reading to each.
type Responder struct {
	ln  net.Listener
	src Source
	log *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Listen binds a TCP listener on addr (e.g. ":0" for an OS-assigned port).
func Listen(addr string, src Source, log *zap.Logger) (*Responder, error) {
	if src == nil {
		return nil, errors.New("responder: nil source")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Responder{ln: ln, src: src, log: log.Named("responder")}, nil
}

// Addr returns the bound listener address.
func (r *Responder) Addr() string {
	if r == nil || r.ln == nil {
		return ""
	}
	return r.ln.Addr().String()
}

// Port returns the bound TCP port.
func (r *Responder) Port() int {
	if r == nil || r.ln == nil {
		return 0
	}
	if tcp, ok := r.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Close stops the accept loop. It is safe to call more than once.
func (r *Responder) Close() error {
	if r == nil || r.ln == nil {
		return nil
	}
	r.closeOnce.Do(func() {
		r.closeErr = r.ln.Close()
	})
	return r.closeErr
}

// Serve handles connections one at a time until the listener is closed or
// ctx is done. A closed listener is a clean shutdown and returns nil.
func (r *Responder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.Close() })
	defer stop()

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		r.handle(ctx, conn)
	}
}

func (r *Responder) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reading := r.sample(ctx)
	payload, err := wire.Encode(reading)
	if err != nil {
		r.log.Warn("encode reading", zap.Error(err))
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(payload); err != nil {
		r.log.Debug("write reading", zap.String("peer", conn.RemoteAddr().String()), zap.Error(err))
		return
	}
	r.log.Debug("served reading",
		zap.String("peer", conn.RemoteAddr().String()),
		zap.Int("quality", int(reading.Quality)),
		zap.String("type", string(reading.Type)),
	)
}

func (r *Responder) sample(ctx context.Context) model.SignalReading {
	ctx, cancel := context.WithTimeout(ctx, SampleTimeout)
	defer cancel()

	type result struct {
		reading model.SignalReading
		err     error
	}
	// Buffered so a source that ignores ctx can still finish and exit.
	ch := make(chan result, 1)
	go func() {
		reading, err := r.src.Signal(ctx)
		ch <- result{reading, err}
	}()

	var reading model.SignalReading
	var err error
	select {
	case res := <-ch:
		reading, err = res.reading, res.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		r.log.Warn("signal source failed", zap.Error(err))
		return model.SignalReading{Quality: model.NoSignal, Type: model.TypeNone}
	}
	if !reading.Valid() {
		r.log.Warn("signal source returned invalid reading",
			zap.Int("quality", int(reading.Quality)),
			zap.String("type", string(reading.Type)),
		)
		return model.SignalReading{Quality: model.NoSignal, Type: model.TypeNone}
	}
	return reading
}
