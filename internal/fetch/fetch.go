// Package fetch retrieves one signal reading from a discovered phone.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/wlynxg/anet"
	"go.uber.org/zap"

	"tetherctl/internal/model"
	"tetherctl/internal/wire"
)

// DefaultTimeout bounds connect, read and decode together.
const DefaultTimeout = time.Second

// Reason classifies a fetch failure.
type Reason string

const (
	ReasonTimeout Reason = "timeout"
	ReasonRefused Reason = "refused"
	ReasonDecode  Reason = "decode"
	ReasonNetwork Reason = "network"
)

// Error is returned for every failed fetch.
type Error struct {
	Reason   Reason
	Endpoint model.DiscoveredEndpoint
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s (%s): %s: %v", e.Endpoint.DisplayName, e.Endpoint.Addr(), e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result is a successful fetch.
type Result struct {
	Reading       model.SignalReading
	InterfaceName string
}

// InterfaceResolver maps a local IP to the name of the interface owning it.
type InterfaceResolver func(ip net.IP) (string, error)

// Fetcher dials the phone's responder and reads one message.
type Fetcher struct {
	Timeout   time.Duration
	Dialer    net.Dialer
	Interface InterfaceResolver
	Log       *zap.Logger
}

// New returns a Fetcher with the given timeout (0 means DefaultTimeout).
func New(timeout time.Duration, log *zap.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{Timeout: timeout, Interface: InterfaceForIP, Log: log.Named("fetch")}
}

// Fetch connects to ep, reads and decodes one reading. The connection is
// closed on every path, including when the deadline fires mid-read.
func (f *Fetcher) Fetch(ctx context.Context, ep model.DiscoveredEndpoint) (Result, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := f.Dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return Result{}, &Error{Reason: classify(ctx, err), Endpoint: ep, Err: err}
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	iface := f.interfaceName(conn.LocalAddr())

	reading, err := wire.ReadMessage(conn)
	if err != nil {
		return Result{}, &Error{Reason: classify(ctx, err), Endpoint: ep, Err: err}
	}

	f.logger().Debug("fetched reading",
		zap.String("phone", ep.DisplayName),
		zap.String("addr", ep.Addr()),
		zap.String("iface", iface),
		zap.Int("quality", int(reading.Quality)),
		zap.String("type", string(reading.Type)),
	)
	return Result{Reading: reading, InterfaceName: iface}, nil
}

func (f *Fetcher) interfaceName(local net.Addr) string {
	tcp, ok := local.(*net.TCPAddr)
	if !ok || f.Interface == nil {
		return ""
	}
	name, err := f.Interface(tcp.IP)
	if err != nil {
		f.logger().Debug("interface lookup failed", zap.Stringer("local", tcp), zap.Error(err))
		return ""
	}
	return name
}

func (f *Fetcher) logger() *zap.Logger {
	if f.Log == nil {
		return zap.NewNop()
	}
	return f.Log
}

func classify(ctx context.Context, err error) Reason {
	switch {
	case errors.Is(err, wire.ErrDecode):
		return ReasonDecode
	case errors.Is(err, syscall.ECONNREFUSED):
		return ReasonRefused
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ReasonTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout
	}
	// A read interrupted by the AfterFunc close surfaces as a closed conn.
	if ctx.Err() != nil {
		return ReasonTimeout
	}
	return ReasonNetwork
}

// InterfaceForIP returns the interface that has ip assigned.
func InterfaceForIP(ip net.IP) (string, error) {
	if ip == nil {
		return "", errors.New("no local address")
	}
	ifaces, err := anet.Interfaces()
	if err != nil {
		return "", err
	}
	for i := range ifaces {
		addrs, err := anet.InterfaceAddrsByInterface(&ifaces[i])
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				return ifaces[i].Name, nil
			}
		}
	}
	return "", fmt.Errorf("no interface owns %s", ip)
}
