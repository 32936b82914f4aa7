package model

import (
	"net"
	"strconv"
	"time"
)

// SignalQuality is the number of signal bars shown by the phone.
type SignalQuality int

const (
	NoSignal SignalQuality = iota
	OneBar
	TwoBars
	ThreeBars
	FourBars
)

// Valid reports whether q is within NoSignal..FourBars.
func (q SignalQuality) Valid() bool {
	return q >= NoSignal && q <= FourBars
}

func (q SignalQuality) String() string {
	switch q {
	case NoSignal:
		return "no_signal"
	case OneBar:
		return "one_bar"
	case TwoBars:
		return "two_bars"
	case ThreeBars:
		return "three_bars"
	case FourBars:
		return "four_bars"
	default:
		return "invalid(" + strconv.Itoa(int(q)) + ")"
	}
}

// SignalType is the cellular network type as shown in the phone's status bar.
// The string values are the exact wire values.
type SignalType string

const (
	TypeNone   SignalType = ""
	Type2G     SignalType = "2G"
	TypeEdge   SignalType = "E"
	Type3G     SignalType = "3G"
	TypeHSDPA  SignalType = "H"
	TypeLTE    SignalType = "LTE"
	Type5G     SignalType = "5G"
	Type5GPlus SignalType = "5G+"
)

var signalTypes = map[string]SignalType{
	string(TypeNone):   TypeNone,
	string(Type2G):     Type2G,
	string(TypeEdge):   TypeEdge,
	string(Type3G):     Type3G,
	string(TypeHSDPA):  TypeHSDPA,
	string(TypeLTE):    TypeLTE,
	string(Type5G):     Type5G,
	string(Type5GPlus): Type5GPlus,
}

// ParseSignalType maps a wire value to a SignalType. Matching is case-sensitive.
func ParseSignalType(s string) (SignalType, bool) {
	t, ok := signalTypes[s]
	return t, ok
}

// Valid reports whether t is one of the known wire values.
func (t SignalType) Valid() bool {
	_, ok := signalTypes[string(t)]
	return ok
}

// SignalReading is one self-reported signal sample of the phone.
type SignalReading struct {
	Quality SignalQuality
	Type    SignalType
}

// Valid reports whether both fields hold known values.
func (r SignalReading) Valid() bool {
	return r.Quality.Valid() && r.Type.Valid()
}

// DiscoveredEndpoint is a resolved, dialable phone service instance.
type DiscoveredEndpoint struct {
	DisplayName string
	Host        string
	Port        uint16
}

// Addr returns host:port suitable for dialing.
func (e DiscoveredEndpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// InterfaceByteCount is a point-in-time counter sample of one interface.
// Both counters wrap at 2^32.
type InterfaceByteCount struct {
	InputBytes  uint32
	OutputBytes uint32
}

// Session is the frozen record of a closed tethering session.
type Session struct {
	ID               string
	PhoneName        string
	InterfaceName    string
	StartedAt        time.Time
	EndedAt          time.Time
	BytesTransferred uint64
}

// Duration returns how long the session lasted.
func (s Session) Duration() time.Duration {
	if s.EndedAt.Before(s.StartedAt) {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}
