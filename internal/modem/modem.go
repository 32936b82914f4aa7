// Package modem reads the cellular signal from ModemManager via mmcli.
package modem

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tetherctl/internal/execx"
	"tetherctl/internal/model"
)

const (
	DefaultMMCLI   = "mmcli"
	DefaultIndex   = "0"
	DefaultTimeout = 400 * time.Millisecond
	// MaxTimeout matches the responder's sample bound; a longer mmcli wait
	// would only be cut off there.
	MaxTimeout = 500 * time.Millisecond

	keySignalQuality = "modem.generic.signal-quality.value"
	keyAccessTech    = "modem.generic.access-technologies.value"
)

// Source samples the modem on every call.
type Source struct {
	Runner  execx.Runner
	Path    string
	Index   string
	Timeout time.Duration
}

// NewSource returns a Source running mmcli on the host.
func NewSource(path, index string, timeout time.Duration) *Source {
	if path == "" {
		path = DefaultMMCLI
	}
	if index == "" {
		index = DefaultIndex
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	return &Source{Runner: execx.NewOSRunner(), Path: path, Index: index, Timeout: timeout}
}

// Signal queries mmcli and converts its report to a reading.
func (s *Source) Signal(ctx context.Context) (model.SignalReading, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	out, err := s.Runner.Output(ctx, s.Path, "-m", s.Index, "--output-keyvalue")
	if err != nil {
		return model.SignalReading{}, err
	}
	return ParseKeyValue(out)
}

// ParseKeyValue converts `mmcli --output-keyvalue` output to a reading.
func ParseKeyValue(out string) (model.SignalReading, error) {
	percent := -1
	sawQuality := false
	var techs []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch {
		case key == keySignalQuality:
			p, err := strconv.Atoi(value)
			if err != nil {
				return model.SignalReading{}, fmt.Errorf("modem: signal quality %q: %w", value, err)
			}
			percent = p
			sawQuality = true
		case key == keyAccessTech || strings.HasPrefix(key, keyAccessTech+"["):
			for _, t := range strings.Split(value, ",") {
				if t = strings.TrimSpace(t); t != "" && t != "--" {
					techs = append(techs, t)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return model.SignalReading{}, err
	}
	if !sawQuality {
		return model.SignalReading{}, fmt.Errorf("modem: %s missing from mmcli output", keySignalQuality)
	}
	return model.SignalReading{Quality: Bars(percent), Type: TypeFromAccessTech(techs)}, nil
}

// Bars maps ModemManager's 0-100 signal quality to status-bar levels.
func Bars(percent int) model.SignalQuality {
	switch {
	case percent <= 0:
		return model.NoSignal
	case percent < 25:
		return model.OneBar
	case percent < 50:
		return model.TwoBars
	case percent < 75:
		return model.ThreeBars
	default:
		return model.FourBars
	}
}

var techTypes = map[string]model.SignalType{
	"gsm":         model.Type2G,
	"gsm-compact": model.Type2G,
	"gprs":        model.Type2G,
	"1xrtt":       model.Type2G,
	"edge":        model.TypeEdge,
	"umts":        model.Type3G,
	"evdo0":       model.Type3G,
	"evdoa":       model.Type3G,
	"hsdpa":       model.TypeHSDPA,
	"hsupa":       model.TypeHSDPA,
	"hspa":        model.TypeHSDPA,
	"hspa-plus":   model.TypeHSDPA,
	"evdob":       model.TypeHSDPA,
	"ehrpd":       model.TypeHSDPA,
	"lte":         model.TypeLTE,
	"5gnr":        model.Type5G,
}

var typeOrder = []model.SignalType{
	model.TypeNone, model.Type2G, model.TypeEdge, model.Type3G,
	model.TypeHSDPA, model.TypeLTE, model.Type5G, model.Type5GPlus,
}

func rank(t model.SignalType) int {
	for i, v := range typeOrder {
		if v == t {
			return i
		}
	}
	return 0
}

// TypeFromAccessTech picks the most advanced technology the modem reports.
// LTE anchored 5G (non-standalone) lists both lte and 5gnr and is shown as 5G.
func TypeFromAccessTech(techs []string) model.SignalType {
	best := model.TypeNone
	for _, tech := range techs {
		t, ok := techTypes[strings.ToLower(tech)]
		if !ok {
			continue
		}
		if rank(t) > rank(best) {
			best = t
		}
	}
	return best
}
