package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tetherctl/internal/model"
)

const (
	DefaultPhoneListen        = ":0"
	DefaultSource             = SourceStatic
	DefaultRefreshDelaySec    = 5
	DefaultDiscoveryTimeoutMs = 1000
	DefaultFetchTimeoutMs     = 1000
	DefaultProcRoot           = "/proc"
	DefaultAPIListen          = "127.0.0.1:7420"
	DefaultNotifyAfterMB      = 50
	DefaultSubjectPrefix      = "tetherctl"
	DefaultModemTimeoutMs     = 400

	APIOff = "off"

	SourceStatic = "static"
	SourceModem  = "modem"
)

// DefaultSTUNServers is used by doctor when none are configured.
var DefaultSTUNServers = []string{"stun.l.google.com:19302", "stun1.l.google.com:19302"}

// Config holds both the phone-side and desktop-side settings.
type Config struct {
	Log     LogConfig      `yaml:"log"`
	Phone   *PhoneConfig   `yaml:"phone,omitempty"`
	Desktop *DesktopConfig `yaml:"desktop,omitempty"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console|json
}

// PhoneConfig is used by the process serving signal readings.
type PhoneConfig struct {
	Name       string       `yaml:"name"`
	Listen     string       `yaml:"listen"`
	Advertise  *bool        `yaml:"advertise,omitempty"`
	Interfaces []string     `yaml:"interfaces,omitempty"`
	Source     string       `yaml:"source"` // static|modem
	Static     StaticSignal `yaml:"static"`
	Modem      ModemConfig  `yaml:"modem"`
}

// StaticSignal is a fixed reading served when no modem is available.
type StaticSignal struct {
	Quality int    `yaml:"quality"`
	Type    string `yaml:"type"`
}

// ModemConfig points at the ModemManager modem to query.
type ModemConfig struct {
	Index     string `yaml:"index"`
	MMCLIPath string `yaml:"mmcli_path"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// DesktopConfig is used by the process tracking the tethered phone.
type DesktopConfig struct {
	RefreshDelaySec      int                `yaml:"refresh_delay_sec"`
	DiscoveryTimeoutMs   int                `yaml:"discovery_timeout_ms"`
	FetchTimeoutMs       int                `yaml:"fetch_timeout_ms"`
	ProcRoot             string             `yaml:"proc_root"`
	HistoryPath          string             `yaml:"history_path"`
	RegistryPath         string             `yaml:"registry_path"`
	APIListen            string             `yaml:"api_listen"`
	TransferNotification TransferNotifyConf `yaml:"transfer_notification"`
	NATS                 NATSConfig         `yaml:"nats"`
	STUNServers          []string           `yaml:"stun_servers,omitempty"`
}

// TransferNotifyConf controls the "you transferred N MB" notification.
type TransferNotifyConf struct {
	Enabled bool `yaml:"enabled"`
	AfterMB int  `yaml:"after_mb"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the sections that are present.
func Validate(cfg Config) error {
	if cfg.Phone == nil && cfg.Desktop == nil {
		return fmt.Errorf("config must contain phone or desktop section")
	}
	if p := cfg.Phone; p != nil {
		if p.Name == "" {
			return fmt.Errorf("phone.name is required")
		}
		switch p.Source {
		case SourceStatic:
			r := model.SignalReading{Quality: model.SignalQuality(p.Static.Quality), Type: model.SignalType(p.Static.Type)}
			if !r.Valid() {
				return fmt.Errorf("phone.static: invalid reading quality=%d type=%q", p.Static.Quality, p.Static.Type)
			}
		case SourceModem:
		default:
			return fmt.Errorf("phone.source must be %q or %q", SourceStatic, SourceModem)
		}
	}
	if d := cfg.Desktop; d != nil {
		if d.RefreshDelaySec <= 0 {
			return fmt.Errorf("desktop.refresh_delay_sec must be > 0")
		}
		if d.DiscoveryTimeoutMs <= 0 || d.FetchTimeoutMs <= 0 {
			return fmt.Errorf("desktop timeouts must be > 0")
		}
		if d.TransferNotification.Enabled && d.TransferNotification.AfterMB <= 0 {
			return fmt.Errorf("desktop.transfer_notification.after_mb must be > 0")
		}
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	if p := cfg.Phone; p != nil {
		if p.Name == "" {
			if host, err := os.Hostname(); err == nil {
				p.Name = host
			}
		}
		if p.Listen == "" {
			p.Listen = DefaultPhoneListen
		}
		if p.Advertise == nil {
			v := true
			p.Advertise = &v
		}
		if p.Source == "" {
			p.Source = DefaultSource
		}
		if p.Modem.TimeoutMs == 0 {
			p.Modem.TimeoutMs = DefaultModemTimeoutMs
		}
	}

	if d := cfg.Desktop; d != nil {
		if d.RefreshDelaySec == 0 {
			d.RefreshDelaySec = DefaultRefreshDelaySec
		}
		if d.DiscoveryTimeoutMs == 0 {
			d.DiscoveryTimeoutMs = DefaultDiscoveryTimeoutMs
		}
		if d.FetchTimeoutMs == 0 {
			d.FetchTimeoutMs = DefaultFetchTimeoutMs
		}
		if d.ProcRoot == "" {
			d.ProcRoot = DefaultProcRoot
		}
		if d.HistoryPath == "" || d.RegistryPath == "" {
			dir := defaultDataDir()
			if d.HistoryPath == "" {
				d.HistoryPath = filepath.Join(dir, "sessions.csv")
			}
			if d.RegistryPath == "" {
				d.RegistryPath = filepath.Join(dir, "phones.yaml")
			}
		}
		if d.TransferNotification.AfterMB == 0 {
			d.TransferNotification.AfterMB = DefaultNotifyAfterMB
		}
		if d.NATS.SubjectPrefix == "" {
			d.NATS.SubjectPrefix = DefaultSubjectPrefix
		}
		if len(d.STUNServers) == 0 {
			d.STUNServers = append([]string(nil), DefaultSTUNServers...)
		}
	}
}

// AdvertiseEnabled reports whether the phone should announce itself via mDNS.
func (p PhoneConfig) AdvertiseEnabled() bool {
	return p.Advertise == nil || *p.Advertise
}

// RefreshDelay is the pause between two desktop ticks.
func (d DesktopConfig) RefreshDelay() time.Duration {
	return time.Duration(d.RefreshDelaySec) * time.Second
}

// DiscoveryTimeout bounds one discovery cycle.
func (d DesktopConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(d.DiscoveryTimeoutMs) * time.Millisecond
}

// FetchTimeout bounds one signal fetch.
func (d DesktopConfig) FetchTimeout() time.Duration {
	return time.Duration(d.FetchTimeoutMs) * time.Millisecond
}

// NotifyAfterBytes is the notification step in bytes, or 0 when disabled.
func (d DesktopConfig) NotifyAfterBytes() uint64 {
	if !d.TransferNotification.Enabled || d.TransferNotification.AfterMB <= 0 {
		return 0
	}
	return uint64(d.TransferNotification.AfterMB) * 1024 * 1024
}

// APIAddr is the status API listen address: DefaultAPIListen when unset, ""
// when api_listen is "off".
func (d DesktopConfig) APIAddr() string {
	switch d.APIListen {
	case "":
		return DefaultAPIListen
	case APIOff:
		return ""
	}
	return d.APIListen
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "tetherctl")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "tetherctl")
	}
	return "tetherctl-data"
}
