package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults_Desktop(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")

	cfg := Config{Desktop: &DesktopConfig{}}
	ApplyDefaults(&cfg)

	d := cfg.Desktop
	if d.RefreshDelay() != 5*time.Second {
		t.Fatalf("refresh=%s", d.RefreshDelay())
	}
	if d.DiscoveryTimeout() != time.Second || d.FetchTimeout() != time.Second {
		t.Fatalf("timeouts=%s/%s", d.DiscoveryTimeout(), d.FetchTimeout())
	}
	if d.HistoryPath != "/data/tetherctl/sessions.csv" {
		t.Fatalf("history=%q", d.HistoryPath)
	}
	if d.RegistryPath != "/data/tetherctl/phones.yaml" {
		t.Fatalf("registry=%q", d.RegistryPath)
	}
	if d.NotifyAfterBytes() != 0 {
		t.Fatalf("notification enabled by default")
	}
	d.TransferNotification.Enabled = true
	if d.NotifyAfterBytes() != 50*1024*1024 {
		t.Fatalf("notify=%d", d.NotifyAfterBytes())
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Fatalf("log=%+v", cfg.Log)
	}
}

func TestApplyDefaults_Phone(t *testing.T) {
	t.Parallel()

	cfg := Config{Phone: &PhoneConfig{Name: "pixel"}}
	ApplyDefaults(&cfg)

	p := cfg.Phone
	if p.Listen != ":0" || p.Source != SourceStatic {
		t.Fatalf("phone=%+v", p)
	}
	if !p.AdvertiseEnabled() {
		t.Fatalf("advertise default not true")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := Validate(Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}

	cfg := Config{Phone: &PhoneConfig{Name: "pixel", Static: StaticSignal{Quality: 9, Type: "LTE"}}}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for quality 9")
	}
	cfg.Phone.Static.Quality = 3
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	cfg.Phone.Source = "radio"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown source")
	}

	desk := Config{Desktop: &DesktopConfig{RefreshDelaySec: -1}}
	ApplyDefaults(&desk)
	if err := Validate(desk); err == nil {
		t.Fatalf("expected error for negative refresh")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "tetherctl.yaml")
	in := Config{Desktop: &DesktopConfig{RefreshDelaySec: 2, HistoryPath: "h.csv", RegistryPath: "r.yaml"}}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Desktop == nil || out.Desktop.RefreshDelaySec != 2 || out.Desktop.HistoryPath != "h.csv" {
		t.Fatalf("desktop=%+v", out.Desktop)
	}
	if out.Phone != nil {
		t.Fatalf("phone section appeared")
	}
}

func TestAPIAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":             DefaultAPIListen,
		APIOff:         "",
		"0.0.0.0:9000": "0.0.0.0:9000",
	}
	for in, want := range cases {
		if got := (DesktopConfig{APIListen: in}).APIAddr(); got != want {
			t.Fatalf("APIAddr(%q)=%q want %q", in, got, want)
		}
	}
}
