package addrutil

import "testing"

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		host string
		port uint16
	}{
		{"192.168.42.129:7000", "192.168.42.129", 7000},
		{"[fe80::1]:7000", "fe80::1", 7000},
		{"2001:db8::1:51820", "2001:db8::1", 51820},
		{"phone.local:80", "phone.local", 80},
	}
	for _, tc := range cases {
		ep, err := ParseEndpoint(tc.in)
		if err != nil {
			t.Fatalf("ParseEndpoint(%q): %v", tc.in, err)
		}
		if ep.Host != tc.host || ep.Port != tc.port {
			t.Fatalf("ParseEndpoint(%q)=%+v", tc.in, ep)
		}
	}
}

func TestParseEndpoint_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "host", "host:0", "host:70000", ":7000", "host:abc"} {
		if _, err := ParseEndpoint(in); err == nil {
			t.Fatalf("ParseEndpoint(%q) succeeded", in)
		}
	}
}

func TestHostFromAddr(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"39.119.108.243:33134": "39.119.108.243",
		"2001:db8::1:51820":    "2001:db8::1",
		"[2001:db8::1]":        "2001:db8::1",
		"phone.local":          "phone.local",
		" ":                    "",
	}
	for in, want := range cases {
		if got := HostFromAddr(in); got != want {
			t.Fatalf("HostFromAddr(%q)=%q want %q", in, got, want)
		}
	}
}

func TestInterfaceIP_Unknown(t *testing.T) {
	t.Parallel()

	if _, err := InterfaceIP(""); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := InterfaceIP("no-such-iface0"); err == nil {
		t.Fatal("expected error for unknown interface")
	}
}
