package wizard

import (
	"bytes"
	"strings"
	"testing"

	"github.com/postalsys/relaychat/internal/config"
)

func TestNew(t *testing.T) {
	w := New(nil, &bytes.Buffer{})
	if w == nil {
		t.Fatal("New() returned nil")
	}
	if w.defaults == nil {
		t.Error("New(nil) should fall back to default config")
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"loopback", "127.0.0.1", false},
		{"any", "0.0.0.0", false},
		{"ipv6", "::1", false},
		{"padded", " 10.0.0.1 ", false},
		{"empty", "", true},
		{"hostname", "localhost", true},
		{"garbage", "300.1.1.1", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateAddress(tc.input)
			if (err != nil) != tc.wantErr {
				t.Errorf("validateAddress(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
		})
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"default", "5000", false},
		{"min", "1", false},
		{"max", "65535", false},
		{"zero", "0", true},
		{"too large", "65536", true},
		{"negative", "-1", true},
		{"not a number", "abc", true},
		{"empty", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePort(tc.input)
			if (err != nil) != tc.wantErr {
				t.Errorf("validatePort(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	if err := validateName("Alice"); err != nil {
		t.Errorf("validateName(Alice) = %v", err)
	}
	for _, s := range []string{"", "   "} {
		if err := validateName(s); err == nil {
			t.Errorf("validateName(%q) should fail", s)
		}
	}
}

func TestResult_Apply(t *testing.T) {
	t.Run("relay", func(t *testing.T) {
		cfg := config.Default()
		(&Result{Mode: ModeRelay, Address: "0.0.0.0", Port: 6000}).Apply(cfg)

		if cfg.Relay.Address != "0.0.0.0" || cfg.Relay.Port != 6000 {
			t.Errorf("relay = %+v", cfg.Relay)
		}
		if cfg.Peer.Port != 5000 {
			t.Error("peer section should be untouched")
		}
	})

	t.Run("peer", func(t *testing.T) {
		cfg := config.Default()
		(&Result{Mode: ModePeer, Address: "10.0.0.5", Port: 7000, Name: "Bob"}).Apply(cfg)

		if cfg.Peer.RelayAddress != "10.0.0.5" || cfg.Peer.Port != 7000 || cfg.Peer.Name != "Bob" {
			t.Errorf("peer = %+v", cfg.Peer)
		}
		if cfg.Relay.Port != 5000 {
			t.Error("relay section should be untouched")
		}
	})
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	w := New(config.Default(), &buf)
	w.printSummary(&Result{Mode: ModePeer, Address: "127.0.0.1", Port: 5000, Name: "Alice"})

	out := buf.String()
	for _, want := range []string{"peer", "127.0.0.1:5000", "Alice"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	New(nil, &buf).printBanner()

	if !strings.Contains(buf.String(), "datagram presence") {
		t.Errorf("banner missing subtitle:\n%s", buf.String())
	}
}
