package util

import (
	"net"
	"testing"
)

func TestFormatAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"127.0.0.1", 8080, "127.0.0.1:8080"},
		{"::1", 443, "[::1]:443"},
		{"", 9000, ":9000"},
	}
	for _, tt := range tests {
		if got := FormatAddr(tt.host, tt.port); got != tt.want {
			t.Errorf("FormatAddr(%q,%d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestPeerAddr(t *testing.T) {
	if got := PeerAddr(nil); got != "unknown" {
		t.Errorf("PeerAddr(nil) = %q", got)
	}

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	// net.Pipe reports the "pipe" address.
	if got := PeerAddr(a); got != "pipe" {
		t.Errorf("PeerAddr(pipe) = %q, want %q", got, "pipe")
	}
}
