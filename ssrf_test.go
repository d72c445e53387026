package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestSSRFProtection_Page(t *testing.T) {
	t.Setenv(allowPrivateEnv, "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret internal data"))
	}))
	defer srv.Close()

	_, _, err := fetchHTML(context.Background(), srv.URL, 5*time.Second, defaultUA)
	if err == nil {
		t.Fatal("Expected error fetching local URL, but got success")
	}
	if !strings.Contains(err.Error(), "blocked connection") {
		t.Errorf("Expected 'blocked connection' error, got: %v", err)
	}
}

func TestSSRFProtection_Image(t *testing.T) {
	t.Setenv(allowPrivateEnv, "")
	saved := imageClient
	imageClient = nil
	defer func() { imageClient = saved }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret"))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL + "/internal.png")
	_, err := fetchImage(context.Background(), u, t.TempDir())
	if err == nil {
		t.Fatal("expected image fetch from a local address to fail")
	}
	if !strings.Contains(err.Error(), "blocked connection") {
		t.Errorf("Expected 'blocked connection' error, got: %v", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	t.Setenv(allowPrivateEnv, "")
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.0.0.1", true},
		{"10.255.255.255", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.0.1", true},
		{"192.168.255.255", true},
		{"169.254.1.1", true},
		{"100.64.0.1", true},
		{"fe80::1", true},
		{"fd00::1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"203.0.113.1", false},
		{"93.184.216.34", false},
	}
	for _, tt := range tests {
		if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestIsPrivateIP_Override(t *testing.T) {
	t.Setenv(allowPrivateEnv, "1")
	if isPrivateIP(net.ParseIP("127.0.0.1")) {
		t.Errorf("127.0.0.1 should not be private when %s=1", allowPrivateEnv)
	}
}

func TestSafeDialContext_BlocksPrivate(t *testing.T) {
	t.Setenv(allowPrivateEnv, "")
	dial := safeDialContext(&net.Dialer{Timeout: 5 * time.Second})
	_, err := dial(context.Background(), "tcp", "127.0.0.1:80")
	if err == nil {
		t.Fatal("expected error dialing private IP")
	}
	if !strings.Contains(err.Error(), "blocked connection") {
		t.Errorf("expected 'blocked connection' error, got: %v", err)
	}
}

func TestSafeDialContext_InvalidAddr(t *testing.T) {
	dial := safeDialContext(&net.Dialer{Timeout: 5 * time.Second})
	if _, err := dial(context.Background(), "tcp", "not-a-valid-address"); err == nil {
		t.Fatal("expected error for invalid address")
	}
}
