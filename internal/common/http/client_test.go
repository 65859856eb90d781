package http

import (
	"net/http"
	"testing"
	"time"
)

func TestNewHTTPClient_Defaults(t *testing.T) {
	client := NewHTTPClient()

	if client.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", client.Timeout)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport")
	}
	if transport.MaxIdleConns != 100 {
		t.Errorf("expected MaxIdleConns 100, got %d", transport.MaxIdleConns)
	}
	if transport.DisableKeepAlives {
		t.Error("expected keep-alives enabled by default")
	}
}

func TestNewHTTPClientWithTimeout(t *testing.T) {
	client := NewHTTPClientWithTimeout(15 * time.Second)

	if client.Timeout != 15*time.Second {
		t.Errorf("expected timeout 15s, got %v", client.Timeout)
	}
}

type fakeRoundTripper struct{}

func (fakeRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, nil
}

func TestNewHTTPClient_CustomTransport(t *testing.T) {
	rt := fakeRoundTripper{}
	client := NewHTTPClient(WithTransport(rt))

	if client.Transport != rt {
		t.Error("expected custom transport to be used")
	}
}

func TestNewHTTPClient_WithoutKeepAlives(t *testing.T) {
	client := NewHTTPClient(WithoutKeepAlives())

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport")
	}
	if !transport.DisableKeepAlives {
		t.Error("expected keep-alives disabled")
	}
}
