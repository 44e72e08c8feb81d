package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// HTTPCheck issues HEAD requests against one URL. Any HTTP response,
// whatever the status code, proves the path to the internet works.
type HTTPCheck struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPCheck(rawURL, iface string, timeout time.Duration) (*HTTPCheck, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("http target %s: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("http target %s: unsupported scheme %q", rawURL, u.Scheme)
	}

	dialer := &net.Dialer{Timeout: timeout}
	if ip, err := localAddr(iface); err != nil {
		return nil, err
	} else if ip != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: ip}
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:       dialer.DialContext,
			DisableKeepAlives: true,
		},
	}

	return &HTTPCheck{url: rawURL, timeout: timeout, client: client}, nil
}

func (h *HTTPCheck) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.url, nil)
	if err != nil {
		return false
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return true
}
