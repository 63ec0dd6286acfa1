package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

// Backend answers a single A-record query over HTTPS.
type Backend interface {
	Name() string
	LookupA(ctx context.Context, host string) (string, error)
}

// wireSpecPrefix marks a backend URL that speaks the binary
// application/dns-message encoding instead of the JSON API.
const wireSpecPrefix = "wire+"

// ParseBackendSpec builds a backend from a config string. A plain HTTPS URL
// selects the JSON API; a "wire+https://..." URL selects the RFC 8484 wire
// format.
func ParseBackendSpec(spec string, client *http.Client) (Backend, error) {
	wire := strings.HasPrefix(spec, wireSpecPrefix)
	raw := strings.TrimPrefix(spec, wireSpecPrefix)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("backend spec %q: %w", spec, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("backend spec %q: unsupported scheme %q", spec, u.Scheme)
	}
	if wire {
		return &WireBackend{URL: raw, Client: client, name: u.Host}, nil
	}
	return &JSONBackend{URL: raw, Client: client, name: u.Host}, nil
}

// JSONBackend queries a DoH JSON API (dns.google/resolve style).
type JSONBackend struct {
	URL    string
	Client *http.Client
	name   string
}

func (b *JSONBackend) Name() string { return b.name }

type dnsJSONAnswer struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	Data string `json:"data"`
}

type dnsJSONResponse struct {
	Status int             `json:"Status"`
	Answer []dnsJSONAnswer `json:"Answer"`
}

func (b *JSONBackend) LookupA(ctx context.Context, host string) (string, error) {
	sep := "?"
	if strings.Contains(b.URL, "?") {
		sep = "&"
	}
	reqURL := b.URL + sep + "name=" + url.QueryEscape(host) + "&type=A"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/dns-json")
	resp, err := b.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("doh %s: unexpected status %d", b.name, resp.StatusCode)
	}
	var parsed dnsJSONResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("doh %s: decode: %w", b.name, err)
	}
	if parsed.Status != 0 {
		return "", fmt.Errorf("doh %s: rcode %d", b.name, parsed.Status)
	}
	for _, ans := range parsed.Answer {
		if ans.Type != dns.TypeA {
			continue
		}
		ip := net.ParseIP(ans.Data)
		if ip == nil || ip.To4() == nil {
			continue
		}
		return ans.Data, nil
	}
	return "", fmt.Errorf("doh %s: no A record for %s", b.name, host)
}

// WireBackend POSTs a packed DNS query per RFC 8484.
type WireBackend struct {
	URL    string
	Client *http.Client
	name   string
}

func (b *WireBackend) Name() string { return b.name }

func (b *WireBackend) LookupA(ctx context.Context, host string) (string, error) {
	var q dns.Msg
	q.SetQuestion(dns.Fqdn(host), dns.TypeA)
	packed, err := q.Pack()
	if err != nil {
		return "", fmt.Errorf("doh %s: pack: %w", b.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewReader(packed))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")
	resp, err := b.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("doh %s: unexpected status %d", b.name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, dns.MaxMsgSize))
	if err != nil {
		return "", err
	}
	var ans dns.Msg
	if err := ans.Unpack(body); err != nil {
		return "", fmt.Errorf("doh %s: unpack: %w", b.name, err)
	}
	if ans.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("doh %s: rcode %s", b.name, dns.RcodeToString[ans.Rcode])
	}
	for _, rr := range ans.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("doh %s: no A record for %s", b.name, host)
}
