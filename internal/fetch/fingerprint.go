package fetch

import (
	"context"
	"fmt"
	"io"
	"strings"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// headerOrder is the order Chrome sends these headers in
var headerOrder = []string{
	"user-agent",
	"accept",
	"accept-language",
	"referer",
	"dnt",
	"upgrade-insecure-requests",
}

// Fingerprint fetches with a client whose TLS and HTTP/2 handshake mimic a
// desktop Chrome browser.
type Fingerprint struct {
	profile profiles.ClientProfile
}

// NewFingerprint creates the fingerprint strategy with a Chrome profile
func NewFingerprint() *Fingerprint {
	return &Fingerprint{profile: profiles.Chrome_120}
}

func (f *Fingerprint) Name() string { return NameFingerprint }

func (f *Fingerprint) Fetch(ctx context.Context, req Request) ([]byte, error) {
	options := []tls_client.HttpClientOption{
		tls_client.WithClientProfile(f.profile),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	}
	if req.Timeout > 0 {
		options = append(options, tls_client.WithTimeoutSeconds(int(req.Timeout.Seconds())))
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("creating tls client: %w", err)
	}

	httpReq, err := fhttp.NewRequestWithContext(ctx, fhttp.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header = fhttp.Header(req.Header.Clone())
	if httpReq.Header == nil {
		httpReq.Header = make(fhttp.Header)
	}
	order := make([]string, 0, len(headerOrder))
	for _, name := range headerOrder {
		if httpReq.Header.Get(name) != "" {
			order = append(order, strings.ToLower(name))
		}
	}
	httpReq.Header[fhttp.HeaderOrderKey] = order

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}
