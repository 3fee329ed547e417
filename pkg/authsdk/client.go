package authsdk

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// RefreshCookieName is the cookie carrying the refresh token.
const RefreshCookieName = "refresh_token"

// SDKClient talks to the session service. Each client owns a cookie jar and
// therefore behaves like one browser: the refresh token lives in the jar,
// never in Go values handed to the caller.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a client with its own cookie jar.
func NewSDKClient(baseURL string) *SDKClient {
	return NewSDKClientWithHTTPClient(baseURL, &http.Client{Timeout: 10 * time.Second})
}

// NewSDKClientWithHTTPClient uses a copy of hc for transport, e.g. an
// httptest TLS client. The copy gets a fresh jar when hc has none, so two
// clients built from the same hc are still two browsers.
func NewSDKClientWithHTTPClient(baseURL string, hc *http.Client) *SDKClient {
	cp := *hc
	if cp.Jar == nil {
		// cookiejar.New only fails on a bad PublicSuffixList, and we pass none
		jar, _ := cookiejar.New(nil)
		cp.Jar = jar
	}
	return &SDKClient{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &cp,
	}
}

// RefreshToken returns the refresh token currently held in the jar.
func (c *SDKClient) RefreshToken() string {
	u, err := url.Parse(c.url("/v1/auth/refresh-token"))
	if err != nil || c.HTTPClient.Jar == nil {
		return ""
	}
	for _, ck := range c.HTTPClient.Jar.Cookies(u) {
		if ck.Name == RefreshCookieName {
			return ck.Value
		}
	}
	return ""
}

// SetRefreshToken places raw in the jar as if the server had set it. Useful
// for resuming a session from storage.
func (c *SDKClient) SetRefreshToken(raw string) {
	u, err := url.Parse(c.url("/v1/auth/"))
	if err != nil || c.HTTPClient.Jar == nil {
		return
	}
	c.HTTPClient.Jar.SetCookies(u, []*http.Cookie{{
		Name:     RefreshCookieName,
		Value:    raw,
		Path:     "/v1/auth",
		Secure:   u.Scheme == "https",
		HttpOnly: true,
	}})
}
