// Package cmci is the transport for the CICS management client interface
// (CMCI) REST API.
package cmci

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rflorenc/cics-explorer/internal/models"
	"github.com/rflorenc/cics-explorer/internal/session"
)

const (
	apiRoot = "/CICSSystemManagement"
	// TokenCookie is the cookie CMCI uses to carry the LTPA session token.
	TokenCookie = "LtpaToken2"
	// DefaultUserAgent is sent when no WithUserAgent option is given.
	DefaultUserAgent = "cics-explorer/dev cicsx/dev"
)

// UserAgent formats the identifying header sent on every request.
func UserAgent(product, version, host, hostVersion string) string {
	return fmt.Sprintf("%s/%s %s/%s", product, version, host, hostVersion)
}

// QueryParams are the valueless CMCI query flags.
type QueryParams struct {
	SummOnly             bool
	NoDiscard            bool
	OverrideWarningCount bool
}

// GetRequest is a listing query against one resource table.
type GetRequest struct {
	ResourceName string // e.g. CICSProgram
	CICSPlex     string
	Region       string
	Criteria     string
	Parameter    string
	Query        QueryParams
}

// PutRequest performs an action against the resources matching Criteria.
type PutRequest struct {
	ResourceName string
	CICSPlex     string
	Region       string
	Criteria     string
	Parameter    string
	Action       string
	ActionParam  *Parameter
}

// CacheRequest reads records from a server-side result cache. Start is
// 1-based; a zero Count reads to the end of the cache.
type CacheRequest struct {
	Token     string
	Start     int
	Count     int
	NoDiscard bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient makes every profile share hc instead of a client built from
// the profile's TLS settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.shared = hc }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the request logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log.With().Str("component", "cmci").Logger() }
}

// Client issues CMCI requests on behalf of profiles, sharing one session per
// profile through the registry.
type Client struct {
	sessions  *session.Registry
	userAgent string
	log       zerolog.Logger
	shared    *http.Client

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewClient creates a Client bound to a session registry.
func NewClient(sessions *session.Registry, opts ...Option) *Client {
	c := &Client{
		sessions:  sessions,
		userAgent: DefaultUserAgent,
		log:       zerolog.Nop(),
		clients:   make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sessions returns the registry the client routes through.
func (c *Client) Sessions() *session.Registry {
	return c.sessions
}

// Forget drops the cached HTTP client and session for a profile name.
func (c *Client) Forget(name string) {
	c.mu.Lock()
	delete(c.clients, name)
	c.mu.Unlock()
	c.sessions.Remove(name)
}

// Get runs a listing query.
func (c *Client) Get(ctx context.Context, p *models.Profile, req GetRequest) (*Response, error) {
	u := resourcePath(p, req.ResourceName, req.CICSPlex, req.Region) +
		encodeQuery(req.Criteria, req.Parameter, req.Query)
	logEvt := c.log.Debug().Str("method", http.MethodGet).Str("resource", req.ResourceName)
	logOptions(logEvt, req.CICSPlex, req.Region, req.Criteria, req.Parameter, req.Query).Msg("cmci request")

	return c.do(ctx, p, func(ctx context.Context, s *session.Session) (*Response, error) {
		return c.send(ctx, s, http.MethodGet, u, nil, req.ResourceName)
	})
}

// Put performs an action.
func (c *Client) Put(ctx context.Context, p *models.Profile, req PutRequest) (*Response, error) {
	body, err := EncodeAction(req.Action, req.ActionParam)
	if err != nil {
		return nil, err
	}
	u := resourcePath(p, req.ResourceName, req.CICSPlex, req.Region) +
		encodeQuery(req.Criteria, req.Parameter, QueryParams{})
	logEvt := c.log.Debug().Str("method", http.MethodPut).Str("resource", req.ResourceName).Str("action", req.Action)
	if req.ActionParam != nil {
		logEvt = logEvt.Str("action_parameter", req.ActionParam.Name+"="+req.ActionParam.Value)
	}
	logOptions(logEvt, req.CICSPlex, req.Region, req.Criteria, req.Parameter, QueryParams{}).Msg("cmci request")

	return c.do(ctx, p, func(ctx context.Context, s *session.Session) (*Response, error) {
		return c.send(ctx, s, http.MethodPut, u, body, req.ResourceName)
	})
}

// GetCache reads a page from a result cache.
func (c *Client) GetCache(ctx context.Context, p *models.Profile, req CacheRequest) (*Response, error) {
	u := strings.TrimSuffix(p.BaseURL(), "/") + apiRoot + "/CICSResultCache/" + url.PathEscape(req.Token)
	if req.Start > 0 {
		u += "/" + strconv.Itoa(req.Start)
		if req.Count > 0 {
			u += "/" + strconv.Itoa(req.Count)
		}
	}
	if req.NoDiscard {
		u += "?NODISCARD"
	}
	c.log.Debug().Str("method", http.MethodGet).Str("resource", "CICSResultCache").
		Str("cachetoken", req.Token).Int("start", req.Start).Int("count", req.Count).
		Bool("nodiscard", req.NoDiscard).Msg("cmci request")

	return c.do(ctx, p, func(ctx context.Context, s *session.Session) (*Response, error) {
		return c.send(ctx, s, http.MethodGet, u, nil, "")
	})
}

// do runs attempt against the profile's session. A 401 on a request that
// carried a token means the token expired: the session is recreated and the
// request retried exactly once. Every other failure is returned as is.
func (c *Client) do(ctx context.Context, p *models.Profile, attempt func(context.Context, *session.Session) (*Response, error)) (*Response, error) {
	sess := c.sessions.Get(p)
	resp, err := attempt(ctx, sess)
	var tf *TransportFault
	if err == nil || !errors.As(err, &tf) || !tf.TokenRejected {
		return resp, err
	}

	c.log.Info().Str("profile", p.Name).Msg("session token rejected, retrying with a new session")
	sess = c.sessions.Renew(p, sess)
	return attempt(ctx, sess)
}

func (c *Client) send(ctx context.Context, s *session.Session, method, u string, body []byte, recordTag string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/xml")
	}

	token := s.Token()
	if token != "" {
		req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	} else {
		req.SetBasicAuth(s.Profile.User, s.Profile.Password)
	}

	httpResp, err := c.httpClient(&s.Profile).Do(req)
	if err != nil {
		return nil, &TransportFault{URL: u, Message: err.Error(), Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportFault{StatusCode: httpResp.StatusCode, URL: u, Message: "reading response: " + err.Error(), Err: err}
	}

	if httpResp.StatusCode == http.StatusUnauthorized {
		if token == "" {
			s.SetVerified(session.VerifiedFalse)
		}
		return nil, &TransportFault{
			StatusCode:    httpResp.StatusCode,
			URL:           u,
			Message:       truncate(strings.TrimSpace(string(data)), 200),
			TokenRejected: token != "",
		}
	}

	for _, ck := range httpResp.Cookies() {
		if ck.Name == TokenCookie && ck.Value != "" {
			s.SetToken(ck.Value)
		}
	}

	resp, perr := ParseResponse(data, recordTag)
	if perr != nil {
		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			return nil, &TransportFault{
				StatusCode: httpResp.StatusCode,
				URL:        u,
				Message:    truncate(strings.TrimSpace(string(data)), 200),
			}
		}
		return nil, fmt.Errorf("%s %s: %w", method, u, perr)
	}
	resp.StatusCode = httpResp.StatusCode

	if !resp.OK() && !resp.NoData() {
		return nil, &RestFault{
			StatusCode: httpResp.StatusCode,
			URL:        u,
			Summary:    resp.ResultSummary,
			Feedback:   resp.Feedback,
		}
	}
	s.SetVerified(session.VerifiedTrue)
	return resp, nil
}

func (c *Client) httpClient(p *models.Profile) *http.Client {
	if c.shared != nil {
		return c.shared
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[p.Name]; ok {
		return hc
	}
	hc := newHTTPClient(p)
	c.clients[p.Name] = hc
	return hc
}

func newHTTPClient(p *models.Profile) *http.Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if !p.RejectUnauthorized {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if p.CACert != "" {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM([]byte(p.CACert)) {
			transport.TLSClientConfig = &tls.Config{RootCAs: pool}
		}
	}
	user, password := p.User, p.Password
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Re-apply basic auth on redirects
			if len(via) > 0 && req.Header.Get("Cookie") == "" {
				req.SetBasicAuth(user, password)
			}
			return nil
		},
	}
}

func resourcePath(p *models.Profile, resource, plex, region string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(p.BaseURL(), "/"))
	b.WriteString(apiRoot)
	b.WriteString("/" + url.PathEscape(resource))
	if plex != "" {
		b.WriteString("/" + url.PathEscape(plex))
	}
	if region != "" {
		b.WriteString("/" + url.PathEscape(region))
	}
	return b.String()
}

func escape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// encodeQuery renders the CMCI query string. CRITERIA is wrapped in
// parentheses; the flags carry no value.
func encodeQuery(criteria, parameter string, q QueryParams) string {
	var parts []string
	if criteria != "" {
		parts = append(parts, "CRITERIA="+escape("("+criteria+")"))
	}
	if parameter != "" {
		parts = append(parts, "PARAMETER="+escape(parameter))
	}
	if q.SummOnly {
		parts = append(parts, "SUMMONLY")
	}
	if q.NoDiscard {
		parts = append(parts, "NODISCARD")
	}
	if q.OverrideWarningCount {
		parts = append(parts, "OVERRIDEWARNINGCOUNT")
	}
	if len(parts) == 0 {
		return ""
	}
	return "?" + strings.Join(parts, "&")
}

func logOptions(e *zerolog.Event, plex, region, criteria, parameter string, q QueryParams) *zerolog.Event {
	if plex != "" {
		e = e.Str("cicsplex", plex)
	}
	if region != "" {
		e = e.Str("region", region)
	}
	if criteria != "" {
		e = e.Str("criteria", criteria)
	}
	if parameter != "" {
		e = e.Str("parameter", parameter)
	}
	if q.SummOnly {
		e = e.Bool("summonly", true)
	}
	if q.NoDiscard {
		e = e.Bool("nodiscard", true)
	}
	if q.OverrideWarningCount {
		e = e.Bool("overridewarningcount", true)
	}
	return e
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
