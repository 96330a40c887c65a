package proxmox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPort    = 8006
	DefaultRealm   = "pam"
	defaultTimeout = 30 * time.Second
	apiPrefix      = "/api2/json"
	ticketPath     = "/access/ticket"
	authCookieName = "PVEAuthCookie"
	csrfHeader     = "CSRFPreventionToken"
)

type ClientConfig struct {
	BaseURL            string
	Username           string
	Password           string
	APIToken           string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client talks to the api2/json endpoint of a cluster. It authenticates either with an
// api token or with a ticket obtained from username and password.
type Client struct {
	cfg        ClientConfig
	baseURL    string
	httpClient *http.Client
	log        *zap.SugaredLogger

	mu     sync.RWMutex
	ticket string
	csrf   string
}

func NewClient(cfg ClientConfig, httpClient *http.Client, log *zap.SugaredLogger) (*Client, error) {
	baseURL, err := apiRoot(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	cfg.BaseURL = baseURL

	if strings.TrimSpace(cfg.APIToken) == "" && strings.TrimSpace(cfg.Username) == "" {
		return nil, errors.New("proxmox: either api token or username must be set")
	}
	if cfg.Username != "" {
		cfg.Username = NormalizeUsername(cfg.Username)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = zap.S().Named("proxmox")
	}

	c := &Client{
		cfg:     cfg,
		baseURL: baseURL,
		log:     log,
	}

	if httpClient != nil {
		c.httpClient = httpClient
	} else {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.InsecureSkipVerify {
		c.httpClient = withInsecureTLS(c.httpClient)
	}

	return c, nil
}

// BaseURL builds the endpoint url of a cluster from its host and port.
func BaseURL(host string, port int) string {
	if port == 0 {
		port = DefaultPort
	}
	return "https://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// NormalizeUsername appends the default realm when the user carries none.
func NormalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	if username == "" || strings.Contains(username, "@") {
		return username
	}
	return username + "@" + DefaultRealm
}

// Endpoint returns the normalized api url.
func (c *Client) Endpoint() string {
	return c.baseURL
}

// Host returns the host:port the client talks to.
func (c *Client) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Login exchanges username and password for a ticket. It is a no-op for token auth.
func (c *Client) Login(ctx context.Context) error {
	if c.usesToken() {
		return nil
	}

	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	var out struct {
		Ticket string `json:"ticket"`
		CSRF   string `json:"CSRFPreventionToken"`
	}
	if err := c.send(ctx, http.MethodPost, ticketPath, nil, form, &out, false); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("login as %s: %w", c.cfg.Username, ErrInvalidCredentials)
		}
		return fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}
	if out.Ticket == "" {
		return fmt.Errorf("login as %s: %w", c.cfg.Username, ErrInvalidCredentials)
	}

	c.mu.Lock()
	c.ticket = out.Ticket
	c.csrf = out.CSRF
	c.mu.Unlock()

	c.log.Debugw("logged in", "endpoint", c.baseURL, "user", c.cfg.Username)
	return nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, form, out)
}

func (c *Client) Put(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, form, out)
}

func (c *Client) Delete(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodDelete, path, query, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, query, form url.Values, out any) error {
	if !c.usesToken() && !c.hasTicket() {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}

	err := c.send(ctx, method, path, query, form, out, true)
	var apiErr *APIError
	if err != nil && !c.usesToken() && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		// tickets expire after two hours
		c.log.Debugw("ticket rejected, logging in again", "endpoint", c.baseURL)
		if err := c.Login(ctx); err != nil {
			return err
		}
		return c.send(ctx, method, path, query, form, out, true)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query, form url.Values, out any, authenticated bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u = u + "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if authenticated {
		c.authorize(req)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("proxmox api %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 8<<10))
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = res.Status
		}
		return &APIError{Method: method, Path: path, StatusCode: res.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("proxmox api %s %s: decoding response: %w", method, path, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("proxmox api %s %s: decoding data: %w", method, path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.usesToken() {
		token := strings.TrimSpace(c.cfg.APIToken)
		if !strings.HasPrefix(token, "PVEAPIToken=") {
			token = "PVEAPIToken=" + token
		}
		req.Header.Set("Authorization", token)
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	req.AddCookie(&http.Cookie{Name: authCookieName, Value: c.ticket})
	if req.Method != http.MethodGet && c.csrf != "" {
		req.Header.Set(csrfHeader, c.csrf)
	}
}

func (c *Client) usesToken() bool {
	return strings.TrimSpace(c.cfg.APIToken) != ""
}

func (c *Client) hasTicket() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ticket != ""
}

// apiRoot reduces a cluster url to scheme, host and the api2/json root,
// keeping any path prefix of a reverse proxy in front of the cluster.
func apiRoot(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("proxmox: invalid base url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("proxmox: base url %q needs a scheme and a host", raw)
	}
	prefix := strings.TrimSuffix(strings.TrimRight(u.Path, "/"), apiPrefix)
	root := url.URL{Scheme: u.Scheme, Host: u.Host, Path: prefix + apiPrefix}
	return root.String(), nil
}

// withInsecureTLS returns a copy of the client that accepts self signed
// certificates, the default of a fresh cluster.
func withInsecureTLS(in *http.Client) *http.Client {
	out := *in
	transport, ok := in.Transport.(*http.Transport)
	if !ok || transport == nil {
		transport = http.DefaultTransport.(*http.Transport)
	}
	transport = transport.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	}
	transport.TLSClientConfig.InsecureSkipVerify = true
	out.Transport = transport
	return &out
}
