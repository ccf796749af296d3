package devicepull

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/nomanocra/SmartConnectServer/internal/device"
)

const (
	// DefaultTimeout bounds each attempt when Config.Timeout is zero.
	DefaultTimeout = 15 * time.Second

	// maxBodySize caps the CSV document read from a device.
	maxBodySize = 32 << 20
)

// authMarkers are lower-case fragments boitiers put in the body when
// credentials are rejected. They are only looked for outside CSV data
// rows, since sensor names and values may contain them.
var authMarkers = []string{
	"authentication failed",
	"authentication error",
	"invalid username",
	"invalid password",
	"invalid credentials",
	"login failed",
	"access denied",
	"unauthorized",
}

// htmlMarkers identify an HTML page instead of CSV.
var htmlMarkers = []string{"<html", "<!doctype", "<head>"}

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds client settings.
type Config struct {
	// Timeout bounds each attempt (https and http separately).
	Timeout time.Duration

	// Location is the zone the window start is expressed in. Boitiers log
	// in local time. Defaults to UTC.
	Location *time.Location

	// Transport overrides the HTTP transport. Nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Request identifies what to pull from which device.
type Request struct {
	Address     string
	Username    string
	Password    string
	WindowStart time.Time
}

// Client fetches CSV telemetry from devices. Safe for concurrent use.
type Client struct {
	http    *http.Client
	timeout time.Duration
	loc     *time.Location
	maxBody int64
	logger  Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		http:    &http.Client{Transport: cfg.Transport},
		timeout: timeout,
		loc:     loc,
		maxBody: maxBodySize,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Fetch returns the raw CSV document the device holds since req.WindowStart.
//
// Without an explicit scheme in req.Address, https is tried first and http
// second. When both fail, the error of the attempt that reached the device
// is preferred. Cancelling ctx aborts without fallback.
func (c *Client) Fetch(ctx context.Context, req Request) (string, error) {
	address := device.NormalizeAddress(req.Address)
	if address == "" {
		return "", &DeviceError{Code: CodeNotFound, Address: req.Address, Message: "empty device address"}
	}

	scheme := device.ExplicitScheme(req.Address)
	if scheme != "" {
		return c.attempt(ctx, scheme, address, req)
	}

	body, err := c.attempt(ctx, "https", address, req)
	if err == nil {
		return body, nil
	}
	if ctx.Err() != nil {
		return "", err
	}

	c.logger.Debug("https pull failed, retrying over http", "address", address, "error", err)
	body, httpErr := c.attempt(ctx, "http", address, req)
	if httpErr == nil {
		return body, nil
	}

	var first, second *DeviceError
	if errors.As(err, &first) && errors.As(httpErr, &second) && second.Transport() && !first.Transport() {
		return "", err
	}
	return "", httpErr
}

func (c *Client) attempt(ctx context.Context, scheme, address string, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := BuildURL(scheme, address, req.Username, req.Password, req.WindowStart.In(c.loc))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", &DeviceError{Code: CodeNotFound, Address: address, Message: "invalid device address", Err: err}
	}
	httpReq.Header.Set("Accept", "text/csv, text/plain")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", classifyTransport(address, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return "", classifyTransport(address, err)
	}
	if int64(len(raw)) > c.maxBody {
		return "", &DeviceError{
			Code:    CodeBadGateway,
			Address: address,
			Message: fmt.Sprintf("device response exceeds %d bytes", c.maxBody),
		}
	}
	body := string(raw)

	c.logger.Debug("device answered",
		"address", address, "scheme", scheme, "status", resp.StatusCode,
		"bytes", len(raw), "duration", time.Since(start))

	if resp.StatusCode == http.StatusUnauthorized || rejectsCredentials(body) {
		return "", &DeviceError{Code: CodeUnauthorized, Address: address, Message: "device rejected the credentials"}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &DeviceError{
			Code:    CodeBadGateway,
			Address: address,
			Message: fmt.Sprintf("device answered HTTP %d", resp.StatusCode),
		}
	}
	if !looksLikeCSV(body) {
		return "", &DeviceError{Code: CodeNotTelemetry, Address: address, Message: "not a valid telemetry source"}
	}
	return body, nil
}

// BuildURL renders the device query URL. Date parts are zero-padded.
func BuildURL(scheme, address, username, password string, start time.Time) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(address)
	b.WriteString("/query.php?username=")
	b.WriteString(url.QueryEscape(username))
	b.WriteString("&password=")
	b.WriteString(url.QueryEscape(password))
	b.WriteString("&logtype=DATA&format=CSV")
	fmt.Fprintf(&b, "&start_year=%04d&start_month=%02d&start_day=%02d&start_hour=%02d&start_min=%02d&start_sec=%02d",
		start.Year(), int(start.Month()), start.Day(), start.Hour(), start.Minute(), start.Second())
	return b.String()
}

// rejectsCredentials reports whether body is an authentication failure
// page. Markers count in the first non-empty line, or anywhere in a body
// that is not CSV.
func rejectsCredentials(body string) bool {
	if containsAny(strings.ToLower(firstLine(body)), authMarkers) {
		return true
	}
	return !looksLikeCSV(body) && containsAny(strings.ToLower(body), authMarkers)
}

// firstLine returns the first non-empty line of body, trimmed.
func firstLine(body string) string {
	for len(body) > 0 {
		line, rest, _ := strings.Cut(body, "\n")
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
		body = rest
	}
	return ""
}

// looksLikeCSV rejects HTML pages and bodies whose first non-empty line
// has no comma. An empty body is an empty window, not an error.
func looksLikeCSV(body string) bool {
	lower := strings.ToLower(body)
	if containsAny(lower, htmlMarkers) {
		return false
	}
	line := firstLine(body)
	return line == "" || strings.Contains(line, ",")
}

// classifyTransport maps a failed round trip to a DeviceError code.
func classifyTransport(address string, err error) error {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("pull of %s cancelled: %w", address, err)
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return &DeviceError{Code: CodeTimeout, Address: address, Message: "device did not answer in time", Err: err}
	case errors.As(err, &dnsErr):
		return &DeviceError{Code: CodeNotFound, Address: address, Message: "device host not found", Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &DeviceError{Code: CodeUnavailable, Address: address, Message: "connection refused", Err: err}
	case errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH):
		return &DeviceError{Code: CodeUnavailable, Address: address, Message: "device host unreachable", Err: err}
	default:
		return &DeviceError{Code: CodeUnavailable, Address: address, Message: "device unreachable", Err: err}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
