package connstring

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidConnString is returned when the connection string is invalid
	ErrInvalidConnString = errors.New("invalid connection string")
	// ErrInvalidScheme is returned when the connection string scheme is not supported
	ErrInvalidScheme = errors.New("invalid scheme: must be 'streamhub://' or 'streamhubs://'")
	// ErrNoHost is returned when no host is specified
	ErrNoHost = errors.New("no host specified in connection string")
)

const (
	// Scheme is the plain HTTP scheme
	Scheme = "streamhub"
	// SchemeTLS implies tls=true
	SchemeTLS = "streamhubs"

	// DefaultPort is used when the connection string has no port
	DefaultPort = 8080
)

// ConnString represents a parsed connection string
type ConnString struct {
	// Scheme is streamhub or streamhubs
	Scheme string
	Host   string
	Port   int
	// Database is the optional database name. The server serves one
	// database, so this is informational.
	Database string
	Options  Options
}

// Options contains connection string options
type Options struct {
	// APIKey is sent as a Bearer token. It comes from the userinfo part
	// or the apiKey option.
	APIKey string

	Timeout        time.Duration
	MaxConnections int

	// TLS/SSL options
	TLS         bool
	TLSInsecure bool
	TLSCAFile   string

	// AppName is sent as the User-Agent
	AppName string
}

// DefaultOptions returns default connection options
func DefaultOptions() Options {
	return Options{
		Timeout:        30 * time.Second,
		MaxConnections: 10,
	}
}

// Parse parses a connection string. Supported forms:
//   - streamhub://host:port
//   - streamhub://apikey@host:port/database?timeout=5s
//   - streamhubs://host?tlsInsecure=true (TLS)
func Parse(connStr string) (*ConnString, error) {
	if connStr == "" {
		return nil, fmt.Errorf("%w: empty connection string", ErrInvalidConnString)
	}

	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConnString, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != Scheme && scheme != SchemeTLS {
		return nil, ErrInvalidScheme
	}

	cs := &ConnString{
		Scheme:  scheme,
		Options: DefaultOptions(),
	}
	cs.Options.TLS = scheme == SchemeTLS

	if u.User != nil {
		// streamhub://key@host and streamhub://:key@host both work
		cs.Options.APIKey = u.User.Username()
		if password, ok := u.User.Password(); ok && password != "" {
			cs.Options.APIKey = password
		}
	}

	if u.Host == "" {
		return nil, ErrNoHost
	}
	if strings.Contains(u.Host, ",") {
		return nil, fmt.Errorf("%w: only one host is supported", ErrInvalidConnString)
	}
	cs.Host, cs.Port, err = parseHost(u.Host)
	if err != nil {
		return nil, err
	}

	if u.Path != "" && u.Path != "/" {
		cs.Database = strings.TrimPrefix(u.Path, "/")
	}

	if u.RawQuery != "" {
		if err := parseOptions(&cs.Options, u.Query()); err != nil {
			return nil, err
		}
	}

	return cs, nil
}

func parseHost(hostport string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port
		return strings.Trim(hostport, "[]"), DefaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("%w: invalid port '%s'", ErrInvalidConnString, portStr)
	}
	if host == "" {
		return "", 0, ErrNoHost
	}
	return host, port, nil
}

// parseOptions parses query parameters into Options
func parseOptions(opts *Options, values url.Values) error {
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		val := vals[0] // use first value if multiple provided

		switch strings.ToLower(key) {
		case "timeout":
			d, err := parseDuration(val)
			if err != nil {
				return fmt.Errorf("%w: invalid timeout value: %v", ErrInvalidConnString, err)
			}
			opts.Timeout = d

		case "maxconnections", "maxpoolsize":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return fmt.Errorf("%w: invalid maxConnections value %q", ErrInvalidConnString, val)
			}
			opts.MaxConnections = n

		case "tls", "ssl":
			opts.TLS = parseBool(val)

		case "tlsinsecure":
			opts.TLSInsecure = parseBool(val)

		case "tlscafile":
			opts.TLSCAFile = val

		case "apikey":
			opts.APIKey = val

		case "appname":
			opts.AppName = val

		default:
			return fmt.Errorf("%w: unknown option %q", ErrInvalidConnString, key)
		}
	}

	return nil
}

// parseDuration accepts Go durations ("5s") and bare milliseconds ("5000")
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// parseBool parses a boolean value from string
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

// BaseURL returns the HTTP(S) URL of the server
func (cs *ConnString) BaseURL() string {
	scheme := "http"
	if cs.Options.TLS {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(cs.Host, strconv.Itoa(cs.Port))
}

// String returns the connection string representation. The API key is
// redacted.
func (cs *ConnString) String() string {
	var sb strings.Builder

	sb.WriteString(cs.Scheme)
	sb.WriteString("://")
	if cs.Options.APIKey != "" {
		sb.WriteString("xxxxx@")
	}
	sb.WriteString(net.JoinHostPort(cs.Host, strconv.Itoa(cs.Port)))
	if cs.Database != "" {
		sb.WriteString("/")
		sb.WriteString(cs.Database)
	}

	return sb.String()
}

// HasAuthentication returns true if an API key is specified
func (cs *ConnString) HasAuthentication() bool {
	return cs.Options.APIKey != ""
}
