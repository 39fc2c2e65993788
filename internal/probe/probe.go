package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
)

// Result is the outcome of one probe attempt.
//
// Probe failures are data, not errors: a down target is a normal
// observation the monitor acts on, so Result carries the failure
// detail instead of an error return.
type Result struct {
	// Server is the probed target.
	Server config.Server

	// Up reports whether the target answered within the timeout.
	Up bool

	// Latency is the measured round-trip or connect time.
	// Zero when the target is down or latency is unavailable.
	Latency time.Duration

	// Detail describes why a probe failed ("" when up).
	Detail string

	// At is when the probe completed.
	At time.Time
}

// Prober runs connectivity probes against configured servers.
//
// A single Prober is shared by all group loops; it is stateless apart
// from a reused HTTP client and is safe for concurrent use.
type Prober struct {
	timeout time.Duration

	httpClient *http.Client

	// pingPath is the resolved ping binary, "" when unavailable.
	pingPath string
}

// New creates a Prober with the given per-probe timeout.
//
// The system ping binary is resolved once here; if it is missing every
// ping probe reports down with an explanatory detail rather than
// failing at probe time.
func New(timeout time.Duration) *Prober {
	pingPath, _ := exec.LookPath("ping")

	return &Prober{
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
			// Reachability is the question, not certificate hygiene.
			// Monitored hosts routinely run self-signed management
			// interfaces.
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		pingPath: pingPath,
	}
}

// Probe checks a single server and reports the outcome.
//
// The method dispatches on the server's configured probe method.
// ctx bounds the whole attempt; the configured timeout applies on top.
func (p *Prober) Probe(ctx context.Context, srv config.Server) Result {
	switch srv.Method {
	case config.MethodHTTP:
		return p.probeHTTP(ctx, srv)
	case config.MethodTCP:
		return p.probeTCP(ctx, srv)
	default:
		return p.probePing(ctx, srv)
	}
}

// probePing shells out to the system ping binary with a single echo
// request. Raw ICMP sockets need elevated privileges; the setuid ping
// binary avoids running the daemon as root.
func (p *Prober) probePing(ctx context.Context, srv config.Server) Result {
	if p.pingPath == "" {
		return Result{
			Server: srv,
			Detail: "ping binary not found",
			At:     time.Now(),
		}
	}

	timeoutSecs := int(p.timeout.Seconds())
	if timeoutSecs < 1 {
		timeoutSecs = 1
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout+time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, p.pingPath,
		"-c", "1",
		"-W", strconv.Itoa(timeoutSecs),
		srv.Address,
	)
	output, err := cmd.CombinedOutput()
	at := time.Now()

	if err != nil {
		detail := "no reply"
		if probeCtx.Err() == context.DeadlineExceeded {
			detail = fmt.Sprintf("timeout after %v", p.timeout)
		}
		return Result{Server: srv, Detail: detail, At: at}
	}

	return Result{
		Server:  srv,
		Up:      true,
		Latency: parsePingLatency(string(output)),
		At:      at,
	}
}

// parsePingLatency extracts the round-trip time from ping output.
// Returns 0 if the output has no recognisable "time=" field.
//
// Typical line: "64 bytes from 192.168.1.1: icmp_seq=1 ttl=64 time=1.23 ms"
func parsePingLatency(output string) time.Duration {
	idx := strings.Index(output, "time=")
	if idx < 0 {
		return 0
	}

	rest := output[idx+len("time="):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if end <= 0 {
		return 0
	}

	ms, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// probeHTTP performs a GET against the target. Any response counts as
// up unless the server config demands an exact status code. Redirects
// are not followed: a live server answering 302 is still a live server.
func (p *Prober) probeHTTP(ctx context.Context, srv config.Server) Result {
	target := srv.Address
	if !strings.Contains(target, "://") {
		target = fmt.Sprintf("http://%s", net.JoinHostPort(srv.Address, strconv.Itoa(srv.Port)))
	}
	if _, err := url.Parse(target); err != nil {
		return Result{Server: srv, Detail: fmt.Sprintf("invalid URL: %v", err), At: time.Now()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target, nil)
	if err != nil {
		return Result{Server: srv, Detail: fmt.Sprintf("building request: %v", err), At: time.Now()}
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	latency := time.Since(start)
	at := time.Now()

	if err != nil {
		detail := err.Error()
		if probeCtx.Err() == context.DeadlineExceeded {
			detail = fmt.Sprintf("timeout after %v", p.timeout)
		}
		return Result{Server: srv, Detail: detail, At: at}
	}
	defer resp.Body.Close()

	if srv.ExpectStatus != 0 && resp.StatusCode != srv.ExpectStatus {
		return Result{
			Server:  srv,
			Latency: latency,
			Detail:  fmt.Sprintf("status %d, want %d", resp.StatusCode, srv.ExpectStatus),
			At:      at,
		}
	}

	return Result{Server: srv, Up: true, Latency: latency, At: at}
}

// probeTCP attempts a plain TCP connect to address:port.
func (p *Prober) probeTCP(ctx context.Context, srv config.Server) Result {
	addr := net.JoinHostPort(srv.Address, strconv.Itoa(srv.Port))

	dialer := &net.Dialer{Timeout: p.timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	latency := time.Since(start)
	at := time.Now()

	if err != nil {
		return Result{Server: srv, Detail: err.Error(), At: at}
	}
	conn.Close()

	return Result{Server: srv, Up: true, Latency: latency, At: at}
}
