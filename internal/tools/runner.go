// Package tools wraps the external reconnaissance command-line tools the
// agent can invoke. Every wrapper returns the fixed Result shape: failures
// are values with Status "error", never Go errors, so the agent can log and
// merge results uniformly.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ServiceInfo is a service identified by a scan.
type ServiceInfo struct {
	Port    int    `json:"port"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Result is the fixed shape every tool returns. The persistence layer only
// ever reads Status, OpenPorts and Services; the rest of the payload is for
// the agent and the message log.
type Result struct {
	Status       string        `json:"status"`
	Tool         string        `json:"tool"`
	Command      string        `json:"command,omitempty"`
	Output       string        `json:"result,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	OpenPorts    []int         `json:"open_ports,omitempty"`
	Services     []ServiceInfo `json:"services,omitempty"`
}

// execFunc runs a command and returns its stdout and stderr. Injectable for
// tests.
type execFunc func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

// Runner invokes external tools with a shared rate limiter and a per-command
// timeout.
type Runner struct {
	limiter *rate.Limiter
	timeout time.Duration
	run     execFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout sets the per-command timeout (default 120s).
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithMaxRPS caps how many commands may start per second (default 1).
func WithMaxRPS(rps float64) RunnerOption {
	return func(r *Runner) { r.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithExecutor replaces the command executor (used in tests).
func WithExecutor(fn execFunc) RunnerOption {
	return func(r *Runner) { r.run = fn }
}

// NewRunner creates a runner with the given options.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		timeout: 120 * time.Second,
		run:     runCommand,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runCommand is the real executor.
func runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// invoke paces, times out and executes one command, mapping every failure
// mode into the Result shape.
func (r *Runner) invoke(ctx context.Context, tool string, name string, args ...string) *Result {
	command := name + " " + strings.Join(args, " ")

	if err := r.limiter.Wait(ctx); err != nil {
		return &Result{Status: StatusError, Tool: tool, Command: command,
			ErrorMessage: fmt.Sprintf("cancelled while waiting for rate limiter: %v", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stdout, stderr, err := r.run(runCtx, name, args...)
	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{Status: StatusError, Tool: tool, Command: command,
			ErrorMessage: fmt.Sprintf("%s exceeded the %s timeout", name, r.timeout)}
	}
	if err != nil {
		msg := stderr
		if msg == "" {
			msg = err.Error()
		}
		return &Result{Status: StatusError, Tool: tool, Command: command, ErrorMessage: msg}
	}

	return &Result{Status: StatusSuccess, Tool: tool, Command: command, Output: stdout}
}

// NmapScan runs a port scan against target. flags defaults to "-sV" when
// empty. Open ports and identified services are parsed from the output into
// the declared result fields.
func (r *Runner) NmapScan(ctx context.Context, target, flags string) *Result {
	if target == "" {
		return &Result{Status: StatusError, Tool: "nmap", ErrorMessage: "target is required"}
	}
	if flags == "" {
		flags = "-sV"
	}
	args := append(strings.Fields(flags), target)
	res := r.invoke(ctx, "nmap", "nmap", args...)
	if res.Status == StatusSuccess {
		res.OpenPorts, res.Services = parseNmapOutput(res.Output)
	}
	return res
}

// PingCheck verifies a host responds to ICMP.
func (r *Runner) PingCheck(ctx context.Context, target string, count int) *Result {
	if target == "" {
		return &Result{Status: StatusError, Tool: "ping", ErrorMessage: "target is required"}
	}
	if count <= 0 {
		count = 4
	}
	return r.invoke(ctx, "ping", "ping", "-c", fmt.Sprintf("%d", count), target)
}

// GobusterDir brute-forces web directories against targetURL.
func (r *Runner) GobusterDir(ctx context.Context, targetURL, wordlist string, threads int) *Result {
	if targetURL == "" {
		return &Result{Status: StatusError, Tool: "gobuster", ErrorMessage: "target URL is required"}
	}
	if wordlist == "" {
		wordlist = "/usr/share/wordlists/dirb/common.txt"
	}
	if threads <= 0 {
		threads = 10
	}
	return r.invoke(ctx, "gobuster", "gobuster",
		"dir", "-u", targetURL, "-w", wordlist, "-t", fmt.Sprintf("%d", threads), "-q")
}

// WhoisLookup queries registration data for a domain.
func (r *Runner) WhoisLookup(ctx context.Context, domain string) *Result {
	if domain == "" {
		return &Result{Status: StatusError, Tool: "whois", ErrorMessage: "domain is required"}
	}
	return r.invoke(ctx, "whois", "whois", domain)
}

// DNSLookup resolves records for a domain. recordType defaults to "A".
func (r *Runner) DNSLookup(ctx context.Context, domain, recordType string) *Result {
	if domain == "" {
		return &Result{Status: StatusError, Tool: "dig", ErrorMessage: "domain is required"}
	}
	if recordType == "" {
		recordType = "A"
	}
	return r.invoke(ctx, "dig", "dig", "+short", domain, recordType)
}

// SearchExploit queries the local exploit database for a keyword.
func (r *Runner) SearchExploit(ctx context.Context, keyword string) *Result {
	if keyword == "" {
		return &Result{Status: StatusError, Tool: "searchsploit", ErrorMessage: "keyword is required"}
	}
	return r.invoke(ctx, "searchsploit", "searchsploit", keyword)
}
