// Package session runs commands on an OmniCube appliance through an
// interactive SSH shell.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/jandubois/omnicube-probe/internal/logger"
)

const (
	DefaultPort      = 22
	DefaultTimeout   = 45 * time.Second
	DefaultEchoLines = 1

	// The escaped "\$" keeps the echo of the PS1 assignment from matching.
	promptCommand = `unset PROMPT_COMMAND; PS1='[OMNICUBE]\$ '`

	// Wide enough that the svt-backup-show echo never wraps.
	terminalColumns = 8192
	terminalRows    = 48
)

// promptMarkers are the renderings of the PS1 above: bash shows "\$" as "#"
// for uid 0.
var promptMarkers = []string{"[OMNICUBE]$ ", "[OMNICUBE]# "}

var (
	// ErrConnection covers dial, handshake, authentication and shell setup.
	ErrConnection = errors.New("appliance connection failed")
	// ErrTimeout is returned when a round trip exceeds the timeout.
	ErrTimeout = errors.New("appliance command timed out")
	// ErrClosed is returned once the shell is gone.
	ErrClosed = errors.New("appliance session closed")
)

// Option configures a Session.
type Option func(*options)

type options struct {
	port       int
	timeout    time.Duration
	knownHosts string
	echoLines  int
	log        logger.Logger
}

// WithPort overrides the SSH port.
func WithPort(port int) Option {
	return func(o *options) {
		if port > 0 {
			o.port = port
		}
	}
}

// WithTimeout bounds the connect/login and every command round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithKnownHosts verifies the appliance host key against a known_hosts file.
func WithKnownHosts(path string) Option {
	return func(o *options) {
		o.knownHosts = path
	}
}

// WithEchoLines sets how many leading lines of every reply are the echoed
// command line.
func WithEchoLines(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.echoLines = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// Session is a logged-in interactive shell on the appliance. It is not safe
// for concurrent use.
type Session struct {
	host   string
	client *ssh.Client
	shell  *ssh.Session
	stdin  io.WriteCloser
	exp    *expecter
	opts   options
	closed bool
}

// Dial connects to host, authenticates and waits for a shell prompt.
func Dial(ctx context.Context, host, user, password string, opts ...Option) (*Session, error) {
	o := options{
		port:      DefaultPort,
		timeout:   DefaultTimeout,
		echoLines: DefaultEchoLines,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	hostKeyCallback, err := o.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	cfg := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         o.timeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(o.port))
	start := time.Now()

	dialer := net.Dialer{Timeout: o.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}
	// Bound the handshake; cleared once the client is up.
	_ = conn.SetDeadline(time.Now().Add(o.timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: ssh login to %s as %s: %v", ErrConnection, addr, user, err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)

	s, err := startShell(client, o)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	s.host = host

	loginCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if _, err := s.roundTrip(loginCtx, promptCommand); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: set shell prompt: %v", ErrConnection, err)
	}

	o.log.Debug("appliance session ready",
		"host", host,
		"port", o.port,
		"elapsed", units.HumanDuration(time.Since(start)),
	)
	return s, nil
}

func (o options) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if o.knownHosts == "" {
		o.log.Warn("appliance host key is not verified; set a known_hosts file to enable checking")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(o.knownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", o.knownHosts, err)
	}
	return cb, nil
}

func startShell(client *ssh.Client, o options) (*Session, error) {
	shell, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	stdin, err := shell.StdinPipe()
	if err != nil {
		shell.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := shell.StdoutPipe()
	if err != nil {
		shell.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := shell.RequestPty("dumb", terminalRows, terminalColumns, modes); err != nil {
		shell.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	if err := shell.Shell(); err != nil {
		shell.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &Session{
		client: client,
		shell:  shell,
		stdin:  stdin,
		exp:    newExpecter(stdout),
		opts:   o,
	}, nil
}

// Run sends command and returns its output with the command echo stripped.
// A timeout closes the session.
func (s *Session) Run(ctx context.Context, command string) (string, error) {
	if s.closed {
		return "", ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	start := time.Now()
	out, err := s.roundTrip(ctx, command)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			s.Close()
		}
		return "", err
	}
	out = stripEcho(out, s.opts.echoLines)

	s.opts.log.Debug("appliance command completed",
		"host", s.host,
		"command", commandName(command),
		"size", units.HumanSize(float64(len(out))),
		"elapsed", units.HumanDuration(time.Since(start)),
	)
	return out, nil
}

func (s *Session) roundTrip(ctx context.Context, command string) (string, error) {
	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return "", fmt.Errorf("%w: send command: %v", ErrClosed, err)
	}
	return s.exp.readUntil(ctx, promptMarkers...)
}

// Close logs out and releases the connection. It is safe to call twice.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	_, _ = io.WriteString(s.stdin, "exit\n")
	s.shell.Close()
	err := s.client.Close()
	s.exp.stop()
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// stripEcho normalizes line endings and drops the first n lines.
func stripEcho(out string, n int) string {
	out = strings.ReplaceAll(out, "\r", "")
	for i := 0; i < n && out != ""; i++ {
		_, rest, found := strings.Cut(out, "\n")
		if !found {
			return ""
		}
		out = rest
	}
	return out
}

func commandName(command string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(command), " ")
	return name
}
