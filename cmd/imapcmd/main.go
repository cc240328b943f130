// Command imapcmd is a thin CLI wrapper around session/login/jobs,
// out of core, demo only. It opens one session, authenticates, runs a
// single command, and prints the result.
//
// Usage:
//
//	imapcmd HOST[:PORT] USER PASS COMMAND [ARG]
//	imapcmd -config PATH COMMAND [ARG]
//
// -config loads the connection profile (host, port, tls_mode, user,
// password, timeout) from a TOML file via internal/config, in which
// case the positional HOST/USER/PASS are omitted and only COMMAND
// [ARG] remain; -tls/-timeout are then ignored in favor of the file.
//
// COMMAND is one of: capability, noop, select MAILBOX, list,
// delete MAILBOX, logout. search/flags/fetch from the original demo
// harness are not offered: they need a message-data job this module
// does not implement (jobs/ only has the plug-ins grounded on a
// handful of original_source job types, none of which touch message
// bodies or flags).
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"kimapgo/auth/plain"
	"kimapgo/internal/config"
	"kimapgo/job"
	"kimapgo/jobs"
	"kimapgo/login"
	"kimapgo/logger"
	"kimapgo/session"
)

// conn is the resolved connection profile run() drives, whether it
// came from positional args/flags or from a -config TOML file.
type conn struct {
	host, user, pass, tlsMode string
	port, timeoutSeconds      int
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s HOST[:PORT] USER PASS COMMAND [ARG]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "   or: %s -config PATH COMMAND [ARG]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  COMMAND: capability | noop | select MAILBOX | list | delete MAILBOX | logout\n")
	}
	configPath := flag.String("config", "", "path to a TOML connection profile (host/port/tls_mode/user/password/timeout); when set, only COMMAND [ARG] are taken positionally")
	tlsMode := flag.String("tls", "starttls", "TLS mode: none, starttls, or tls (ignored when -config is set)")
	timeout := flag.Int("timeout", 30, "idle watchdog timeout in seconds (ignored when -config is set)")
	flag.Parse()

	c, command, commandArg, err := resolveConn(*configPath, flag.Args(), *tlsMode, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := run(c, command, commandArg, log); err != nil {
		log.Error("imapcmd failed", "err", err)
		os.Exit(1)
	}
}

// resolveConn builds the connection profile and the command to run,
// either from a -config TOML file (host/port/tls_mode/user/password/
// timeout, per kimapgo/internal/config) or from positional
// HOST/USER/PASS plus the -tls/-timeout flags.
func resolveConn(configPath string, args []string, tlsMode string, timeoutSeconds int) (conn, string, string, error) {
	if configPath != "" {
		if len(args) < 1 {
			return conn{}, "", "", fmt.Errorf("imapcmd: -config requires COMMAND [ARG]")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return conn{}, "", "", fmt.Errorf("imapcmd: %w", err)
		}
		mode := cfg.TLSMode
		if mode == "" {
			mode = config.TLSModeStartTLS
		}
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30
		}
		command, arg := args[0], ""
		if len(args) > 1 {
			arg = args[1]
		}
		return conn{
			host:           cfg.Host,
			port:           cfg.EffectivePort(),
			user:           cfg.User,
			pass:           cfg.Password,
			tlsMode:        mode,
			timeoutSeconds: timeout,
		}, command, arg, nil
	}

	if len(args) < 4 {
		return conn{}, "", "", fmt.Errorf("imapcmd: HOST, USER, PASS, and COMMAND are required")
	}
	host, port, err := splitHostPort(args[0], tlsMode)
	if err != nil {
		return conn{}, "", "", err
	}
	command, arg := args[3], ""
	if len(args) > 4 {
		arg = args[4]
	}
	return conn{
		host:           host,
		port:           port,
		user:           args[1],
		pass:           args[2],
		tlsMode:        tlsMode,
		timeoutSeconds: timeoutSeconds,
	}, command, arg, nil
}

func run(c conn, command, commandArg string, log *slog.Logger) error {
	netConn, err := dial(c.host, c.port, c.tlsMode)
	if err != nil {
		return fmt.Errorf("imapcmd: connect to %s:%d: %w", c.host, c.port, err)
	}

	sink, closer := logger.FromEnv()
	if closer != nil {
		defer closer.Close()
	}

	sess := session.New(netConn, log, sink)
	sess.SetTimeout(c.timeoutSeconds)
	sess.Run()

	lj := login.New(login.Options{
		Host:     c.host,
		StartTLS: c.tlsMode == "starttls",
		Mechanism: &plain.ClientMechanism{
			Username: c.user,
			Password: c.pass,
		},
	})
	sess.Submit(lj)
	<-lj.Done()
	if res := lj.Result(); res.Status != job.StatusOk {
		sess.Close()
		return fmt.Errorf("imapcmd: login: %s", res)
	}

	j, err := buildJob(command, commandArg)
	if err != nil {
		sess.Close()
		return err
	}

	sess.Submit(j)
	<-j.Done()
	res := j.Result()
	printResult(j, res)
	sess.Close()

	if res.Status != job.StatusOk {
		return fmt.Errorf("imapcmd: %s: %s", command, res)
	}
	return nil
}

func buildJob(command, arg string) (job.Job, error) {
	switch strings.ToLower(command) {
	case "capability":
		return jobs.NewCapability(), nil
	case "noop":
		return jobs.NewNoop(), nil
	case "logout":
		return jobs.NewLogout(), nil
	case "list":
		return jobs.NewList(false), nil
	case "select":
		if arg == "" {
			return nil, fmt.Errorf("imapcmd: select requires a mailbox argument")
		}
		return jobs.NewSelect(arg, false), nil
	case "delete":
		if arg == "" {
			return nil, fmt.Errorf("imapcmd: delete requires a mailbox argument")
		}
		return jobs.NewDelete(arg), nil
	default:
		return nil, fmt.Errorf("imapcmd: unknown command %q", command)
	}
}

func printResult(j job.Job, res job.Result) {
	switch v := j.(type) {
	case *jobs.Capability:
		fmt.Println(strings.Join(v.Capabilities(), " "))
	case *jobs.Select:
		fmt.Printf("exists=%d recent=%d flags=%v\n", v.Exists(), v.Recent(), v.Flags())
	case *jobs.List:
		for _, m := range v.Results() {
			fmt.Printf("%s %c %v\n", m.Name, m.Separator, m.Flags)
		}
	default:
		fmt.Println(res)
	}
}

func splitHostPort(hostport, tlsMode string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port given: default it from the TLS mode.
		return hostport, defaultPort(tlsMode), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("imapcmd: invalid port %q", portStr)
	}
	return host, port, nil
}

func defaultPort(tlsMode string) int {
	if tlsMode == "tls" {
		return 993
	}
	return 143
}

func dial(host string, port int, tlsMode string) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: 30 * time.Second}
	if tlsMode == "tls" {
		return tls.DialWithDialer(&d, "tcp", addr, &tls.Config{ServerName: host})
	}
	return d.Dial("tcp", addr)
}
