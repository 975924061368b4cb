// Command qb is the thin CLI front-end for the quixbyte daemon: every
// subcommand opens a connection to the control socket qbd serves, sends
// one Request, and prints the Response, grounded on cmd/muscle/muscle.go's
// flag-set-per-subcommand dispatcher and exit-code discipline.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/nicolagi/quixbyte/internal/control"
	"github.com/nicolagi/quixbyte/internal/qbconfig"
	log "github.com/sirupsen/logrus"
)

var globalContext struct {
	base     string
	logLevel string
}

var addContext struct {
	network   string
	address   string
	useTLS    bool
	authToken string
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&globalContext.base, "base", qbconfig.DefaultBaseDirectoryPath, "`directory` for configuration and internal state")
	var levels []string
	for _, l := range log.AllLevels {
		levels = append(levels, l.String())
	}
	fs.StringVar(&globalContext.logLevel, "verbosity", "warning", "sets the log `level`, among "+strings.Join(levels, ", "))
	return fs
}

func exitUsage(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	_, _ = fmt.Fprintf(os.Stderr, `Usage: %s COMMAND [ARGS]

Commands:

	list: list every interface currently attached to the daemon
	add <name>: attach a new tcp-client interface, named name, to the daemon
	     (the only interface kind addable after startup; the local watcher
	     and any configured tcp-server are attached by qbd itself at startup)

		-network, -address: where to dial
		-tls: use TLS for the connection
		-token: pre-shared auth token to present to the peer

	rm <id>: detach and forget the interface with the given hex id
	start <id>: no-op, kept for control protocol symmetry with stop
	stop <id>: detach the interface with the given hex id
	init: bootstraps configuration under -base
`, os.Args[0])
	os.Exit(2)
}

func main() {
	listFlags := newFlagSet("list")
	rmFlags := newFlagSet("rm")
	startFlags := newFlagSet("start")
	stopFlags := newFlagSet("stop")
	initFlags := newFlagSet("init")

	addFlags := newFlagSet("add")
	addFlags.StringVar(&addContext.network, "network", "tcp", "`network` to dial, e.g. tcp")
	addFlags.StringVar(&addContext.address, "address", "", "peer `address` to dial")
	addFlags.BoolVar(&addContext.useTLS, "tls", false, "use TLS for this connection")
	addFlags.StringVar(&addContext.authToken, "token", "", "pre-shared auth `token` to present to the peer")

	if len(os.Args) < 2 {
		exitUsage("command name required")
	}

	var targetID uint64
	switch cmd := os.Args[1]; cmd {
	case "list":
		_ = listFlags.Parse(os.Args[2:])
	case "add":
		_ = addFlags.Parse(os.Args[2:])
		if addFlags.NArg() != 1 {
			exitUsage("add: exactly one name argument required")
		}
	case "rm":
		_ = rmFlags.Parse(os.Args[2:])
		targetID = mustParseID(rmFlags, "rm")
	case "start":
		_ = startFlags.Parse(os.Args[2:])
		targetID = mustParseID(startFlags, "start")
	case "stop":
		_ = stopFlags.Parse(os.Args[2:])
		targetID = mustParseID(stopFlags, "stop")
	case "init":
		_ = initFlags.Parse(os.Args[2:])
		if initFlags.NArg() != 0 {
			exitUsage("init: no args expected")
		}
	default:
		exitUsage(fmt.Sprintf("%q: command not recognized", cmd))
	}

	log.SetOutput(os.Stderr)
	ll, err := log.ParseLevel(globalContext.logLevel)
	if err != nil {
		fail("could not parse log level %q: %v", globalContext.logLevel, err)
	}
	log.SetLevel(ll)

	if os.Args[1] == "init" {
		if err := qbconfig.Initialize(globalContext.base); err != nil {
			fail("could not initialize config in %q: %v", globalContext.base, err)
		}
		return
	}

	cfg, err := qbconfig.Load(globalContext.base)
	if err != nil {
		fail("could not load config from %q: %v", globalContext.base, err)
	}

	var req control.Request
	switch os.Args[1] {
	case "list":
		req = control.Request{Kind: control.ReqList}
	case "add":
		spec := control.AttachSpec{
			Kind:      "tcp-client",
			Network:   addContext.network,
			Address:   addContext.address,
			UseTLS:    addContext.useTLS,
			AuthToken: addContext.authToken,
		}
		blob, err := control.EncodeAttachSpec(spec)
		if err != nil {
			fail("could not encode interface spec: %v", err)
		}
		req = control.Request{Kind: control.ReqAdd, Name: addFlags.Arg(0), Blob: blob}
	case "rm":
		req = control.Request{Kind: control.ReqRemove, ID: targetID}
	case "start":
		req = control.Request{Kind: control.ReqStart, ID: targetID}
	case "stop":
		req = control.Request{Kind: control.ReqStop, ID: targetID}
	}

	resp, err := roundTrip(cfg, req)
	if err != nil {
		fail("%v", err)
	}
	switch resp.Kind {
	case control.RespError:
		fail("%s", resp.Message)
	case control.RespList:
		for _, e := range resp.Entries {
			fmt.Printf("%016x\t%s\tattached=%t\n", e.ID, e.Kind, e.Attached)
		}
	case control.RespSuccess:
		// Nothing to print; exit code 0 is the whole signal.
	}
}

func mustParseID(fs *flag.FlagSet, cmd string) uint64 {
	if fs.NArg() != 1 {
		exitUsage(fmt.Sprintf("%s: exactly one id argument required", cmd))
	}
	id, err := strconv.ParseUint(fs.Arg(0), 16, 64)
	if err != nil {
		exitUsage(fmt.Sprintf("%s: %q is not a valid hex id", cmd, fs.Arg(0)))
	}
	return id
}

func roundTrip(cfg *qbconfig.C, req control.Request) (control.Response, error) {
	conn, err := net.Dial(cfg.ControlNet, cfg.ControlAddr)
	if err != nil {
		return control.Response{}, fmt.Errorf("connecting to daemon at %s %s: %w", cfg.ControlNet, cfg.ControlAddr, err)
	}
	defer func() { _ = conn.Close() }()

	if err := control.WriteRequest(conn, req); err != nil {
		return control.Response{}, fmt.Errorf("sending request: %w", err)
	}
	resp, err := control.ReadResponse(bufio.NewReader(conn))
	if err != nil {
		return control.Response{}, fmt.Errorf("reading response: %w", err)
	}
	return resp, nil
}

func fail(format string, a ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
