// Command spsctl is the CLI façade around the spscale library: enough
// to stand up one socket or one forwarding device from the shell,
// without any program importing spscale directly. Flags cover the
// common case; a TOML topology file covers standing up a device with
// two endpoints in one invocation.
package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/kingpin"

	"github.com/spscale/spscale"
	"github.com/spscale/spscale/spslog"
)

var (
	app = kingpin.New("spsctl", "Run a scalability-protocols socket or forwarding device.")

	socketType = app.Flag("type", "socket type: pair, pub, sub, req, rep, push, pull, surveyor, respondent, bus").
			Short('t').String()
	bindURL    = app.Flag("bind", "bind endpoint, e.g. tcp://:5555").String()
	connectURL = app.Flag("connect", "connect endpoint, e.g. tcp://localhost:5555").String()
	mode       = app.Flag("mode", "send (stdin lines -> socket) or recv (socket -> stdout)").Default("recv").String()
	configFile = app.Flag("config", "TOML topology file describing a device to run instead of a single socket").String()
)

// topology is the TOML schema for --config: a two-endpoint forwarding
// device, grounded on original_source's Device (core/device.rs).
type topology struct {
	Left  endpointSpec `toml:"left"`
	Right endpointSpec `toml:"right"`
	// IdleTimeout bounds how long a direction's Recv may block before
	// Device checks for shutdown; zero means block indefinitely.
	IdleTimeout string `toml:"idle_timeout"`
}

type endpointSpec struct {
	Type    string `toml:"type"`
	Bind    string `toml:"bind"`
	Connect string `toml:"connect"`
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log := spslog.New("spsctl")
	sess := spscale.NewSession(spscale.Config{Log: log})
	defer sess.Shutdown()

	if *configFile != "" {
		if err := runTopology(sess, *configFile); err != nil {
			fmt.Fprintln(os.Stderr, "spsctl:", err)
			os.Exit(1)
		}
		return
	}

	if *socketType == "" {
		fmt.Fprintln(os.Stderr, "spsctl: --type is required unless --config is given")
		os.Exit(2)
	}

	sock, err := newSocket(sess, *socketType)
	if err != nil {
		fmt.Fprintln(os.Stderr, "spsctl:", err)
		os.Exit(1)
	}
	if err := connectOrBind(sock, *bindURL, *connectURL); err != nil {
		fmt.Fprintln(os.Stderr, "spsctl:", err)
		os.Exit(1)
	}

	switch *mode {
	case "send":
		runSend(sock)
	case "recv":
		runRecv(sock)
	default:
		fmt.Fprintf(os.Stderr, "spsctl: unknown --mode %q\n", *mode)
		os.Exit(2)
	}
}

func newSocket(sess *spscale.Session, kind string) (*spscale.Socket, error) {
	switch kind {
	case "pair":
		return sess.NewPair(), nil
	case "pub":
		return sess.NewPub(), nil
	case "sub":
		return sess.NewSub(), nil
	case "req":
		return sess.NewReq(), nil
	case "rep":
		return sess.NewRep(), nil
	case "push":
		return sess.NewPush(), nil
	case "pull":
		return sess.NewPull(), nil
	case "surveyor":
		return sess.NewSurveyor(), nil
	case "respondent":
		return sess.NewRespondent(), nil
	case "bus":
		return sess.NewBus(), nil
	default:
		return nil, fmt.Errorf("unknown socket type %q", kind)
	}
}

func connectOrBind(sock *spscale.Socket, bind, connect string) error {
	if bind == "" && connect == "" {
		return fmt.Errorf("one of --bind or --connect is required")
	}
	if bind != "" {
		if err := sock.Bind(bind); err != nil {
			return err
		}
	}
	if connect != "" {
		if err := sock.Connect(connect); err != nil {
			return err
		}
	}
	return nil
}

func runSend(sock *spscale.Socket) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := sock.Send(scanner.Bytes()); err != nil {
			fmt.Fprintln(os.Stderr, "spsctl: send:", err)
			os.Exit(1)
		}
	}
}

func runRecv(sock *spscale.Socket) {
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	for {
		body, err := sock.Recv()
		if err != nil {
			fmt.Fprintln(os.Stderr, "spsctl: recv:", err)
			os.Exit(1)
		}
		out.Write(body)
		out.WriteByte('\n')
		out.Flush()
	}
}

func runTopology(sess *spscale.Session, path string) error {
	var top topology
	if _, err := toml.DecodeFile(path, &top); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	left, err := newSocket(sess, top.Left.Type)
	if err != nil {
		return fmt.Errorf("left endpoint: %w", err)
	}
	if err := connectOrBind(left, top.Left.Bind, top.Left.Connect); err != nil {
		return fmt.Errorf("left endpoint: %w", err)
	}

	right, err := newSocket(sess, top.Right.Type)
	if err != nil {
		return fmt.Errorf("right endpoint: %w", err)
	}
	if err := connectOrBind(right, top.Right.Bind, top.Right.Connect); err != nil {
		return fmt.Errorf("right endpoint: %w", err)
	}

	var idle time.Duration
	if top.IdleTimeout != "" {
		idle, err = time.ParseDuration(top.IdleTimeout)
		if err != nil {
			return fmt.Errorf("idle_timeout: %w", err)
		}
	}

	dev := spscale.NewDevice(left, right, idle)
	return dev.Run()
}
