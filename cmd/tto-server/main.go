// Command tto-server runs a standalone game server endpoint: it loads the
// issuer key file, binds a UDP socket (or a WebSocket bridge), ticks the
// protocol at the packet send rate, and echoes payloads back to their
// sender. Metrics are exposed over HTTP when -metrics is set.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/oniproject/tto/controlplane/issuer"
	"github.com/oniproject/tto/endpoint"
	"github.com/oniproject/tto/internal/cmdutil"
	ttoversion "github.com/oniproject/tto/internal/version"
	"github.com/oniproject/tto/netcode"
	"github.com/oniproject/tto/observability/prom"
	"github.com/oniproject/tto/transport"
	"github.com/oniproject/tto/transport/ws"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	showVersion := false

	listen := cmdutil.EnvString("TTO_SERVER_LISTEN", "127.0.0.1:40000")
	keyFile := cmdutil.EnvString("TTO_SERVER_KEY_FILE", "tto_key.json")
	protocolStr := cmdutil.EnvString("TTO_SERVER_PROTOCOL", "0x1122334455667788")
	metricsAddr := cmdutil.EnvString("TTO_SERVER_METRICS", "")
	wsAddr := cmdutil.EnvString("TTO_SERVER_WS", "")
	capacity, err := cmdutil.EnvInt("TTO_SERVER_CAPACITY", endpoint.DefaultCapacity)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	fs := flag.NewFlagSet("tto-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&listen, "listen", listen, "UDP listen address (env: TTO_SERVER_LISTEN)")
	fs.StringVar(&keyFile, "key-file", keyFile, "issuer private key file (env: TTO_SERVER_KEY_FILE)")
	fs.StringVar(&protocolStr, "protocol", protocolStr, "protocol id, decimal or 0x-hex (env: TTO_SERVER_PROTOCOL)")
	fs.StringVar(&metricsAddr, "metrics", metricsAddr, "HTTP address for Prometheus metrics, empty disables (env: TTO_SERVER_METRICS)")
	fs.StringVar(&wsAddr, "ws", wsAddr, "serve a WebSocket datagram bridge on this HTTP address instead of UDP (env: TTO_SERVER_WS)")
	fs.IntVar(&capacity, "capacity", capacity, "connection table capacity (env: TTO_SERVER_CAPACITY)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, ttoversion.String(version, commit, date))
		return 0
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: stderr}).With().Timestamp().Logger()

	protocol, err := strconv.ParseUint(protocolStr, 0, 64)
	if err != nil {
		log.Error().Err(err).Msg("bad -protocol")
		return 2
	}
	keys, err := issuer.LoadPrivateKeyFile(keyFile)
	if err != nil {
		log.Error().Err(err).Str("key_file", keyFile).Msg("cannot load issuer key")
		return 1
	}

	var conn transport.Conn
	if wsAddr != "" {
		local, err := netip.ParseAddrPort(listen)
		if err != nil {
			log.Error().Err(err).Msg("bad -listen")
			return 2
		}
		bridge := ws.NewBridge(local)
		conn = bridge
		go func() {
			if err := http.ListenAndServe(wsAddr, bridge.Handler()); err != nil {
				log.Error().Err(err).Msg("ws bridge stopped")
			}
		}()
		log.Info().Str("ws", wsAddr).Msg("serving WebSocket bridge")
	} else {
		udp, err := transport.ListenUDP(listen)
		if err != nil {
			log.Error().Err(err).Str("listen", listen).Msg("cannot bind")
			return 1
		}
		conn = udp
	}
	defer func() { _ = conn.Close() }()

	opts := []endpoint.Option{
		endpoint.WithLogger(log),
		endpoint.WithCapacity(capacity),
	}
	if metricsAddr != "" {
		reg := prom.NewRegistry()
		opts = append(opts, endpoint.WithObserver(prom.NewServerObserver(reg)))
		go func() {
			if err := http.ListenAndServe(metricsAddr, prom.Handler(reg)); err != nil {
				log.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
		log.Info().Str("metrics", metricsAddr).Msg("serving metrics")
	}

	srv, err := endpoint.New(protocol, keys.Key(), conn, opts...)
	if err != nil {
		log.Error().Err(err).Msg("cannot start server")
		return 1
	}
	log.Info().Str("listen", listen).Str("protocol", protocolStr).Msg("serving")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(netcode.PacketSendDelta)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			log.Info().Msg("shutting down")
			return 0
		case <-ticker.C:
			srv.Update()
			// Echo server: every payload goes straight back.
			for {
				peer, payload, ok := srv.Recv()
				if !ok {
					break
				}
				if err := srv.Send(peer, payload); err != nil {
					log.Debug().Err(err).Stringer("peer", peer).Msg("echo failed")
				}
			}
		}
	}
}
