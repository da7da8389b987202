// Command tto-tokengen mints a public connect token for one client against
// an issuer key file. The token is written as raw wire bytes, ready to hand
// to a client over the matchmaker's own channel.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oniproject/tto/controlplane/issuer"
	"github.com/oniproject/tto/internal/cmdutil"
	"github.com/oniproject/tto/internal/securefile"
	ttoversion "github.com/oniproject/tto/internal/version"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type ready struct {
	Version   string   `json:"version"`
	TokenFile string   `json:"token_file"`
	ClientID  uint64   `json:"client_id"`
	Protocol  string   `json:"protocol"`
	Expire    string   `json:"expire"`
	Timeout   uint32   `json:"timeout_seconds"`
	Addrs     []string `json:"server_addrs"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	showVersion := false

	keyFile := cmdutil.EnvString("TTO_TOKENGEN_KEY_FILE", "tto_key.json")
	outFile := cmdutil.EnvString("TTO_TOKENGEN_OUT_FILE", "connect_token.bin")
	protocolStr := cmdutil.EnvString("TTO_TOKENGEN_PROTOCOL", "0x1122334455667788")
	addrsStr := cmdutil.EnvString("TTO_TOKENGEN_ADDRS", "")
	var clientID uint64
	var timeoutSecs uint
	expire, err := cmdutil.EnvDuration("TTO_TOKENGEN_EXPIRE", 30*time.Second)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	var overwrite bool

	fs := flag.NewFlagSet("tto-tokengen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&keyFile, "key-file", keyFile, "issuer private key file (env: TTO_TOKENGEN_KEY_FILE)")
	fs.StringVar(&outFile, "out", outFile, "output file for the token bytes (env: TTO_TOKENGEN_OUT_FILE)")
	fs.Uint64Var(&clientID, "client-id", 0, "client id the token authorizes")
	fs.StringVar(&protocolStr, "protocol", protocolStr, "protocol id, decimal or 0x-hex (env: TTO_TOKENGEN_PROTOCOL)")
	fs.DurationVar(&expire, "expire", expire, "token lifetime (env: TTO_TOKENGEN_EXPIRE)")
	fs.UintVar(&timeoutSecs, "timeout", 15, "connection keep-alive timeout in seconds")
	fs.StringVar(&addrsStr, "addrs", addrsStr, "comma-separated server addresses, e.g. 127.0.0.1:40000 (env: TTO_TOKENGEN_ADDRS)")
	fs.BoolVar(&overwrite, "overwrite", false, "overwrite an existing token file")
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

	protocol, err := strconv.ParseUint(protocolStr, 0, 64)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bad -protocol: %v\n", err)
		return 2
	}
	var addrs []netip.AddrPort
	for _, raw := range strings.Split(addrsStr, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ap, err := netip.ParseAddrPort(raw)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "bad -addrs entry %q: %v\n", raw, err)
			return 2
		}
		addrs = append(addrs, ap)
	}
	if len(addrs) == 0 {
		_, _ = fmt.Fprintln(stderr, "at least one -addrs entry is required")
		return 2
	}
	if err := cmdutil.RefuseOverwrite(outFile, overwrite); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		if cmdutil.IsUsage(err) {
			return 2
		}
		return 1
	}

	keys, err := issuer.LoadPrivateKeyFile(keyFile)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	tok, err := keys.Mint(issuer.MintParams{
		ClientID:    clientID,
		Protocol:    protocol,
		Expire:      expire,
		TimeoutSecs: uint32(timeoutSecs),
		Addrs:       addrs,
	})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	wire, err := tok.Marshal()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	if err := securefile.WriteFileAtomic(outFile, wire[:], 0o600); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}

	addrStrs := make([]string, len(addrs))
	for i, a := range addrs {
		addrStrs[i] = a.String()
	}
	_ = cmdutil.WriteJSON(stdout, ready{
		Version:   ttoversion.String(version, commit, date),
		TokenFile: outFile,
		ClientID:  clientID,
		Protocol:  fmt.Sprintf("%#x", protocol),
		Expire:    expire.String(),
		Timeout:   uint32(timeoutSecs),
		Addrs:     addrStrs,
	}, false)
	return 0
}
