// Command tto-keygen generates the issuer's long-term private key file
// shared between the token issuer and the game servers.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

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
	Version string `json:"version"`
	KeyFile string `json:"key_file"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	showVersion := false

	outDir := cmdutil.EnvString("TTO_KEYGEN_OUT_DIR", ".")
	keyFile := cmdutil.EnvString("TTO_KEYGEN_KEY_FILE", "")
	var overwrite bool

	fs := flag.NewFlagSet("tto-keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&outDir, "out-dir", outDir, "output directory (env: TTO_KEYGEN_OUT_DIR)")
	fs.StringVar(&keyFile, "key-file", keyFile, "output file for the private key (default: <out-dir>/tto_key.json) (env: TTO_KEYGEN_KEY_FILE)")
	fs.BoolVar(&overwrite, "overwrite", false, "overwrite an existing key file")
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

	if keyFile == "" {
		keyFile = filepath.Join(outDir, "tto_key.json")
	}
	if err := cmdutil.RefuseOverwrite(keyFile, overwrite); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		if cmdutil.IsUsage(err) {
			return 2
		}
		return 1
	}
	if err := securefile.MkdirAllOwnerOnly(filepath.Dir(keyFile)); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}

	keys, err := issuer.Generate()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	if err := keys.WritePrivateKeyFile(keyFile); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}

	_ = cmdutil.WriteJSON(stdout, ready{
		Version: ttoversion.String(version, commit, date),
		KeyFile: keyFile,
	}, false)
	return 0
}
