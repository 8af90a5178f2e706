// Command certgen creates the CA, the bot's server certificate and operator
// client certificates for running the bot API with mutual TLS.
//
//	certgen -dir certs -host localhost alice bob
//
// An existing ca.crt/ca.key in dir is reused so new operators can be added
// later without reissuing everything.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atinyakov/GVMBot/internal/certgen"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	dir := fs.String("dir", "certs", "output directory")
	hosts := fs.String("host", "localhost", "comma separated server names or IPs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ca, err := loadOrCreateCA(*dir)
	if err != nil {
		return err
	}

	certPEM, keyPEM, err := ca.IssueServer(strings.Split(*hosts, ",")...)
	if err != nil {
		return err
	}
	if err := certgen.WritePair(*dir, "server", certPEM, keyPEM); err != nil {
		return err
	}

	for _, name := range fs.Args() {
		certPEM, keyPEM, err := ca.IssueOperator(name)
		if err != nil {
			return fmt.Errorf("operator %s: %w", name, err)
		}
		if err := certgen.WritePair(*dir, name, certPEM, keyPEM); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "✅ Certificates generated into %s\n", *dir)
	return nil
}

func loadOrCreateCA(dir string) (*certgen.Authority, error) {
	certPath, keyPath := filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key")
	if _, err := os.Stat(certPath); err == nil {
		return certgen.LoadAuthority(certPath, keyPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	ca, err := certgen.NewAuthority("GVMBot CA")
	if err != nil {
		return nil, err
	}
	certPEM, keyPEM, err := ca.PEM()
	if err != nil {
		return nil, err
	}
	if err := certgen.WritePair(dir, "ca", certPEM, keyPEM); err != nil {
		return nil, err
	}
	return ca, nil
}
