// Command client is the operator CLI of the bot API.
package main

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atinyakov/GVMBot/internal/client"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

type globalFlags struct {
	baseURL  string
	callerID string
	name     string
	certFile string
	keyFile  string
	caFile   string
}

func newClient(f *globalFlags) (*client.Client, error) {
	if f.callerID == "" {
		return nil, fmt.Errorf("--caller is required")
	}
	if f.certFile == "" {
		return client.New(f.baseURL, f.callerID, f.name, nil), nil
	}
	hc, err := client.LoadClientCertificate(f.certFile, f.keyFile, f.caFile)
	if err != nil {
		return nil, err
	}
	return client.New(f.baseURL, f.callerID, f.name, hc), nil
}

func newRootCmd() *cobra.Command {
	f := &globalFlags{}
	root := &cobra.Command{
		Use:           "gvmbot-cli",
		Short:         "CLI for the GVM VPS bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.baseURL, "url", "http://localhost:8080", "URL of the bot API")
	root.PersistentFlags().StringVar(&f.callerID, "caller", os.Getenv("GVMBOT_CALLER"), "chat id to act as")
	root.PersistentFlags().StringVar(&f.name, "name", "", "display name sent with commands")
	root.PersistentFlags().StringVar(&f.certFile, "cert", "", "client certificate for mutual TLS")
	root.PersistentFlags().StringVar(&f.keyFile, "key", "", "client key for mutual TLS")
	root.PersistentFlags().StringVar(&f.caFile, "ca", "certs/ca.crt", "CA certificate of the server")

	root.AddCommand(
		&cobra.Command{
			Use:   "send <command...>",
			Short: "Run one bot command, e.g. send '!listvps'",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newClient(f)
				if err != nil {
					return err
				}
				_, err = c.Send(cmd.Context(), strings.Join(args, " "), printTo(cmd.OutOrStdout()))
				return err
			},
		},
		&cobra.Command{
			Use:   "press <menuID> <trigger>",
			Short: "Press a button of a menu opened with !manage",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newClient(f)
				if err != nil {
					return err
				}
				_, err = c.Press(cmd.Context(), args[0], args[1], printTo(cmd.OutOrStdout()))
				return err
			},
		},
		&cobra.Command{
			Use:   "shell",
			Short: "Interactive session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := newClient(f)
				if err != nil {
					return err
				}
				repl(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout())
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show build version and date",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "GVMBot CLI\nVersion: %s\nBuild Date: %s\n",
					cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
			},
		},
	)
	return root
}

// repl reads commands until EOF or "exit". "press <menuID> <trigger>"
// presses a menu button; anything else is sent as a bot command.
func repl(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "gvmbot> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return
		}
		line := strings.TrimSpace(scanner.Text())
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}

		var err error
		switch args[0] {
		case "exit", "quit":
			fmt.Fprintln(out, "Bye")
			return
		case "press":
			if len(args) != 3 {
				fmt.Fprintln(out, "Usage: press <menuID> <trigger>")
				continue
			}
			_, err = c.Press(ctx, args[1], args[2], printTo(out))
		default:
			_, err = c.Send(ctx, line, printTo(out))
		}
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
}

// printTo renders replies while the command is still running, so the
// placeholder of a slow create shows up before its result.
func printTo(w io.Writer) func(client.Event) {
	return func(e client.Event) { client.PrintEvent(w, e) }
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
