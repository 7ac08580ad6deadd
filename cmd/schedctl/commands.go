package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/VerteraIO/schedclient/internal/logging"
	"github.com/VerteraIO/schedclient/internal/security/pki"
	"github.com/VerteraIO/schedclient/pkg/api"
	"github.com/VerteraIO/schedclient/pkg/auth"
	"github.com/VerteraIO/schedclient/pkg/cluster"
	"github.com/VerteraIO/schedclient/pkg/scheduler"
)

const sessionTTL = 5 * time.Minute

type globalFlags struct {
	clustersFile  string
	cluster       string
	verbose       bool
	bearerToken   string
	sessionSecret string
	user          string
	caCert        string
	clientCert    string
	clientKey     string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "schedctl",
		Short:         "Talk to a scheduler cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := root.PersistentFlags()
	f.StringVar(&g.clustersFile, "clusters", envOr("SCHEDCLIENT_CLUSTERS", "clusters.yaml"), "cluster list (YAML)")
	f.StringVarP(&g.cluster, "cluster", "c", os.Getenv("SCHEDCLIENT_CLUSTER"), "cluster to talk to")
	f.BoolVarP(&g.verbose, "verbose", "v", false, "log debug output")
	f.StringVar(&g.bearerToken, "bearer-token", os.Getenv("SCHEDCLIENT_BEARER_TOKEN"), "token for BEARER clusters")
	f.StringVar(&g.sessionSecret, "session-secret", os.Getenv("SCHEDCLIENT_SESSION_SECRET"), "sign JWT sessions with this secret instead of sending the OS user")
	f.StringVar(&g.user, "user", os.Getenv("USER"), "subject of JWT sessions")
	f.StringVar(&g.caCert, "ca-cert", "", "CA bundle for https clusters")
	f.StringVar(&g.clientCert, "client-cert", "", "client certificate for https clusters")
	f.StringVar(&g.clientKey, "client-key", "", "client key for https clusters")

	root.AddCommand(newURLCmd(g), newCallCmd(g), newMethodsCmd())
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (g *globalFlags) proxy(cmd *cobra.Command) (*scheduler.Proxy, error) {
	if g.cluster == "" {
		return nil, errors.New("no cluster selected, use --cluster")
	}
	clusters, err := cluster.LoadFile(g.clustersFile)
	if err != nil {
		return nil, err
	}
	c, err := clusters.Lookup(g.cluster)
	if err != nil {
		return nil, err
	}

	opts, err := scheduler.OptionsFromEnv()
	if err != nil {
		return nil, err
	}
	opts.UserAgent = "schedctl"
	opts.Logger = logging.New(cmd.ErrOrStderr(), g.verbose)
	opts.AuthFactory = auth.DefaultFactory(func() (string, error) {
		if g.bearerToken == "" {
			return "", errors.New("set --bearer-token or SCHEDCLIENT_BEARER_TOKEN")
		}
		return g.bearerToken, nil
	})
	if g.sessionSecret != "" {
		opts.SessionFactory = auth.JWTSession([]byte(g.sessionSecret), g.user, sessionTTL)
	}
	if g.caCert != "" {
		var pair *pki.Pair
		if g.clientCert != "" {
			pair = &pki.Pair{CertPath: g.clientCert, KeyPath: g.clientKey}
		}
		tlsCfg, err := pki.ClientTLSConfig(g.caCert, pair, "")
		if err != nil {
			return nil, err
		}
		opts.TransportOptions.TLSConfig = tlsCfg
	}
	return scheduler.New(c, opts)
}

func newURLCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print the scheduler URL, and the address RPCs go to when it differs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.proxy(cmd)
			if err != nil {
				return err
			}
			defer p.Close()
			u, err := p.Client().URL(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := p.Client().RawURL(cmd.Context())
			if err != nil {
				return err
			}
			if raw == u {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (leader %s)\n", u, raw)
			}
			return nil
		},
	}
}

// parseArgs reads each RPC argument as a JSON document.
func parseArgs(raw []string) ([]interface{}, error) {
	out := make([]interface{}, 0, len(raw))
	for i, a := range raw {
		if !json.Valid([]byte(a)) {
			return nil, errors.Errorf("argument %d is not valid JSON: %s", i+1, a)
		}
		out = append(out, json.RawMessage(a))
	}
	return out, nil
}

func newCallCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call METHOD [JSON-ARG...]",
		Short: "Invoke a scheduler RPC and print its response",
		Long: "Invoke a scheduler RPC and print its response. Arguments are JSON documents;\n" +
			"the session key of privileged RPCs is added automatically.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rpcArgs, err := parseArgs(args[1:])
			if err != nil {
				return err
			}
			p, err := g.proxy(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			resp, err := p.Call(cmd.Context(), args[0], rpcArgs...)
			if resp != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(resp); encErr != nil {
					return errors.Wrap(encErr, "printing response")
				}
			}
			if err != nil {
				return err
			}
			if resp.ResponseCode != api.ResponseCodeOK {
				return errors.Errorf("%s returned %s", args[0], resp.ResponseCode)
			}
			return nil
		},
	}
}

func newMethodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the scheduler RPCs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, m := range api.Methods() {
				var tags []string
				if m.Session {
					tags = append(tags, "session")
				}
				if m.Admin {
					tags = append(tags, "admin")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s args=%d %s\n", m.Name, m.Args, strings.Join(tags, ","))
			}
			return nil
		},
	}
}
