// Command schedsim runs a simulated scheduler replica for local development
// and client testing.
package main

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/VerteraIO/schedclient/internal/logging"
	"github.com/VerteraIO/schedclient/internal/schedsim"
	"github.com/VerteraIO/schedclient/internal/security/pki"
	"github.com/VerteraIO/schedclient/pkg/cluster"
	"github.com/VerteraIO/schedclient/pkg/registry"
)

type config struct {
	httpAddr      string
	grpcAddr      string
	clusterName   string
	sessionSecret string
	bearerToken   string
	pkiDir        string
	registry      []string
	registryPath  string
	advertiseHost string
	announce      string
	ttl           time.Duration
	verbose       bool
}

func main() {
	var cfg config
	cmd := &cobra.Command{
		Use:           "schedsim",
		Short:         "Run a simulated scheduler replica",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.httpAddr, "http-addr", ":8081", "address serving the HTTP API")
	f.StringVar(&cfg.grpcAddr, "grpc-addr", "", "address serving the gRPC API (disabled when empty)")
	f.StringVar(&cfg.clusterName, "cluster-name", "devcluster", "cluster name reported to clients")
	f.StringVar(&cfg.sessionSecret, "session-secret", os.Getenv("SCHEDSIM_SESSION_SECRET"), "require JWT sessions signed with this secret")
	f.StringVar(&cfg.bearerToken, "bearer-token", os.Getenv("SCHEDSIM_BEARER_TOKEN"), "require this bearer token on every request")
	f.StringVar(&cfg.pkiDir, "pki-dir", "", "serve TLS with certificates issued from a CA kept in this directory")
	f.StringSliceVar(&cfg.registry, "registry", nil, "registry addresses (host:port) to announce in")
	f.StringVar(&cfg.registryPath, "registry-path", cluster.DefaultRegistryPath, "registry path to announce under")
	f.StringVar(&cfg.advertiseHost, "advertise-host", "127.0.0.1", "host published in the registry")
	f.StringVar(&cfg.announce, "announce", cluster.TransportHTTP, "which API to publish in the registry (http or grpc)")
	f.DurationVar(&cfg.ttl, "ttl", 10*time.Second, "registry record TTL")
	f.BoolVarP(&cfg.verbose, "verbose", "v", false, "log debug output")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		level.Error(logging.New(os.Stderr, false)).Log("msg", "schedsim failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	logger := logging.New(os.Stderr, cfg.verbose)
	if len(cfg.registry) > 0 && cfg.announce == cluster.TransportGRPC && cfg.grpcAddr == "" {
		return errors.New("--announce grpc needs --grpc-addr")
	}

	sim := schedsim.New(schedsim.Config{
		ClusterName:   cfg.clusterName,
		SessionSecret: []byte(cfg.sessionSecret),
		BearerToken:   cfg.bearerToken,
		Logger:        log.With(logger, "component", "scheduler"),
	})

	var tlsCfg *tls.Config
	if cfg.pkiDir != "" {
		var err error
		if tlsCfg, err = serverTLS(cfg.pkiDir, cfg.advertiseHost); err != nil {
			return err
		}
	}

	httpLis, err := net.Listen("tcp", cfg.httpAddr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", cfg.httpAddr)
	}
	var grpcLis net.Listener
	if cfg.grpcAddr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.grpcAddr); err != nil {
			return errors.Wrapf(err, "listening on %s", cfg.grpcAddr)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{Handler: schedsim.NewServer(sim), TLSConfig: tlsCfg, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		level.Info(logger).Log("msg", "serving HTTP API", "addr", httpLis.Addr(), "tls", tlsCfg != nil)
		var err error
		if tlsCfg != nil {
			err = httpSrv.ServeTLS(httpLis, "", "")
		} else {
			err = httpSrv.Serve(httpLis)
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Wrap(err, "serving HTTP")
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if grpcLis != nil {
		var opts []grpc.ServerOption
		if tlsCfg != nil {
			opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
		}
		grpcSrv := schedsim.NewGRPCServer(sim, opts...)
		g.Go(func() error {
			level.Info(logger).Log("msg", "serving gRPC API", "addr", grpcLis.Addr(), "tls", tlsCfg != nil)
			return errors.Wrap(grpcSrv.Serve(grpcLis), "serving gRPC")
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	if len(cfg.registry) > 0 {
		lis := httpLis
		if cfg.announce == cluster.TransportGRPC {
			lis = grpcLis
		}
		_, port, err := net.SplitHostPort(lis.Addr().String())
		if err != nil {
			return errors.Wrap(err, "reading listener port")
		}
		p, _ := strconv.Atoi(port)
		inst := registry.ServiceInstance{
			ServiceEndpoint: registry.Endpoint{Host: cfg.advertiseHost, Port: p},
			Status:          registry.StatusAlive,
		}
		reg := registry.DialRedis(cfg.registry, registry.WithLogger(logger))
		g.Go(func() error {
			return schedsim.Announce(ctx, reg, cfg.registryPath, inst, cfg.ttl, log.With(logger, "component", "registry"))
		})
	}

	return g.Wait()
}

func serverTLS(dir, host string) (*tls.Config, error) {
	const validity = 365 * 24 * time.Hour
	ca, err := pki.LoadOrCreateAuthority(dir, "schedsim CA", validity)
	if err != nil {
		return nil, err
	}
	pair, err := ca.Issue("schedsim", "schedsim", pki.ServerAuth, validity, []string{"localhost", "127.0.0.1", host})
	if err != nil {
		return nil, err
	}
	return pki.ServerTLSConfig(ca.CertPath(), pair, false)
}
