// Command schedctl issues scheduler RPCs against a configured cluster.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log/level"

	"github.com/VerteraIO/schedclient/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		level.Error(logging.New(os.Stderr, false)).Log("msg", "schedctl failed", "err", err)
		os.Exit(1)
	}
}
