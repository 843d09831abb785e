package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollyglen/tally/internal/auth"
	"github.com/hollyglen/tally/internal/cli"
	httpapi "github.com/hollyglen/tally/internal/http"
	"github.com/hollyglen/tally/internal/server"
	"github.com/hollyglen/tally/internal/storage/sqlite"
	"github.com/hollyglen/tally/internal/ws"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tally",
		Short:         "XP reconciliation and ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), initCmd())
	return root
}

func serveCmd() *cobra.Command {
	var (
		addr          string
		dbPath        string
		socketPath    string
		keysFile      string
		auditInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, dbPath, socketPath, keysFile, auditInterval)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":7461", "listen address")
	cmd.Flags().StringVar(&dbPath, "db", "tally.db", "sqlite database path")
	cmd.Flags().StringVar(&socketPath, "socket", "", "optional unix socket path")
	cmd.Flags().StringVar(&keysFile, "keys-file", "", "API keys file (default $TALLY_KEYS_FILE or ./tally.keys.yaml)")
	cmd.Flags().DurationVar(&auditInterval, "audit-interval", 10*time.Minute, "ledger replay audit interval")
	return cmd
}

func runServe(ctx context.Context, addr, dbPath, socketPath, keysFile string, auditInterval time.Duration) error {
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	defer store.Close()

	if keysFile == "" {
		keysFile = auth.ResolveKeysPath()
	}
	keyring, err := auth.LoadKeyring(keysFile)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	hub := ws.NewHub()
	resilient := sqlite.NewResilient(store)
	svc := httpapi.NewService(resilient).WithBroadcaster(hub)
	router := httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(keyring))

	srv, err := server.New(server.Config{Addr: addr, SocketPath: socketPath, Handler: router})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditor := sqlite.NewAuditor(resilient, hub, auditInterval)
	auditor.Start(ctx)
	defer auditor.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("tally listening on %s", addr)
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initCmd() *cobra.Command {
	var (
		keysFile string
		scope    string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate an API key and write it to the keys file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keysFile == "" {
				keysFile = auth.ResolveKeysPath()
			}
			key, err := cli.InitKeysFile(keysFile, scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s key to %s:\n%s\n", scope, keysFile, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&keysFile, "keys-file", "", "API keys file (default $TALLY_KEYS_FILE or ./tally.keys.yaml)")
	cmd.Flags().StringVar(&scope, "scope", auth.ScopeIngest, "key scope: ingest or admin")
	return cmd
}
