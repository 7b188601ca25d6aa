// Command grantlyd serves the permissions API that grantly talks to. It
// backs onto PostgreSQL, or onto an in-memory store in demo mode.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trowan/grantly/internal/api"
	"github.com/trowan/grantly/internal/config"
	"github.com/trowan/grantly/internal/logger"
	"github.com/trowan/grantly/internal/server"
	"github.com/trowan/grantly/internal/store"
)

var (
	version = "dev"

	flagListen string
	flagDSN    string
	flagDemo   bool
	flagSeed   string
)

func main() {
	root := &cobra.Command{
		Use:   "grantlyd",
		Short: "Permissions API server for grantly",
		Long: `grantlyd serves object sharing permissions over HTTP.

State lives in PostgreSQL (--dsn or server.dsn in the config file). With
--demo it runs against an in-memory store instead, optionally seeded from a
YAML file, and loses everything on exit.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides config)")
	root.Flags().StringVar(&flagDSN, "dsn", "", "PostgreSQL connection string (overrides config)")
	root.Flags().BoolVar(&flagDemo, "demo", false, "use an in-memory store instead of PostgreSQL")
	root.Flags().StringVar(&flagSeed, "seed", "", "YAML seed file for --demo")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := logger.LevelInfo
	if cfg.Debug {
		level = logger.LevelDebug
	}
	logger.Init(level, "")
	defer logger.Close()

	listen := cfg.Server.Listen
	if flagListen != "" {
		listen = flagListen
	}
	dsn := cfg.Server.DSN
	if flagDSN != "" {
		dsn = flagDSN
	}

	st, err := openStore(dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := server.New(listen, st)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// openStore builds the backing store from the DSN and demo flags.
func openStore(dsn string) (store.Store, error) {
	if flagDemo {
		mem := store.NewMemoryStore()
		if flagSeed != "" {
			if err := mem.LoadSeed(flagSeed); err != nil {
				return nil, fmt.Errorf("load seed: %w", err)
			}
			logger.Info("demo store seeded", "path", flagSeed)
		} else {
			seedDemo(mem)
		}
		return mem, nil
	}

	if dsn == "" {
		return nil, fmt.Errorf("no PostgreSQL DSN configured; set --dsn, server.dsn, or run with --demo")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pg, err := store.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pg, nil
}

// seedDemo fills the in-memory store with a small fixed dataset.
func seedDemo(mem *store.MemoryStore) {
	users := []api.User{
		{ID: 1, Name: "Ada Admin", Email: "ada@example.com"},
		{ID: 2, Name: "Ben Builder", Email: "ben@example.com"},
		{ID: 3, Name: "Cleo Analyst", Email: "cleo@example.com"},
		{ID: 4, Name: "Dana Viewer", Email: "dana@example.com"},
	}
	for _, u := range users {
		mem.AddUser(u)
	}
	for _, g := range []api.Group{
		{ID: 1, Name: "admin"},
		{ID: 2, Name: "default"},
		{ID: 3, Name: "analysts"},
	} {
		mem.AddGroup(g)
	}
	mem.AddObject(store.KindQuery, 1, "Daily signups", 1)
	mem.AddObject(store.KindQuery, 2, "Revenue by region", 2)
	mem.AddObject(store.KindDashboard, 1, "Growth overview", 1)

	ctx := context.Background()
	_ = mem.Grant(ctx, store.KindQuery, 1, api.AccessView, store.Grantee{Kind: store.GranteeUser, ID: 3})
	_ = mem.Grant(ctx, store.KindQuery, 1, api.AccessModify, store.Grantee{Kind: store.GranteeUser, ID: 2})
	_ = mem.Grant(ctx, store.KindDashboard, 1, api.AccessView, store.Grantee{Kind: store.GranteeGroup, ID: 2})

	logger.Info("demo store initialized", "users", len(users), "objects", 3)
}
