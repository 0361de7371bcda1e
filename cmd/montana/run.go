package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eigerco/montana/internal/api"
	"github.com/eigerco/montana/internal/config"
	"github.com/eigerco/montana/internal/crypto"
	"github.com/eigerco/montana/internal/forkchoice"
	"github.com/eigerco/montana/internal/metrics"
	"github.com/eigerco/montana/internal/node"
	"github.com/eigerco/montana/internal/presence"
	"github.com/eigerco/montana/internal/store"
	"github.com/eigerco/montana/pkg/log"
)

const (
	tickInterval    = time.Second
	shutdownTimeout = 5 * time.Second
)

func runCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs the consensus engine and the operator HTTP endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

func initLogging(cfg *config.Config) error {
	level, err := log.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	typ, err := log.ParseLoggerType(cfg.Log.Format)
	if err != nil {
		return err
	}
	log.Init(log.Options{LogLevel: level, Type: typ})
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := initLogging(cfg); err != nil {
		return err
	}
	genesis, err := cfg.GenesisParticipants()
	if err != nil {
		return err
	}
	signer, err := cfg.Signer()
	if err != nil {
		return fmt.Errorf("node key: %w", err)
	}
	class, err := config.ParseClass(cfg.Node.Class)
	if err != nil {
		return err
	}
	scorer, err := forkchoice.NewScorer(cfg.Consensus.Scorer)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Storage.Error().Err(err).Msg("Failed to close store")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	engine, err := node.New(node.Config{
		Suite:              crypto.Ed25519Suite{},
		Prover:             presence.MaskProver{},
		Scorer:             scorer,
		Signer:             signer,
		Produce:            cfg.Node.Produce,
		PublishPresence:    class == presence.FullNode,
		Quotas:             cfg.Quotas(),
		Finality:           cfg.Finality(),
		ClockSkew:          cfg.Consensus.ClockSkew,
		MaxClockDivergence: cfg.Consensus.MaxClockDivergence,
		Genesis:            genesis,
		RelayCacheSize:     cfg.Consensus.RelayCacheSize,
		RelayTTL:           cfg.Consensus.RelayTTL,
		TickInterval:       tickInterval,
		Storage:            st,
		Metrics:            m,
	})
	if err != nil {
		return err
	}

	log.Root.Info().
		Str("pubkey", signer.PublicKey().String()).
		Stringer("class", class).
		Str("data_dir", cfg.DataDir).
		Int("genesis", len(genesis)).
		Msg("Starting node")
	if cfg.DataDir == "" {
		log.Storage.Warn().Msg("No data_dir configured, state is kept in memory only")
	}
	log.Network.Warn().Msg("No peer transport configured, running standalone")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(ctx)
	})

	if cfg.HTTP.Address != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           api.NewRouter(engine, st, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Root.Info().Str("address", srv.Addr).Msg("Operator endpoint listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Root.Info().Msg("Node stopped")
	return err
}
