package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/do/v2"
	"github.com/urfave/cli/v3"
	"github.com/vreid/duel/internal/pkg/common"
	"github.com/vreid/duel/internal/pkg/compute"
	"github.com/vreid/duel/internal/pkg/duel"
	"github.com/vreid/duel/internal/pkg/escrow"
	"golang.org/x/sync/errgroup"
)

type DuelServer struct {
	DatabaseService *common.DatabaseService `do:""`
	EchoService     *common.EchoService     `do:""`
	ValkeyService   *common.ValkeyService   `do:""`

	Orchestrator *compute.Orchestrator `do:""`
	DuelService  *duel.DuelService     `do:""`
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	i := do.New()

	do.ProvideNamedValue(i, "port", cmd.Int("port"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))
	do.ProvideNamedValue(i, "faucet", cmd.Bool("faucet"))
	do.ProvideNamedValue(i, "valkey-addr", cmd.String("valkey-addr"))

	do.ProvideNamedValue(i, "algorithm", cmd.String("algorithm"))
	do.ProvideNamedValue(i, "cluster", cmd.String("cluster"))
	do.ProvideNamedValue(i, "callback-url", cmd.String("callback-url"))
	do.ProvideNamedValue(i, "callback-secret", cmd.String("callback-secret"))
	do.ProvideNamedValue(i, "battle-timeout", cmd.Duration("battle-timeout"))
	do.ProvideNamedValue(i, "admin-token", cmd.String("admin-token"))

	do.ProvideValue(i, escrow.RewardConfig{
		FeeBps:             cmd.Uint64("fee-bps"),
		Treasury:           cmd.String("treasury"),
		StrictWinnerClaims: cmd.Bool("strict-winner-claims"),
	})

	outcomeChan := make(chan compute.Outcome, 1000)
	var outcomeSource <-chan compute.Outcome = outcomeChan
	var outcomeSink chan<- compute.Outcome = outcomeChan

	do.ProvideNamedValue(i, "outcome-source", outcomeSource)
	do.ProvideNamedValue(i, "outcome-sink", outcomeSink)

	do.Provide(i, common.NewDatabaseService)
	do.Provide(i, common.NewEchoService)
	do.Provide(i, common.NewValkeyService)

	do.Provide(i, escrow.NewLedger)
	do.Provide(i, escrow.NewDistributor)
	do.Provide(i, compute.NewOrchestrator)
	do.Provide(i, duel.NewDuelService)

	do.Provide(i, do.InvokeStruct[DuelServer])

	server, err := do.Invoke[DuelServer](i)
	if err != nil {
		return fmt.Errorf("failed to create duel server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(server.EchoService.Start)

	g.Go(func() error {
		return server.Orchestrator.Start(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:mnd
		defer cancel()

		err := server.EchoService.Shutdown(shutdownCtx)

		server.ValkeyService.Shutdown()

		return errors.Join(err, server.DatabaseService.Shutdown())
	})

	//nolint:wrapcheck
	return g.Wait()
}

func main() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(err)
	}

	//nolint:exhaustruct
	cmd := &cli.Command{
		Name: "duel",
		Commands: []*cli.Command{
			{
				Name: "server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Value:   3000, //nolint:mnd
						Sources: cli.EnvVars("DUEL_PORT"),
					},
					&cli.StringFlag{
						Name:    "data-dir",
						Value:   "./duel/data",
						Sources: cli.EnvVars("DUEL_DATA_DIR"),
					},
					&cli.Uint64Flag{
						Name:    "fee-bps",
						Value:   0,
						Sources: cli.EnvVars("DUEL_FEE_BPS"),
					},
					&cli.StringFlag{
						Name:    "treasury",
						Value:   "protocol",
						Sources: cli.EnvVars("DUEL_TREASURY"),
					},
					&cli.BoolFlag{
						Name:    "strict-winner-claims",
						Sources: cli.EnvVars("DUEL_STRICT_WINNER_CLAIMS"),
					},
					&cli.StringFlag{
						Name:    "algorithm",
						Value:   "extended",
						Sources: cli.EnvVars("DUEL_ALGORITHM"),
					},
					&cli.StringFlag{
						Name:    "cluster",
						Value:   "local",
						Sources: cli.EnvVars("DUEL_CLUSTER"),
					},
					&cli.StringFlag{
						Name:    "callback-url",
						Sources: cli.EnvVars("DUEL_CALLBACK_URL"),
					},
					&cli.StringFlag{
						Name:    "callback-secret",
						Sources: cli.EnvVars("DUEL_CALLBACK_SECRET"),
					},
					&cli.DurationFlag{
						Name:    "battle-timeout",
						Value:   0,
						Sources: cli.EnvVars("DUEL_BATTLE_TIMEOUT"),
					},
					&cli.StringFlag{
						Name:    "admin-token",
						Sources: cli.EnvVars("DUEL_ADMIN_TOKEN"),
					},
					&cli.BoolFlag{
						Name:    "faucet",
						Sources: cli.EnvVars("DUEL_FAUCET"),
					},
					&cli.StringFlag{
						Name:    "valkey-addr",
						Sources: cli.EnvVars("DUEL_VALKEY_ADDR"),
					},
				},
				Action: runServer,
			},
		},
		DefaultCommand: "server",
	}

	err = cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
