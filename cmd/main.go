package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"surveillance_service/internal/api"
	"surveillance_service/internal/config"
	"surveillance_service/internal/domain/model"
	"surveillance_service/internal/infrastructure/events"
	"surveillance_service/internal/logger"
)

var (
	envFile string

	groupID    int
	trigger    string
	batchStart string
	batchEnd   string

	rootCmd = &cobra.Command{
		Use:           "surveillance",
		Short:         "Disease occurrence weighting and model run orchestration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, scheduler and completion consumers",
		RunE:  withApp(serve),
	}

	refreshExpertsCmd = &cobra.Command{
		Use:   "refresh-expert-weightings",
		Short: "Recalculate and save every expert's weighting",
		RunE: withApp(func(ctx context.Context, a *app) error {
			return a.experts.RefreshExpertWeightings(ctx)
		}),
	}

	refreshOccurrencesCmd = &cobra.Command{
		Use:   "refresh-occurrence-weightings",
		Short: "Update expert, validation and final weightings of a disease group's occurrences",
		RunE: withApp(func(ctx context.Context, a *app) error {
			return a.occurrences.Refresh(ctx, groupID)
		}),
	}

	requestRunCmd = &cobra.Command{
		Use:   "request-run",
		Short: "Prepare and dispatch a model run for a disease group",
		RunE:  withApp(requestRun),
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")

	refreshOccurrencesCmd.Flags().IntVar(&groupID, "disease-group", 0, "disease group id")
	_ = refreshOccurrencesCmd.MarkFlagRequired("disease-group")

	requestRunCmd.Flags().IntVar(&groupID, "disease-group", 0, "disease group id")
	requestRunCmd.Flags().StringVar(&trigger, "trigger", string(model.TriggerManual), "MANUAL, AUTOMATIC or GOLD_STANDARD")
	requestRunCmd.Flags().StringVar(&batchStart, "batch-start", "", "batch start date (YYYY-MM-DD)")
	requestRunCmd.Flags().StringVar(&batchEnd, "batch-end", "", "batch end date (YYYY-MM-DD)")
	_ = requestRunCmd.MarkFlagRequired("disease-group")

	rootCmd.AddCommand(serveCmd, refreshExpertsCmd, refreshOccurrencesCmd, requestRunCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads configuration, builds the service graph and tears it down after run returns.
func withApp(run func(ctx context.Context, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config.Load(envFile)
		log, err := logger.New(cfg.LogMode)
		if err != nil {
			return fmt.Errorf("failed to initialise logger: %w", err)
		}
		defer log.Sync()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			log.Error("Failed to start", "error", err)
			return err
		}
		defer a.Close()
		return run(ctx, a)
	}
}

func serve(ctx context.Context, a *app) error {
	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	// The queue drains on Stop, so it must not die with ctx.
	a.completions.Start(context.WithoutCancel(ctx))
	defer a.completions.Stop()

	server := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.NewRouter(a.apiHandler(), a.cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("Starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if len(a.cfg.KafkaBrokers) > 0 {
		consumer := events.NewCompletionConsumer(events.ConsumerConfig{
			Brokers: a.cfg.KafkaBrokers,
			Topic:   a.cfg.KafkaCompletionTopic,
			GroupID: a.cfg.KafkaGroupID,
		}, a.completions, a.log)
		g.Go(func() error {
			defer consumer.Close()
			a.log.Info("Consuming completion events", "topic", a.cfg.KafkaCompletionTopic)
			return consumer.Run(ctx)
		})
	}

	sched.Start()
	g.Go(func() error {
		<-ctx.Done()
		sched.Stop()
		return nil
	})

	err = g.Wait()
	a.log.Info("Shutting down")
	return err
}

func requestRun(ctx context.Context, a *app) error {
	t, err := model.ParseTrigger(trigger)
	if err != nil {
		return fmt.Errorf("%s: %w", trigger, err)
	}
	var batch *model.BatchRange
	if batchStart != "" || batchEnd != "" {
		batch = &model.BatchRange{}
		if batch.Start, err = parseDate(batchStart); err != nil {
			return err
		}
		if batch.End, err = parseDate(batchEnd); err != nil {
			return err
		}
	}

	run, err := a.orchestrator.RequestModelRun(ctx, groupID, t, batch)
	if err != nil {
		return err
	}
	if run == nil {
		a.log.Info("Disease group does not have enough well spread data for a model run", "disease_group_id", groupID)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &t, nil
}
