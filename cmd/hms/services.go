package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/health"
	"github.com/hms-platform/hms/internal/cache"
	"github.com/hms-platform/hms/internal/medicalhistory"
	"github.com/hms-platform/hms/internal/patients"
	"github.com/hms-platform/hms/messaging"
)

func patientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patients",
		Short: "Run the patients service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, "patients-service", true)
			if err != nil {
				return err
			}
			defer a.close()

			if err := patients.EnsureSchema(ctx, a.pool); err != nil {
				return err
			}

			patientCache := cache.New[*patients.Patient]("patients", a.cfg.CacheTTL, cache.WithMetrics(a.metrics))
			defer patientCache.Close()

			svc := patients.NewService(patients.NewRepoPG(a.pool), patientCache, a.client.Broker(), a.logger)
			return a.run(ctx, patients.NewHandler(svc))
		},
	}
}

func medicalHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "medical-history",
		Short: "Run the medical-history service and its broker consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, "medical-history-service", false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := medicalhistory.EnsureSchema(ctx, a.pool); err != nil {
				return err
			}

			historyCache := cache.New[*contracts.MedicalHistory]("medical-history", a.cfg.CacheTTL, cache.WithMetrics(a.metrics))
			defer historyCache.Close()

			svc := medicalhistory.NewService(medicalhistory.NewRepoPG(a.pool), historyCache, a.logger)

			requests := a.client.ServeMedicalHistory(svc,
				messaging.WithGraceDelay(a.cfg.ConsumerGraceDelay))
			processed := cache.New[bool]("processed-messages", time.Hour, cache.WithCapacity(100_000))
			defer processed.Close()

			created := a.client.Consume(contracts.PatientCreatedQueue,
				messaging.Chain(medicalhistory.PatientCreatedHandler(svc, a.slog),
					messaging.NewLoggingInterceptor(a.slog),
					messaging.NewMessageTypeFilter(messaging.Reject, a.slog, "PatientCreated"),
					messaging.NewDuplicateDetectionInterceptor(messaging.NewCacheDuplicateDetector(processed), a.slog),
				),
				messaging.WithGraceDelay(medicalhistory.PatientCreatedGraceDelay))

			for _, c := range []*messaging.DurableConsumer{requests, created} {
				if c != nil {
					a.health.Register(health.NewConsumerChecker(c))
				}
			}

			return a.run(ctx, medicalhistory.NewHandler(svc))
		},
	}
}
