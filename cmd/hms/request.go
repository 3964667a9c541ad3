package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hms-platform/hms"
	"github.com/hms-platform/hms/internal/config"
)

func requestHistoryCmd() *cobra.Command {
	var (
		document string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request-history <patient-id>",
		Short: "Request a patient's medical history over the broker and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid patient id: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if timeout > 0 {
				cfg.RPCTimeout = timeout
			}
			logger := newLogger(cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.BrokerConnectionTimeout+cfg.RPCTimeout)
			defer cancel()

			client := hms.NewClient(ctx, cfg.BrokerURL,
				append(clientOptions(cfg, newSlog(cfg), nil), hms.WithResponseListener())...)
			defer client.Close()

			resp, err := client.Broker().RequestMedicalHistory(ctx, patientID, document)
			out, encErr := json.MarshalIndent(resp, "", "  ")
			if encErr != nil {
				return encErr
			}
			fmt.Fprintln(os.Stdout, string(out))

			if err != nil {
				logger.Error().Err(err).Str("broker", client.Broker().Name()).Msg("request failed")
				return err
			}
			if !resp.Success {
				return errors.New(resp.ErrorText())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&document, "document", "", "patient document sent with the request")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override RPC_TIMEOUT")
	return cmd
}
