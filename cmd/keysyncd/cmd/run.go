package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/exmg/keysync/internal/config"
	"github.com/exmg/keysync/internal/keysession"
	"github.com/exmg/keysync/internal/mqttpub"
	"github.com/exmg/keysync/internal/observability"
)

var (
	fragmentIntervalFlag time.Duration
	fragmentDurationFlag time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive a Session against a synthetic fragment source",
	RunE:  runSession,
}

func init() {
	runCmd.Flags().DurationVar(&fragmentIntervalFlag, "fragment-interval", 2*time.Second, "wall-clock delay between synthetic fragments")
	runCmd.Flags().DurationVar(&fragmentDurationFlag, "fragment-duration", 2*time.Second, "media duration each synthetic fragment spans")
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	logger.Info("starting keysyncd", "version", "dev")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var registry *mqttpub.Registry
	if cfg.MQTT.Enabled {
		registry = mqttpub.NewRegistry(logger)
	}

	sessCfg := keysession.Config{
		DryRun:            cfg.Session.DryRun,
		NoEncryption:      cfg.Session.NoEncryption,
		FSPubBasepath:     cfg.Session.FSPubBasepath,
		PublishDelaySecs:  cfg.Session.PublishDelaySecs,
		FragmentsPerKey:   cfg.Session.FragmentsPerKey,
		KeyIndexMaxWindow: cfg.Session.KeyIndexMaxWindow,
		PollInterval:      cfg.Session.PollInterval.Duration(),
		QueueCapacity:     cfg.Session.QueueCapacity,
		MQTTEnabled:       cfg.MQTT.Enabled,
		MQTTURL:           cfg.MQTT.URL,
		MQTTConfig: mqttpub.Config{
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		},
	}

	session, err := keysession.New(ctx, sessCfg, registry, logger)
	if err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}

	source := newSyntheticSource(fragmentDurationFlag)
	ticker := time.NewTicker(fragmentIntervalFlag)
	defer ticker.Stop()

	logger.Info("session started, driving synthetic fragments",
		"fragment_interval", fragmentIntervalFlag, "fragment_duration", fragmentDurationFlag)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, closing session")
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return session.Close(closeCtx)
		case <-ticker.C:
			if err := session.OnFragment(source.next()); err != nil {
				logger.Error("fragment handler returned a fatal error", "error", err)
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				session.Close(closeCtx)
				return err
			}
		}
	}
}
