package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haveloc/servehub/internal/broker"
	"github.com/haveloc/servehub/internal/logging"
)

var (
	brokerFrontendAddr string
	brokerBackendAddr  string
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the standalone frame broker",
	Long: `Runs the frame-switching broker on its own: callers connect to the
frontend address, workers announce themselves on the backend address.
Frames pass through opaque; the broker only pairs them.`,
	RunE: runBroker,
}

func init() {
	rootCmd.AddCommand(brokerCmd)

	brokerCmd.Flags().StringVar(&brokerFrontendAddr, "frontend", "",
		"Frontend address for caller connections")
	brokerCmd.Flags().StringVar(&brokerBackendAddr, "backend", "",
		"Backend address for worker connections")
}

func runBroker(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if brokerFrontendAddr != "" {
		cfg.Broker.FrontendAddr = brokerFrontendAddr
	}
	if brokerBackendAddr != "" {
		cfg.Broker.BackendAddr = brokerBackendAddr
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
		File:   cfg.Log.File,
	})

	front, err := broker.ListenTCP(cfg.Broker.FrontendAddr)
	if err != nil {
		return fmt.Errorf("listening on frontend: %w", err)
	}
	back, err := broker.ListenTCP(cfg.Broker.BackendAddr)
	if err != nil {
		_ = front.Close()
		return fmt.Errorf("listening on backend: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("broker listening",
		"frontend", front.Addr(),
		"backend", back.Addr(),
	)

	b := broker.New(front, back, broker.WithLogger(logger))
	err = b.Run(ctx)
	logger.Info("broker stopped")
	return err
}
