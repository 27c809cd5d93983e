package cli

import (
	"context"
	"net"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	apiserver "github.com/apiary/apiary/internal/api_server"
	"github.com/apiary/apiary/internal/config"
	"github.com/apiary/apiary/pkg/log"
)

type serveOptions struct {
	configFile string
	address    string
}

func NewServeCommand() *cobra.Command {
	o := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&o.configFile, "config", config.ConfigFile(), "path to the gateway config file")
	cmd.Flags().StringVar(&o.address, "address", "", "listen address, overriding the config file")

	return cmd
}

func (o *serveOptions) Run(ctx context.Context) error {
	logger := log.InitLogs()
	logger.Println("Starting API gateway")
	defer logger.Println("API gateway stopped")

	cfg, err := config.LoadOrGenerate(o.configFile)
	if err != nil {
		logger.Fatalf("reading configuration: %v", err)
	}
	logger.Printf("Using config: %s", cfg)

	logLvl, err := logrus.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		logLvl = logrus.InfoLevel
	}
	logger.SetLevel(logLvl)

	address := cfg.Service.Address
	if o.address != "" {
		address = o.address
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		logger.Fatalf("creating listener: %v", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := apiserver.New(logger, cfg, listener)
	return server.Run(ctx)
}
