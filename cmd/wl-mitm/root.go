package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PeterCxy/wl-mitm/internal/errx"
	"github.com/PeterCxy/wl-mitm/pkg/config"
	"github.com/PeterCxy/wl-mitm/pkg/helper"
	"github.com/PeterCxy/wl-mitm/pkg/policy"
	"github.com/PeterCxy/wl-mitm/pkg/proto"
	"github.com/PeterCxy/wl-mitm/pkg/proxy"
)

const defaultConfigPath = "./config.toml"

var rootCmd = &cobra.Command{
	Use:   "wl-mitm [config.toml]",
	Short: "Filtering man-in-the-middle proxy for the Wayland protocol",
	Long: `wl-mitm sits between Wayland clients and the real compositor. It can
hide selected globals from clients, block or reject specific requests,
ask an external program for permission, or notify one after the fact.

Point clients at the proxy by setting WAYLAND_DISPLAY to the listen
socket configured in [socket].`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runProxy,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("proto-dir", "", "Override the protocol XML directory")
}

func configPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return defaultConfigPath
}

// app bundles everything shared by run and validate.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	schema *proto.Schema
	policy *policy.Engine
	broker *helper.Broker
}

func setup(cmd *cobra.Command, args []string) (*app, error) {
	cfg, err := config.Load(configPath(args))
	if err != nil {
		return nil, errx.Wrap(ErrLoadConfig, err)
	}

	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	protoDir, _ := cmd.Flags().GetString("proto-dir")
	if protoDir == "" {
		protoDir = cfg.Proto.Dir
	}
	schema, err := proto.LoadDir(protoDir)
	if err != nil {
		return nil, errx.Wrap(ErrLoadProto, err)
	}
	logger.Info("protocol set loaded", "dir", protoDir, "interfaces", schema.Len())

	broker, err := helper.NewBroker(&cfg.Exec, logger)
	if err != nil {
		return nil, errx.Wrap(ErrLoadConfig, err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		schema: schema,
		policy: policy.NewEngine(&cfg.Filter, schema, logger),
		broker: broker,
	}, nil
}

func runProxy(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd, args)
	if err != nil {
		return err
	}

	ln, err := proxy.NewListener(rt.cfg, rt.schema, rt.policy, rt.broker, rt.logger)
	if err != nil {
		return errx.Wrap(ErrListen, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = ln.Serve(ctx)
	ln.Close()
	if err != nil {
		return err
	}
	rt.logger.Info("shut down")
	return nil
}
