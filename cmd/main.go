package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/droidpipe/agent/internal/config"
	"github.com/droidpipe/agent/internal/daemon"
	"github.com/droidpipe/agent/internal/models"
	"github.com/droidpipe/agent/internal/session"
	"github.com/droidpipe/agent/pkg/logger"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.New()

	root := &cobra.Command{
		Use:          "droidpipe",
		Short:        "Stream directory trees between an Android device and this host over adb",
		SilenceUsage: true,
	}

	var pullDest string
	pullCmd := &cobra.Command{
		Use:   "pull [remote-dir]",
		Short: "Copy a directory tree from the device to this host",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := ""
			if len(args) == 1 {
				remote = args[0]
			}
			if pullDest == "" {
				pullDest = cfg.LocalRoot()
			}
			return runTransfer(cfg, models.DirectionPull, pullDest, remote)
		},
	}
	pullCmd.Flags().StringVar(&pullDest, "to", "", "local destination directory (default: the transfer directory)")

	var pushRemote string
	pushCmd := &cobra.Command{
		Use:   "push <local-dir>",
		Short: "Copy a local directory tree to the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cfg, models.DirectionPush, args[0], pushRemote)
		},
	}
	pushCmd.Flags().StringVar(&pushRemote, "remote", "", "destination directory under the device transfer root")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent, exposing transfers over a local websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(cfg.LogFile())
			mgr := daemon.NewDaemonManager(cfg, daemon.NewApplication(cfg))
			return mgr.StartDaemon()
		},
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install the agent as a system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(cfg.LogFile())
			mgr := daemon.NewDaemonManager(cfg, daemon.NewApplication(cfg))
			if err := mgr.InstallDaemon(); err != nil {
				return err
			}
			color.Green("service %s installed", cfg.ServiceName())
			return nil
		},
	}

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(cfg.LogFile())
			mgr := daemon.NewDaemonManager(cfg, daemon.NewApplication(cfg))
			if err := mgr.UninstallDaemon(); err != nil {
				return err
			}
			color.Green("service %s removed", cfg.ServiceName())
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the installed system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(cfg.LogFile())
			mgr := daemon.NewDaemonManager(cfg, daemon.NewApplication(cfg))
			return mgr.RestartDaemon()
		},
	}

	root.AddCommand(pullCmd, pushCmd, serveCmd, installCmd, uninstallCmd, restartCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runTransfer drives a single foreground transfer and renders its
// progress on the terminal. Logs go to file only so the bar stays clean.
func runTransfer(cfg *config.Config, direction models.Direction, localPath, remotePath string) error {
	logger.InitFileOnly(cfg.LogFile())

	r := newRenderer()
	orch := session.New(cfg, r.Sink)

	s, err := orch.Start(direction, localPath, remotePath)
	if err != nil {
		return err
	}
	r.setSession(s)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		color.Yellow("\ncancelling...")
		orch.Cancel()
	}()

	switch s.Wait() {
	case session.StateCompleted:
		return nil
	case session.StateCancelled:
		return fmt.Errorf("transfer cancelled")
	default:
		return fmt.Errorf("transfer failed")
	}
}
