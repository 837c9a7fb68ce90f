package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"fcopy/pkg/config"
	"fcopy/pkg/logging"
	"fcopy/pkg/server"

	"github.com/spf13/cobra"
)

const daemonizedEnv = "FCOPY_DAEMONIZED"

func main() {
	var (
		configFile string
		port       int
		background bool
	)

	cmd := &cobra.Command{
		Use:   "fcopy-server",
		Short: "Run an fcopy replication node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if background && os.Getenv(daemonizedEnv) == "" {
				return daemonize()
			}

			path := configFile
			if path == "" {
				path = defaultConfigPath()
			}

			cfg := config.DefaultServerConfig()
			if path != "" {
				if loaded, err := config.LoadServerConfig(path); err == nil {
					cfg = loaded
				} else if configFile != "" {
					return fmt.Errorf("failed to load config: %w", err)
				}
			}
			if port != 0 {
				cfg.Port = port
			}

			logger, err := logging.NewWithFile(false, cfg.LogFile)
			if err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}
			defer logger.Sync()

			if cfg.PidFile != "" {
				if err := writePidFile(cfg.PidFile); err != nil {
					return fmt.Errorf("failed to write pidfile: %w", err)
				}
				defer os.Remove(cfg.PidFile)
			}

			srv := server.New(server.Config{
				Port:             cfg.Port,
				MaxConnections:   cfg.SrvMaxConn,
				SizeLimit:        uint32(cfg.RequestSizeLimit),
				ReceiveTimeout:   time.Duration(cfg.SrvReceiveTimeout) * time.Millisecond,
				KeepAliveTimeout: time.Duration(cfg.SrvKeepAliveTimeout) * time.Millisecond,
				DefaultPartition: cfg.DefaultPartition,
				Partitions:       cfg.Partitions,
			}, logger)

			if err := srv.Start(); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Stop(ctx)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path (default ~/.fcopy/fcopy.conf if present)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().BoolVarP(&background, "background", "g", false, "daemonise")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fcopy-server: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".fcopy", "fcopy.conf")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// daemonize re-execs the current process detached from the controlling
// terminal, since Go has no fork() primitive to duplicate onto. The
// FCOPY_DAEMONIZED guard stops the child from daemonising again.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	child := exec.Command(exe, os.Args[1:]...)
	child.Env = append(os.Environ(), daemonizedEnv+"=1")
	child.Stdin = devNull
	child.Stdout = devNull
	child.Stderr = devNull
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	return nil
}
