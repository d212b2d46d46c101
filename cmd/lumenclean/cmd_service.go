package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"lumenclean/internal/config"
	"lumenclean/pkg/logger"
)

var serviceActions = []string{"install", "uninstall", "start", "stop", "restart", "run", "status"}

// program adapts runServer to the service manager's Start/Stop callbacks.
type program struct {
	cfg    *config.Config
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := runServer(ctx, p.cfg)
		if err != nil {
			logger.Error("Server exited", "error", err)
		}
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func serviceConfig(configPath string) (*service.Config, error) {
	args := []string{"service", "run"}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	return &service.Config{
		Name:        "lumenclean",
		DisplayName: "Lumenclean",
		Description: "Context-aware transcript cleaning service",
		Arguments:   args,
	}, nil
}

func newServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "service <install|uninstall|start|stop|restart|run|status>",
		Short:     "Manage lumenclean as an OS service",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: serviceActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("config")
			svcConfig, err := serviceConfig(path)
			if err != nil {
				return err
			}

			s, err := service.New(&program{cfg: cfg}, svcConfig)
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}

			switch action := args[0]; action {
			case "run":
				return s.Run()
			case "status":
				status, err := s.Status()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), statusName(status))
				return nil
			default:
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				logger.Info("Service action completed", "action", action)
				return nil
			}
		},
	}
}

func statusName(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
