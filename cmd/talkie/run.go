package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talkie-dictation/talkie/internal/app"
	"github.com/talkie-dictation/talkie/internal/config"
	"github.com/talkie-dictation/talkie/internal/supervisor"
)

func newRunCmd(configPath, modelRoot *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the capture -> VAD -> recognizer -> GEC -> keystroke pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(*configPath)
			roots := resolveModelRoot(*modelRoot)

			store, err := config.Load(path)
			if err != nil {
				return err
			}

			statePath := defaultStatePath()
			a, err := app.New(store, app.ModelPaths{Root: roots}, statePath)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Println("🎤 talkie starting...")

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				log.Println("🛑 shutting down...")
				cancel()
			}()

			if err := a.Run(ctx); err != nil {
				if errors.Is(err, supervisor.ErrRequiresRestart) {
					log.Println("🔁 engine swap requires a process restart")
					os.Exit(supervisor.RestartExitCode)
				}
				return err
			}
			log.Println("✅ talkie stopped")
			return nil
		},
	}
}

func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	return config.DefaultPath()
}

func resolveModelRoot(flag string) string {
	if flag != "" {
		return flag
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "talkie", "models")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".local", "share", "talkie", "models")
}

func defaultStatePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".talkie")
	}
	return ".talkie"
}
