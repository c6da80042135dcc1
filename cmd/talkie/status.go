package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talkie-dictation/talkie/internal/config"
	"github.com/talkie-dictation/talkie/internal/supervisor"
)

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current transcribing state and active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			transcribing, err := supervisor.ReadState(defaultStatePath())
			if err != nil {
				return err
			}
			fmt.Printf("transcribing: %v\n", transcribing)

			store, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			cfg, err := store.Get()
			if err != nil {
				return err
			}
			fmt.Printf("speech_engine: %s\n", cfg.SpeechEngine)
			fmt.Printf("gec: homophone=%v punctcap=%v grammar=%v\n", cfg.GecHomophone, cfg.GecPunctCap, cfg.GecGrammar)
			return nil
		},
	}
}
