package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"chant/internal/display"
	"chant/internal/engine"
)

var audioTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mp3",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
	".aac":  "audio/aac",
}

var utterCmd = &cobra.Command{
	Use:   "utter <audio-file>",
	Short: "Resolve and run one recorded utterance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mime, ok := audioTypes[strings.ToLower(filepath.Ext(args[0]))]
		if !ok {
			return fmt.Errorf("unsupported audio file %s", args[0])
		}
		audio, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("could not read audio file: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		unsubscribe := a.engine.Subscribe(func(ev engine.Event) {
			if s := display.FormatEvent(ev); s != "" {
				fmt.Fprintln(out, s)
			}
		})
		defer unsubscribe()

		if err := a.engine.HandleAudio(cmd.Context(), audio, mime); err != nil {
			return err
		}
		fmt.Fprintln(out, display.FormatExecutionState(a.engine.ExecutionState()))
		return nil
	},
}
