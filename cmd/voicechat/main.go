// voicechat - push-to-talk voice assistant service
// Speech in, speech out: whisper transcribes, Gemini answers, Coqui speaks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/teslashibe/voicechat/internal/config"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configFile string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "voicechat",
		Short:         "Voice turn service: speech to text, text engine, text to speech",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "Optional config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Environment file loaded at startup")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newObserveCmd(flags))
	return cmd
}

// load resolves the configuration, letting explicitly set flags win.
func (f *rootFlags) load(cmd *cobra.Command, bind map[string]string) (*config.Config, error) {
	flags := map[string]*pflag.Flag{
		"log_level": cmd.Flags().Lookup("log-level"),
	}
	for key, name := range bind {
		flags[key] = cmd.Flags().Lookup(name)
	}
	return config.Load(config.Options{
		EnvFile:    f.envFile,
		ConfigFile: f.configFile,
		Flags:      flags,
	})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
