package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ignis",
	Short: "A trigger-dispatch host for externally executed functions",
	Long: `Ignis watches queues and blob containers for work and turns what it
finds into bound invocation requests for an execution engine:

  - Queue triggers with route templates, poison-queue handling, and
    adaptive polling backoff
  - Blob triggers with name templates and change-stamp de-duplication
  - A fast-path notification channel that beats polling latency
  - CEL filter expressions over extracted route values and metadata
  - An out-of-band dashboard queue for explicit invocations

Start the dispatch host:
  ignis serve`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ignis.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(Version())
		},
	})
}

// setupLogging configures zerolog before any command runs. The serve
// command refines the level and format from the loaded config.
func setupLogging() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("ignis version %s", "0.1.0-dev")
}
