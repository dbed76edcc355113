package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/funnyzak/mocktap/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "mocktap",
	Short: "Serve REST and GraphQL mock servers from a project file",
	Long: `MockTap turns a declarative project file of route groups, routes and canned
responses into live HTTP servers. Requests no mock answers are proxied to the
server's upstream, and every exchange is logged, stored and streamed.
`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run:   showVersion,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("file", "f", "", "Project file path")
	rootCmd.PersistentFlags().String("project", "", "Project id used when the file has none")
	rootCmd.PersistentFlags().StringP("server", "s", "", "Server id (default: every server in the project)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().Bool("log-file-enable", false, "Enable file logging")
	rootCmd.PersistentFlags().String("log-file-path", "", "Log file path")
	rootCmd.PersistentFlags().String("output", "", "Event output mode (console, json)")
	rootCmd.PersistentFlags().Bool("silence", false, "Do not print exchanges")

	serveFlags(rootCmd)
	bindFlags(rootCmd)

	serveCmd.Flags().AddFlagSet(rootCmd.Flags())
	rootCmd.AddCommand(serveCmd, importCmd, checkCmd, versionCmd)
}

func bindFlags(cmd *cobra.Command) {
	viper.BindPFlag("project.file", cmd.PersistentFlags().Lookup("file"))
	viper.BindPFlag("project.id", cmd.PersistentFlags().Lookup("project"))
	viper.BindPFlag("project.server", cmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.file_logging.enable", cmd.PersistentFlags().Lookup("log-file-enable"))
	viper.BindPFlag("log.file_logging.path", cmd.PersistentFlags().Lookup("log-file-path"))
	viper.BindPFlag("output.mode", cmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("output.silence", cmd.PersistentFlags().Lookup("silence"))

	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("web.enable", cmd.Flags().Lookup("web-enable"))
	viper.BindPFlag("web.port", cmd.Flags().Lookup("web-port"))
	viper.BindPFlag("storage.enable", cmd.Flags().Lookup("storage-enable"))
	viper.BindPFlag("storage.path", cmd.Flags().Lookup("storage-path"))
}

// loadConfig reads the configuration. Flags bound above take priority over
// the file; Changed checks cover flags whose zero value is meaningful.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfig(configPath, viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if file, err := cmd.Flags().GetString("file"); err == nil && file != "" {
		cfg.Project.File = file
	}
	if srv, err := cmd.Flags().GetString("server"); err == nil && srv != "" {
		cfg.Project.Server = srv
	}
	if silence, err := cmd.Flags().GetBool("silence"); err == nil && cmd.Flags().Changed("silence") {
		cfg.Output.Silence = silence
	}
	if logFileEnable, err := cmd.Flags().GetBool("log-file-enable"); err == nil && cmd.Flags().Changed("log-file-enable") {
		cfg.Log.FileLogging.Enable = logFileEnable
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func showVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("MockTap version %s\n", version)
	fmt.Printf("Commit: %s\n", commit)
	fmt.Printf("Built: %s\n", buildDate)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
