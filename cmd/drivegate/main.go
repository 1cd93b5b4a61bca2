package main

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"drivegate/internal/config"
	"drivegate/internal/server"
)

// Build information (set by linker flags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string
	var showVersion bool

	cmd := &cobra.Command{
		Use:   "drivegate",
		Short: "HTTP gateway to a remote file store",
		Long: `drivegate answers GET requests for files and directories of a remote
store. Files are redirected to a short-lived download link, directories are
rendered as a browsable HTML index, and attr, list and desc return metadata.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			return run(cmd.Context(), v, cfgFile)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.Flags().StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	cmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version information")
	if err := config.BindFlags(cmd.Flags(), v); err != nil {
		panic(err)
	}
	return cmd
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "drivegate %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(w, "commit: %s\n", commit)
	}
	if date != "unknown" {
		fmt.Fprintf(w, "built: %s\n", date)
	}
}

func run(ctx context.Context, v *viper.Viper, cfgFile string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	creds, err := config.ResolveCredentials(cfg.Credentials, config.CredentialDirs())
	if err != nil {
		return err
	}
	if creds == "" {
		log.Infof("No credentials given and no %s found; using anonymous access", config.CredentialsFileName)
	}

	backend, err := server.OpenBackend(ctx, cfg, creds)
	if err != nil {
		return fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}

	srv, err := server.New(ctx, cfg, backend)
	if err != nil {
		backend.Close()
		return err
	}

	return srv.Start()
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Errorf("drivegate failed: %v", err)
		os.Exit(1)
	}
}
