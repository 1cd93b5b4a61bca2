package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// CredentialsFileName is searched for when no credentials are given
	CredentialsFileName = "drivegate-credentials.txt"

	BackendS3     = "s3"
	BackendWebDAV = "webdav"
)

type S3Config struct {
	Endpoint string `mapstructure:"s3-endpoint"`
	Region   string `mapstructure:"s3-region"`
	Bucket   string `mapstructure:"s3-bucket"`
}

type WebDAVConfig struct {
	URL string `mapstructure:"webdav-url"`
}

type Config struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Credentials   string        `mapstructure:"credentials"`
	UsePathCache  bool          `mapstructure:"use-path-cache"`
	PathCacheTTL  time.Duration `mapstructure:"path-cache-ttl"`
	PathCacheSize int           `mapstructure:"path-cache-size"`
	Backend       string        `mapstructure:"backend"`
	S3            S3Config      `mapstructure:",squash"`
	WebDAV        WebDAVConfig  `mapstructure:",squash"`
	DataDir       string        `mapstructure:"data-dir"`
	LinkTTL       time.Duration `mapstructure:"link-ttl"`
	AuthEnabled   bool          `mapstructure:"auth"`
	AuthUser      string        `mapstructure:"user"`
	AuthPass      string        `mapstructure:"pass"`
	AuthFile      string        `mapstructure:"auth-file"`
	LogLevel      string        `mapstructure:"log-level"`
}

// BindFlags registers the server flags on flags and binds each of them to
// the matching key in v.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	flags.StringP("host", "H", "0.0.0.0", "IP or hostname to listen on")
	flags.IntP("port", "p", 80, "Port to listen on")
	flags.StringP("credentials", "c", "", "Backend credentials as <user-or-access-key>:<secret>; if empty, "+CredentialsFileName+" is searched in the working directory, the home directory and the executable's directory")
	flags.Bool("use-path-cache", false, "Cache path to id lookups in memory")
	flags.Duration("path-cache-ttl", 10*time.Minute, "Lifetime of path cache entries")
	flags.Int("path-cache-size", 100000, "Maximum number of path cache entries")
	flags.String("backend", BackendS3, "Remote storage backend: s3 or webdav")
	flags.String("s3-endpoint", "", "S3 endpoint URL (empty for AWS)")
	flags.String("s3-region", "us-east-1", "S3 region")
	flags.String("s3-bucket", "", "S3 bucket exposed as the storage root")
	flags.String("webdav-url", "", "WebDAV server URL exposed as the storage root")
	flags.String("data-dir", "./drivegateData", "Directory for the id and pickcode registry")
	flags.Duration("link-ttl", 15*time.Minute, "Lifetime of signed download links")
	flags.Bool("auth", false, "Enable HTTP Basic authentication")
	flags.String("user", "", "Username for authentication")
	flags.String("pass", "", "Password for authentication")
	flags.String("auth-file", "", "htpasswd file holding the accepted users (replaces --user/--pass)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	if bindErr != nil {
		return fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	v.SetEnvPrefix("DRIVEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// Load builds a Config from v, reading configFile first when it is set.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Backend = strings.ToLower(cfg.Backend)
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	switch c.Backend {
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3 backend requires a bucket")
		}
	case BackendWebDAV:
		if c.WebDAV.URL == "" {
			return fmt.Errorf("webdav backend requires a server URL")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.AuthEnabled && c.AuthFile == "" && (c.AuthUser == "" || c.AuthPass == "") {
		return fmt.Errorf("authentication requires both username and password, or an htpasswd file")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.UsePathCache && c.PathCacheTTL <= 0 {
		return fmt.Errorf("path cache TTL must be positive")
	}
	if c.LinkTTL <= 0 {
		return fmt.Errorf("link TTL must be positive")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CredentialDirs lists the directories searched for the credentials file,
// without duplicates.
func CredentialDirs() []string {
	candidates := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, home)
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Dir(exe))
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, dir := range candidates {
		real, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(real); err == nil {
			real = resolved
		}
		if seen[real] {
			continue
		}
		seen[real] = true
		dirs = append(dirs, real)
	}
	return dirs
}

// ResolveCredentials returns explicit when it is set, otherwise the contents
// of the first non-empty credentials file found in dirs. An empty result
// means no credentials were found.
func ResolveCredentials(explicit string, dirs []string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}

	for _, dir := range dirs {
		file := filepath.Join(dir, CredentialsFileName)
		data, err := os.ReadFile(file)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		if creds := strings.TrimSpace(string(data)); creds != "" {
			log.Debugf("Using credentials from %s", file)
			return creds, nil
		}
	}
	return "", nil
}

// ParseCredentials splits a credential string into its user or access key
// and its secret.
func ParseCredentials(creds string) (string, string, error) {
	if creds == "" {
		return "", "", nil
	}
	user, secret, ok := strings.Cut(creds, ":")
	if !ok || user == "" {
		return "", "", fmt.Errorf("credentials must have the form <user-or-access-key>:<secret>")
	}
	return user, secret, nil
}
