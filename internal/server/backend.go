package server

import (
	"context"
	"fmt"

	"drivegate/internal/config"
	"drivegate/internal/filesystem"
	"drivegate/internal/filesystem/s3"
	"drivegate/internal/filesystem/webdav"
)

// OpenBackend builds the remote storage backend selected by cfg. creds is
// a "<user-or-access-key>:<secret>" pair and may be empty.
func OpenBackend(ctx context.Context, cfg *config.Config, creds string) (filesystem.Backend, error) {
	user, secret, err := config.ParseCredentials(creds)
	if err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.BackendS3:
		return s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: user,
			SecretKey: secret,
			LinkTTL:   cfg.LinkTTL,
		})
	case config.BackendWebDAV:
		return webdav.New(webdav.Config{
			URL:      cfg.WebDAV.URL,
			User:     user,
			Password: secret,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
