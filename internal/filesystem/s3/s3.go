// Package s3 exposes an S3 bucket as a filesystem.Backend. Keys are mapped
// to paths by treating "/" as the directory separator.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	log "github.com/sirupsen/logrus"

	"drivegate/internal/filesystem"
	"drivegate/pkg/types"
)

// Object metadata keys (x-amz-meta-*) mapped onto entity attributes
const (
	MetaDescription = "description"
	MetaSHA1        = "sha1"
	MetaStar        = "star"
	MetaLabels      = "labels"
	MetaScore       = "score"
	MetaHidden      = "hidden"
)

const defaultLinkTTL = 15 * time.Minute

// Config describes the bucket exposed as the storage root and how to reach it.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// LinkTTL is the lifetime of presigned download links
	LinkTTL time.Duration
}

// Backend implements filesystem.Backend on top of an S3 bucket.
type Backend struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	linkTTL time.Duration
}

// New creates an S3 backend. Without an access key the default AWS
// credential chain is used.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = defaultLinkTTL
	}

	log.WithFields(log.Fields{
		"bucket":   cfg.Bucket,
		"endpoint": cfg.Endpoint,
		"region":   cfg.Region,
	}).Info("S3 backend configured")

	return &Backend{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		linkTTL: ttl,
	}, nil
}

func (b *Backend) Type() string { return "s3" }

func (b *Backend) Close() error { return nil }

// objectKey maps an absolute path to its object key
func objectKey(p string) string {
	return strings.TrimPrefix(filesystem.CleanPath(p), "/")
}

// dirPrefix maps a directory path to the key prefix of its children
func dirPrefix(p string) string {
	key := objectKey(p)
	if key == "" {
		return ""
	}
	return key + "/"
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func (b *Backend) Stat(ctx context.Context, p string) (*types.Entity, error) {
	p = filesystem.CleanPath(p)
	if p == "/" {
		return b.statBucket(ctx)
	}

	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey(p)),
	})
	if err == nil {
		return fileFromHead(p, head), nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("head object %s: %w", p, err)
	}

	return b.statDir(ctx, p)
}

// statBucket reports the bucket root. It is the one call that proves the
// bucket exists and the credentials may read it.
func (b *Backend) statBucket(ctx context.Context) (*types.Entity, error) {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("head bucket %s: %w", b.bucket, err)
	}
	return &types.Entity{Path: "/", IsDirectory: true}, nil
}

// statDir reports p as a directory when at least one key lives under it
func (b *Backend) statDir(ctx context.Context, p string) (*types.Entity, error) {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(dirPrefix(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("probe directory %s: %w", p, err)
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return nil, fmt.Errorf("stat %s: %w", p, filesystem.ErrNotFound)
	}

	dir := &types.Entity{
		Name:        path.Base(p),
		Path:        p,
		IsDirectory: true,
	}
	// a directory marker object carries the directory's own metadata
	if len(out.Contents) > 0 && aws.ToString(out.Contents[0].Key) == dirPrefix(p) {
		marker, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(dirPrefix(p)),
		})
		if err == nil {
			applyMetadata(dir, marker.Metadata)
			dir.MTime = aws.ToTime(marker.LastModified)
			dir.CTime = dir.MTime
			dir.ATime = dir.MTime
		}
	}
	return dir, nil
}

func (b *Backend) ReadDir(ctx context.Context, p string) ([]*types.Entity, error) {
	p = filesystem.CleanPath(p)
	if p != "/" {
		_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(objectKey(p)),
		})
		if err == nil {
			return nil, fmt.Errorf("readdir %s: %w", p, filesystem.ErrNotADirectory)
		}
		if !isNotFound(err) {
			return nil, fmt.Errorf("head object %s: %w", p, err)
		}
	}

	prefix := dirPrefix(p)
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var children []*types.Entity
	found := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", p, err)
		}

		for _, cp := range page.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			children = append(children, &types.Entity{
				Name:        name,
				Path:        path.Join(p, name),
				IsDirectory: true,
			})
		}
		for _, obj := range page.Contents {
			found = true
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			name := strings.TrimPrefix(key, prefix)
			mtime := aws.ToTime(obj.LastModified)
			children = append(children, &types.Entity{
				Name:  name,
				Path:  path.Join(p, name),
				Size:  aws.ToInt64(obj.Size),
				CTime: mtime,
				MTime: mtime,
				ATime: mtime,
			})
		}
	}

	if !found && p != "/" {
		return nil, fmt.Errorf("readdir %s: %w", p, filesystem.ErrNotFound)
	}

	sort.Slice(children, func(i, j int) bool {
		return children[i].Name < children[j].Name
	})
	return children, nil
}

func (b *Backend) Description(ctx context.Context, p string) (string, error) {
	p = filesystem.CleanPath(p)
	entry, err := b.Stat(ctx, p)
	if err != nil {
		return "", err
	}
	if !entry.Described {
		return "", nil
	}

	key := objectKey(p)
	if entry.IsDirectory {
		key = dirPrefix(p)
	}
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("head object %s: %w", p, err)
	}
	return head.Metadata[MetaDescription], nil
}

// SignURL presigns a GET for the object at p. Presigned links are bound to
// the signing credentials only, so the forwarded header is not used.
func (b *Backend) SignURL(ctx context.Context, p string, header http.Header) (string, error) {
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey(p)),
	}, s3.WithPresignExpires(b.linkTTL))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", p, err)
	}
	return req.URL, nil
}

func fileFromHead(p string, head *s3.HeadObjectOutput) *types.Entity {
	mtime := aws.ToTime(head.LastModified)
	e := &types.Entity{
		Name:  path.Base(p),
		Path:  p,
		Size:  aws.ToInt64(head.ContentLength),
		CTime: mtime,
		MTime: mtime,
		ATime: mtime,
	}
	applyMetadata(e, head.Metadata)
	return e
}

// applyMetadata copies user metadata onto e. The SDK lower-cases metadata keys.
func applyMetadata(e *types.Entity, meta map[string]string) {
	e.SHA1 = strings.ToUpper(meta[MetaSHA1])
	e.Described = meta[MetaDescription] != ""
	e.Star = parseBool(meta[MetaStar])
	e.Hidden = parseBool(meta[MetaHidden])
	if score, err := strconv.Atoi(meta[MetaScore]); err == nil {
		e.Score = score
	}
	for _, name := range strings.Split(meta[MetaLabels], ",") {
		if name = strings.TrimSpace(name); name != "" {
			e.Labels = append(e.Labels, types.Label{Name: name})
		}
	}
}

func parseBool(s string) bool {
	v, _ := strconv.ParseBool(s)
	return v
}
