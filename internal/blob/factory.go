package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	fsstore "crmcore/internal/infra/blob/fs"
	memorystore "crmcore/internal/infra/blob/memory"
	s3store "crmcore/internal/infra/blob/s3"
)

// Environment keys read by Open.
const (
	EnvDriver       = "CRMCORE_EXPORT_DRIVER"
	EnvFSRoot       = "CRMCORE_EXPORT_FS_ROOT"
	EnvS3Bucket     = "CRMCORE_EXPORT_S3_BUCKET"
	EnvS3Region     = "CRMCORE_EXPORT_S3_REGION"
	EnvS3Endpoint   = "CRMCORE_EXPORT_S3_ENDPOINT"
	EnvS3PathStyle  = "CRMCORE_EXPORT_S3_PATH_STYLE"
	EnvS3AccessKey  = "CRMCORE_EXPORT_S3_ACCESS_KEY_ID"
	EnvS3SecretKey  = "CRMCORE_EXPORT_S3_SECRET_ACCESS_KEY"
	defaultFSRoot   = "./exports"
	defaultS3Region = "us-east-1"
)

// Config selects and configures an export sink.
type Config struct {
	Driver Driver
	FSRoot string
	S3     s3store.Config
}

// ConfigFromEnv reads sink configuration from the process environment.
//
//	CRMCORE_EXPORT_DRIVER: fs|s3|memory (default fs)
//	CRMCORE_EXPORT_FS_ROOT: directory for driver=fs (default ./exports)
//	CRMCORE_EXPORT_S3_*: bucket, region, endpoint, path style and static keys for driver=s3
func ConfigFromEnv() Config {
	cfg := Config{
		Driver: Driver(strings.ToLower(strings.TrimSpace(os.Getenv(EnvDriver)))),
		FSRoot: os.Getenv(EnvFSRoot),
		S3: s3store.Config{
			Bucket:          os.Getenv(EnvS3Bucket),
			Region:          os.Getenv(EnvS3Region),
			Endpoint:        os.Getenv(EnvS3Endpoint),
			PathStyle:       strings.EqualFold(os.Getenv(EnvS3PathStyle), "true"),
			AccessKeyID:     os.Getenv(EnvS3AccessKey),
			SecretAccessKey: os.Getenv(EnvS3SecretKey),
		},
	}
	return cfg
}

// Open builds the sink described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		root := cfg.FSRoot
		if root == "" {
			root = defaultFSRoot
		}
		return fsstore.New(root)
	case DriverMemory:
		return memorystore.New(), nil
	case DriverS3:
		s3cfg := cfg.S3
		if s3cfg.Region == "" {
			s3cfg.Region = defaultS3Region
		}
		return s3store.New(ctx, s3cfg)
	default:
		return nil, fmt.Errorf("unknown export driver %q", cfg.Driver)
	}
}

// OpenFromEnv is Open(ctx, ConfigFromEnv()).
func OpenFromEnv(ctx context.Context) (Store, error) {
	return Open(ctx, ConfigFromEnv())
}
