package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the optional object store that keeps a copy of every
// encoded audio alert.
type S3Options struct {
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string `json:"region" mapstructure:"region"`
	Prefix          string `json:"prefix" mapstructure:"prefix"`

	// URLExpiry is the lifetime of the download link returned with each
	// archived alert. Zero disables links.
	URLExpiry time.Duration `json:"url-expiry" mapstructure:"url-expiry"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		Endpoint:   "localhost:9000",
		UseSSL:     false,
		BucketName: "audio-alerts",
		Region:     "us-east-1",
		Prefix:     "alerts",
		URLExpiry:  time.Hour,
	}
}

func (o *S3Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if o.Endpoint == "" {
		errs = append(errs, errors.New("--s3.endpoint is required when --s3.enabled is set"))
	}
	if o.BucketName == "" {
		errs = append(errs, errors.New("--s3.bucket-name is required when --s3.enabled is set"))
	}
	if o.URLExpiry < 0 || o.URLExpiry > 7*24*time.Hour {
		errs = append(errs, errors.New("--s3.url-expiry must be between 0 and 7 days"))
	}
	return errs
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "s3.enabled", o.Enabled, "Archive every encoded audio alert to S3")
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local:9000)")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket name for archived alerts")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.StringVar(&o.Prefix, "s3.prefix", o.Prefix, "Object key prefix for archived alerts")
	fs.DurationVar(&o.URLExpiry, "s3.url-expiry", o.URLExpiry, "Lifetime of presigned links to archived alerts; 0 disables them")
}
