package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// DatasetID names the exit-history dataset.
const DatasetID = "hearth_exits"

// Partition keys, outermost first. Every record carries these fields.
var partitionKeys = []string{"day", "session", "source"}

// S3Config locates an S3 or S3-compatible bucket.
type S3Config struct {
	Bucket string
	Prefix string
	// Region overrides the SDK default chain.
	Region string
	// Endpoint targets S3-compatible providers such as MinIO or R2.
	Endpoint string
	// UsePathStyle puts the bucket in the path instead of the host name.
	UsePathStyle bool
}

// Validate checks that the bucket is set.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path splits "bucket/prefix" into its parts.
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

// NewDataset opens the exit-history dataset on factory.
func NewDataset(factory lode.StoreFactory) (lode.Dataset, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(DatasetID),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrap("init", DatasetID, err)
	}
	return ds, nil
}

// NewFSDataset opens the dataset under root on the local filesystem,
// creating root if needed.
func NewFSDataset(root string) (lode.Dataset, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrap("init", root, err)
	}
	return NewDataset(lode.NewFSFactory(root))
}

// NewS3Dataset opens the dataset in an S3 bucket. Credentials come from
// the AWS SDK default chain (environment, shared config, instance role).
func NewS3Dataset(ctx context.Context, cfg S3Config) (lode.Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewDataset(func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	})
}
