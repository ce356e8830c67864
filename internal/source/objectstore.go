package source

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ncruces/go-strftime"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/etlerr"
	"github.com/sells-group/stageload/internal/record"
)

// S3API is the subset of the S3 client the object store source calls.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds an S3 client. Static keys are used when both are set;
// otherwise the default credential chain applies.
func NewS3Client(ctx context.Context, cfg config.AWSConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, stage, eris.Wrap(err, "source: load aws config"))
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// ObjectStore reads date-named objects from a bucket. The key for day d is
// strftime(KeyPattern, ref - LagDays - d) for d in [0, WindowDays).
type ObjectStore struct {
	cfg    config.ObjectStoreConfig
	client S3API
	clock  Clock
	log    *zap.Logger
}

// NewObjectStore creates an object store source.
func NewObjectStore(cfg config.ObjectStoreConfig, client S3API, clock Clock) *ObjectStore {
	if cfg.WindowDays < 1 {
		cfg.WindowDays = 1
	}
	return &ObjectStore{
		cfg:    cfg,
		client: client,
		clock:  clock,
		log:    zap.L().With(zap.String("component", "source.object_store"), zap.String("bucket", cfg.Bucket)),
	}
}

// Name implements Source.
func (o *ObjectStore) Name() string { return "s3://" + o.cfg.Bucket }

// Keys returns the object keys for the current window, oldest first.
func (o *ObjectStore) Keys() []string {
	end := day(o.clock.now()).AddDate(0, 0, -o.cfg.LagDays)
	keys := make([]string, 0, o.cfg.WindowDays)
	for i := o.cfg.WindowDays - 1; i >= 0; i-- {
		keys = append(keys, strftime.Format(o.cfg.KeyPattern, end.AddDate(0, 0, -i)))
	}
	return keys
}

// Extract fetches the window's objects and concatenates them into one batch.
// A single-day window fails with SourceNotFound when its object is missing; a
// wider window skips missing days and fails only when none exist.
func (o *ObjectStore) Extract(ctx context.Context) ([]record.Batch, error) {
	keys := o.Keys()
	var batches []record.Batch
	for _, key := range keys {
		b, err := o.fetch(ctx, key)
		if err != nil {
			if len(keys) > 1 && etlerr.Is(err, etlerr.SourceNotFound) {
				o.log.Info("object missing, skipping day", zap.String("key", key))
				continue
			}
			return nil, err
		}
		batches = append(batches, b)
	}
	if len(batches) == 0 {
		return nil, etlerr.New(etlerr.SourceNotFound, stage,
			eris.Errorf("source: no objects found in s3://%s for %s", o.cfg.Bucket, strings.Join(keys, ", ")))
	}
	if len(batches) == 1 {
		return batches, nil
	}
	joined, err := record.Concat(o.Name()+"/"+keys[0]+"..."+keys[len(keys)-1], batches...)
	if err != nil {
		return nil, err
	}
	return []record.Batch{joined}, nil
}

func (o *ObjectStore) fetch(ctx context.Context, key string) (record.Batch, error) {
	if o.cfg.CheckListing {
		found, err := o.listed(ctx, key)
		if err != nil {
			return record.Batch{}, err
		}
		if !found {
			return record.Batch{}, etlerr.New(etlerr.SourceNotFound, stage,
				eris.Errorf("source: s3://%s/%s not in bucket listing", o.cfg.Bucket, key))
		}
	}

	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return record.Batch{}, etlerr.New(etlerr.SourceNotFound, stage,
				eris.Wrapf(err, "source: get s3://%s/%s", o.cfg.Bucket, key))
		}
		return record.Batch{}, etlerr.New(etlerr.SourceUnavailable, stage,
			eris.Wrapf(err, "source: get s3://%s/%s", o.cfg.Bucket, key))
	}
	defer out.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return record.Batch{}, etlerr.New(etlerr.SourceUnavailable, stage,
			eris.Wrapf(err, "source: read s3://%s/%s", o.cfg.Bucket, key))
	}

	b, err := parseFile(key, data, o.cfg.File)
	if err != nil {
		return record.Batch{}, err
	}
	o.log.Info("object read", zap.String("key", key), zap.Int("bytes", len(data)), zap.Int("records", b.Len()))
	return b, nil
}

// listed reports whether key appears in the bucket listing under its own
// prefix.
func (o *ObjectStore) listed(ctx context.Context, key string) (bool, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(o.cfg.Bucket),
		Prefix: aws.String(key),
	}
	for {
		out, err := o.client.ListObjectsV2(ctx, in)
		if err != nil {
			return false, etlerr.New(etlerr.SourceUnavailable, stage,
				eris.Wrapf(err, "source: list s3://%s", o.cfg.Bucket))
		}
		for _, obj := range out.Contents {
			if aws.ToString(obj.Key) == key {
				return true, nil
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return false, nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}

// Close implements Source.
func (o *ObjectStore) Close() error { return nil }
