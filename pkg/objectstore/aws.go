package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	dftypes "github.com/cuemby/deepfreeze/pkg/types"
)

// AWSConfig configures the S3/Glacier-backed Store implementation.
type AWSConfig struct {
	Region          string
	Endpoint        string // custom endpoint for MinIO/LocalStack-style S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
}

// awsStore implements Store on aws-sdk-go-v2's service/s3 client.
type awsStore struct {
	client *s3.Client
}

// NewAWSStore constructs the AWS-backed object-store adapter. When
// cfg.Endpoint is set, the client is configured for path-style addressing
// against an S3-compatible endpoint such as MinIO or LocalStack.
func NewAWSStore(ctx context.Context, cfg AWSConfig) (Store, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &awsStore{client: client}, nil
}

func (a *awsStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return false, nil
	}
	return false, &dftypes.ObjectStoreError{Bucket: bucket, Err: err}
}

func (a *awsStore) CreateBucket(ctx context.Context, bucket string) error {
	_, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return &dftypes.ObjectStoreError{Bucket: bucket, Err: err}
	}
	return nil
}

func (a *awsStore) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &dftypes.ObjectStoreError{Bucket: bucket, Err: err}
		}
		for _, obj := range page.Contents {
			sc := string(obj.StorageClass)
			if sc == "" {
				sc = "STANDARD"
			}
			objects = append(objects, Object{Key: aws.ToString(obj.Key), StorageClass: sc})
		}
	}
	return objects, nil
}

func (a *awsStore) CopyObjectInPlace(ctx context.Context, bucket, key, storageClass string) error {
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		CopySource:   aws.String(fmt.Sprintf("%s/%s", bucket, key)),
		StorageClass: types.StorageClass(storageClass),
	})
	if err != nil {
		return &dftypes.ObjectStoreError{Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

func (a *awsStore) RestoreObject(ctx context.Context, bucket, key string, days int32, tier dftypes.RetrievalTier) error {
	_, err := a.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(days),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: types.Tier(tier),
			},
		},
	})
	if err != nil {
		return &dftypes.ObjectStoreError{Bucket: bucket, Key: key, Err: err}
	}
	return nil
}

func (a *awsStore) HeadObject(ctx context.Context, bucket, key string) (HeadResult, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return HeadResult{}, &dftypes.ObjectStoreError{Bucket: bucket, Key: key, Err: err}
	}
	sc := string(out.StorageClass)
	if sc == "" {
		sc = "STANDARD"
	}
	return HeadResult{StorageClass: sc, Restore: aws.ToString(out.Restore)}, nil
}

// NewStore builds the provider-appropriate Store. gcp/azure return
// NotImplementedError, matching s3_client_factory's behavior.
func NewStore(ctx context.Context, provider dftypes.Provider, cfg AWSConfig) (Store, error) {
	switch provider {
	case dftypes.ProviderAWS:
		return NewAWSStore(ctx, cfg)
	case dftypes.ProviderGCP:
		return nil, &dftypes.NotImplementedError{Provider: "gcp"}
	case dftypes.ProviderAzure:
		return nil, &dftypes.NotImplementedError{Provider: "azure"}
	default:
		return nil, &dftypes.InvalidConfigError{Field: "provider", Value: string(provider)}
	}
}
