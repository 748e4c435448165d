package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"

	"alcyxob/profile-sync/internal/config"
	"alcyxob/profile-sync/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config" // Alias config to avoid clash
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3Remote implements Service on an S3-compatible bucket. Each user's state
// lives under its own key prefix as plain JSON snapshots, which makes every
// push a natural idempotent upsert.
type s3Remote struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates a Service backed by S3 or an S3-compatible endpoint
// (MinIO, DigitalOcean Spaces).
func NewS3(cfg config.S3Config) (Service, error) {
	// Custom resolver for S3-compatible endpoints
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.Endpoint != "" {
			return aws.Endpoint{
				PartitionID:   "aws",
				URL:           cfg.Endpoint,
				SigningRegion: cfg.Region,
			}, nil
		}
		// Fall back to default AWS endpoint resolution
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsSDKConfig, err := awsCfg.LoadDefaultConfig(context.TODO(),
		awsCfg.WithRegion(cfg.Region),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		awsCfg.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS SDK config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsSDKConfig, func(o *s3.Options) {
		o.UsePathStyle = true // Required by most S3-compatible services
	})

	log.Printf("S3 remote initialized for endpoint: %s, bucket: %s", cfg.Endpoint, cfg.BucketName)

	return &s3Remote{
		client: s3Client,
		bucket: cfg.BucketName,
		prefix: cfg.KeyPrefix,
	}, nil
}

func (r *s3Remote) profileKey(userID string) string {
	return path.Join(r.prefix, userID, "profile.json")
}

func (r *s3Remote) weightKey(userID, day string) string {
	return path.Join(r.prefix, userID, "weights", day+".json")
}

// FetchProfile downloads the remote aggregate snapshot. A missing key means
// the remote has never seen this user.
func (r *s3Remote) FetchProfile(ctx context.Context, userID string) (*domain.ProfileAggregate, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.profileKey(userID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: fetch profile %s: %v", ErrUnavailable, userID, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read profile %s: %v", ErrUnavailable, userID, err)
	}
	return domain.DecodeProfileSnapshot(raw)
}

// PushProfile uploads the full aggregate snapshot.
func (r *s3Remote) PushProfile(ctx context.Context, profile *domain.ProfileAggregate) error {
	raw, err := domain.EncodeProfileSnapshot(profile)
	if err != nil {
		return err
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.profileKey(profile.UserID)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: push profile %s: %v", ErrUnavailable, profile.UserID, err)
	}
	return nil
}

// PushWeight uploads one ledger row keyed by its calendar day.
func (r *s3Remote) PushWeight(ctx context.Context, entry *domain.WeightLogEntry) error {
	raw, err := domain.EncodeWeightSnapshot(entry)
	if err != nil {
		return err
	}

	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.weightKey(entry.UserID, entry.RecordDate)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: push weight %s/%s: %v", ErrUnavailable, entry.UserID, entry.RecordDate, err)
	}
	return nil
}

// DeleteWeight removes the remote ledger row for one day. Deleting an absent
// key succeeds, which keeps replays idempotent.
func (r *s3Remote) DeleteWeight(ctx context.Context, userID, day string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.weightKey(userID, day)),
	})
	if err != nil {
		return fmt.Errorf("%w: delete weight %s/%s: %v", ErrUnavailable, userID, day, err)
	}
	return nil
}
