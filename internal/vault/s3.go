package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/itsvetkov1/Sentient-Inbox/internal/config"
	"github.com/itsvetkov1/Sentient-Inbox/internal/inbox"
)

const checksumMetadataKey = "snapshot-checksum"

// S3Vault stores snapshot archives as objects in an S3 bucket. Each
// snapshot is a single object at <prefix>/<id>.tar with its checksum
// recorded in object metadata, so listing and verification need no
// extra round trips beyond a HEAD.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Vault creates an S3-backed vault from the given config. When the
// access/secret key env vars are configured, static credentials are used;
// otherwise the SDK's default credential chain applies.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyEnv != "" && cfg.S3SecretKeyEnv != "" {
		accessKey := os.Getenv(cfg.S3AccessKeyEnv)
		secretKey := os.Getenv(cfg.S3SecretKeyEnv)
		if accessKey == "" || secretKey == "" {
			return nil, fmt.Errorf("s3 credentials env vars %s/%s are not set", cfg.S3AccessKeyEnv, cfg.S3SecretKeyEnv)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Vault{
		name:     cfg.Name,
		bucket:   cfg.S3Bucket,
		prefix:   strings.Trim(cfg.S3Prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (v *S3Vault) key(id string) string {
	return path.Join(v.prefix, id+".tar")
}

// PutSnapshot uploads a snapshot archive with its checksum in object metadata.
func (v *S3Vault) PutSnapshot(ctx context.Context, id string, r io.Reader, size int64, checksum string) error {
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(v.bucket),
		Key:           aws.String(v.key(id)),
		Body:          r,
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{checksumMetadataKey: checksum},
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot %s: %w", id, err)
	}
	return nil
}

// GetSnapshot downloads a snapshot archive into w.
func (v *S3Vault) GetSnapshot(ctx context.Context, id string, w io.Writer) error {
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("snapshot %s: %w", id, inbox.ErrNotFound)
		}
		return fmt.Errorf("failed to get snapshot %s: %w", id, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to read snapshot %s: %w", id, err)
	}
	return nil
}

// SnapshotChecksum returns the checksum recorded when the snapshot was uploaded.
func (v *S3Vault) SnapshotChecksum(ctx context.Context, id string) (string, error) {
	out, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(id)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to head snapshot %s: %w", id, err)
	}
	sum, ok := out.Metadata[checksumMetadataKey]
	if !ok || sum == "" {
		return "", fmt.Errorf("checksum not found for snapshot: %s", id)
	}
	return sum, nil
}

// ListSnapshots returns snapshot IDs in ascending order.
func (v *S3Vault) ListSnapshots(ctx context.Context) ([]string, error) {
	listPrefix := ""
	if v.prefix != "" {
		listPrefix = v.prefix + "/"
	}

	var ids []string
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			if !strings.HasSuffix(name, ".tar") {
				continue
			}
			ids = append(ids, strings.TrimSuffix(name, ".tar"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteSnapshot removes a snapshot object.
func (v *S3Vault) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	return nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(v.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s is not accessible: %w", v.bucket, err)
	}
	return nil
}

// Compile-time check that S3Vault implements the Vault interface
var _ inbox.Vault = (*S3Vault)(nil)
