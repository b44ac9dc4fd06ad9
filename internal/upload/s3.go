package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	appconfig "mediabot/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Target uploads packages to an S3-compatible bucket (AWS S3 or
// Cloudflare R2 via a custom endpoint).
type S3Target struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Target builds a target from the ambient S3 configuration. A custom
// endpoint switches the client to path-style addressing for R2 and other
// S3-compatible stores.
func NewS3Target(ctx context.Context, logger *slog.Logger) (*S3Target, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if appconfig.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET not configured")
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(appconfig.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			appconfig.S3AccessKey, appconfig.S3SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if appconfig.S3EndpointURL != "" {
			o.BaseEndpoint = aws.String(appconfig.S3EndpointURL)
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 upload target initialized",
		"bucket", appconfig.S3Bucket, "region", appconfig.S3Region)
	return &S3Target{
		client: client,
		bucket: appconfig.S3Bucket,
		prefix: appconfig.S3Prefix,
		logger: logger,
	}, nil
}

// NewS3TargetWithClient creates a target around an existing client (for
// testing).
func NewS3TargetWithClient(client *s3.Client, bucket, prefix string, logger *slog.Logger) *S3Target {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Target{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (s *S3Target) Name() string { return "s3" }

func (s *S3Target) Upload(ctx context.Context, packageDir, jobID string) (*TargetResult, error) {
	files, err := packageFiles(packageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate package: %w", err)
	}

	keyRoot := path.Join(s.prefix, jobID)
	result := &TargetResult{
		RemoteLocation: fmt.Sprintf("s3://%s/%s/", s.bucket, keyRoot),
	}

	for _, rel := range files {
		local := filepath.Join(packageDir, rel)
		key := path.Join(keyRoot, filepath.ToSlash(rel))

		f, err := os.Open(local)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", local, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to stat %s: %w", local, err)
		}

		out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
		})
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", key, err)
		}

		etag := ""
		if out.ETag != nil {
			etag = strings.Trim(*out.ETag, `"`)
		}
		result.PerFile = append(result.PerFile, UploadedFile{
			Filename:   filepath.ToSlash(rel),
			RemotePath: key,
			Size:       info.Size(),
			ETag:       etag,
		})
	}

	s.logger.Info("package uploaded to S3",
		"job_id", jobID, "bucket", s.bucket, "key_root", keyRoot, "files", len(result.PerFile))
	return result, nil
}

func (s *S3Target) HealthCheck(ctx context.Context) bool {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err == nil
}
