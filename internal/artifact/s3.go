package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// S3Options configures the S3 store. Static keys are optional; the default
// AWS credential chain is used without them.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3 stores artifacts as PNG objects under an optional prefix.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 artifact store: bucket is required")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return &S3{
		client:   cli,
		uploader: manager.NewUploader(cli),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
	}, nil
}

// ObjectKey is the full object key of an artifact.
func (s *S3) ObjectKey(kind, key string) string {
	name := Name(kind, key)
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Ping checks that the bucket is reachable.
func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

func (s *S3) get(ctx context.Context, kind, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.ObjectKey(kind, key)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3) put(ctx context.Context, kind, key string, img image.Image) error {
	b, err := encodePNG(img)
	if err != nil {
		return err
	}
	objKey := s.ObjectKey(kind, key)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objKey),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("image/png"),
		Metadata:    map[string]string{"page": key, "artifact": kind},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Debug().Str("key", objKey).Int("size", len(b)).Msg("artifact uploaded")
	return nil
}

func (s *S3) LoadMask(ctx context.Context, key string) (*image.Gray, error) {
	b, err := s.get(ctx, KindMask, key)
	if err != nil || b == nil {
		return nil, err
	}
	return decodeMask(b)
}

func (s *S3) SaveMask(ctx context.Context, key string, mask *image.Gray) error {
	return s.put(ctx, KindMask, key, mask)
}

func (s *S3) LoadRestored(ctx context.Context, key string) (*image.RGBA, error) {
	b, err := s.get(ctx, KindRestored, key)
	if err != nil || b == nil {
		return nil, err
	}
	return decodeRGBA(b)
}

func (s *S3) SaveRestored(ctx context.Context, key string, img *image.RGBA) error {
	return s.put(ctx, KindRestored, key, img)
}
