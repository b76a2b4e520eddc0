// Package avatar moves inline profile pictures into object storage.
//
// Clients may send an avatar as a base64 data URI. Storing that blob in
// every identity document bloats each roster read, so when a bucket is
// configured the image is uploaded and the identity keeps only its URL.
package avatar

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/xid"

	"github.com/sakif/campus-companion/internal/apperror"
)

// MaxBytes is the largest decoded image accepted.
const MaxBytes = 2 << 20

var extensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// Putter is the one S3 call the store makes. *s3.Client satisfies it.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config locates the bucket. Endpoint is set for S3-compatible services
// such as MinIO; AccessKey/SecretKey fall back to the default AWS chain
// when empty.
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

// Store uploads avatars.
type Store struct {
	client     Putter
	bucket     string
	publicBase string
}

// New builds an S3 client from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("avatar: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, cfg.Bucket, publicBase(cfg)), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Putter, bucket, publicBaseURL string) *Store {
	return &Store{client: client, bucket: bucket, publicBase: strings.TrimRight(publicBaseURL, "/")}
}

func publicBase(cfg Config) string {
	switch {
	case cfg.PublicBaseURL != "":
		return cfg.PublicBaseURL
	case cfg.Endpoint != "":
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
}

// IsDataURI reports whether v is an inline base64 image.
func IsDataURI(v string) bool {
	return strings.HasPrefix(v, "data:image/") && strings.Contains(v, ";base64,")
}

// ParseDataURI splits "data:image/png;base64,...." into its content type
// and decoded bytes.
func ParseDataURI(v string) (string, []byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(v, "data:"), ";base64,")
	if !ok || !strings.HasPrefix(v, "data:") {
		return "", nil, apperror.ValidationFailed("profileImageUrl", "not a base64 data URI")
	}
	if _, ok := extensions[header]; !ok {
		return "", nil, apperror.ValidationFailed("profileImageUrl", "unsupported image type "+header)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxBytes+3 {
		return "", nil, apperror.ValidationFailed("profileImageUrl", "image is larger than 2 MB")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, apperror.ValidationFailed("profileImageUrl", "image is not valid base64")
	}
	if len(data) > MaxBytes {
		return "", nil, apperror.ValidationFailed("profileImageUrl", "image is larger than 2 MB")
	}
	return header, data, nil
}

// Offload uploads value when it is a data URI and returns the public URL.
// Anything else is returned unchanged.
func (s *Store) Offload(ctx context.Context, roll, value string) (string, error) {
	if !IsDataURI(value) {
		return value, nil
	}

	contentType, data, err := ParseDataURI(value)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("avatars/%s/%s%s", roll, xid.New().String(), extensions[contentType])
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", apperror.RemoteUnavailable("avatar upload", err)
	}

	return s.publicBase + "/" + key, nil
}
