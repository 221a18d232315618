package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig carries the object-store connection settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string

	// URLTTL bounds how long presigned download URLs stay valid.
	URLTTL time.Duration

	// MaxInput of zero disables the input size limit.
	MaxInput datasize.ByteSize
}

// Minio is the object-store gateway: references are object keys inside one
// configured bucket.
type Minio struct {
	client *minio.Client
	cfg    MinioConfig
}

// NewMinio connects the client and ensures the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 24 * time.Hour
	}
	return &Minio{client: client, cfg: cfg}, nil
}

func (m *Minio) Fetch(ctx context.Context, ref, localPath string) error {
	stat, err := m.client.StatObject(ctx, m.cfg.Bucket, ref, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return fmt.Errorf("stat %s: %w", ref, err)
	}
	if m.cfg.MaxInput > 0 && datasize.ByteSize(stat.Size) > m.cfg.MaxInput {
		return fmt.Errorf("%w: %s is %s, limit %s",
			ErrTooLarge, ref, datasize.ByteSize(stat.Size).HumanReadable(), m.cfg.MaxInput.HumanReadable())
	}
	if err := m.client.FGetObject(ctx, m.cfg.Bucket, ref, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("fetch %s: %w", ref, err)
	}
	return nil
}

func (m *Minio) Store(ctx context.Context, localPath, hint string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", err
	}

	ref := filepath.Base(hint)
	if ref == "" || ref == "." {
		return "", fmt.Errorf("%w: unusable hint %q", ErrBadRef, hint)
	}
	_, err = m.client.PutObject(ctx, m.cfg.Bucket, ref, file, stat.Size(), minio.PutObjectOptions{
		ContentType: ContentTypeFor(ref),
	})
	if err != nil {
		return "", fmt.Errorf("store %s: %w", ref, err)
	}
	return ref, nil
}

func (m *Minio) DownloadURL(ctx context.Context, ref string) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.cfg.Bucket, ref, m.cfg.URLTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", ref, err)
	}
	return u.String(), nil
}

// ContentTypeFor maps an output file name to its MIME type.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".aac":
		return "audio/aac"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
