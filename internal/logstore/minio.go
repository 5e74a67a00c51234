package logstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinioStore keeps artifacts as objects <prefix><run id>.log in an S3 compatible bucket
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
	Prefix    string
}

func NewMinioStore(ctx context.Context, conf MinioConfig) (*MinioStore, error) {
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.UseSSL,
		Region: conf.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}

	exists, err := client.BucketExists(ctx, conf.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, conf.Bucket, minio.MakeBucketOptions{Region: conf.Region}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
		log.Info().Str("bucket", conf.Bucket).Msg("Created log bucket")
	}

	return &MinioStore{client: client, bucket: conf.Bucket, prefix: conf.Prefix}, nil
}

func (m *MinioStore) key(runID string) (string, error) {
	name, err := artifactName(runID)
	if err != nil {
		return "", err
	}
	return m.prefix + name, nil
}

func (m *MinioStore) Read(ctx context.Context, runID string) (string, error) {
	key, err := m.key(runID)
	if err != nil {
		return "", err
	}

	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", translateMinioErr(err)
	}
	defer func() {
		if err := obj.Close(); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Could not close log object")
		}
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", translateMinioErr(err)
	}
	return string(data), nil
}

// Writer streams everything written to it into a single object, uploaded when closed
func (m *MinioStore) Writer(ctx context.Context, runID string) (io.WriteCloser, error) {
	key, err := m.key(runID)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := m.client.PutObject(ctx, m.bucket, key, pr, -1, minio.PutObjectOptions{
			ContentType: "text/plain; charset=utf-8",
		})
		pr.CloseWithError(err)
		done <- err
	}()

	return &objectWriter{pw: pw, done: done}, nil
}

type objectWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *objectWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

func translateMinioErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return err
}
