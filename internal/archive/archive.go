// Package archive keeps an S3 copy of every published report: the photos
// and the reports file of the commit, bundled into one ZIP compressed with
// Zstandard.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/github"
)

// MethodZstd is the ZIP compression method id for Zstandard (APPNOTE 6.3.7).
const MethodZstd uint16 = 93

const projectTag = "Project=avku-reports-bot"

func init() {
	zip.RegisterCompressor(MethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	zip.RegisterDecompressor(MethodZstd, func(r io.Reader) io.ReadCloser {
		d, err := zstd.NewReader(r)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return d.IOReadCloser()
	})
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// PutObjectAPI is the part of the S3 client the archive uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive uploads bundles to one bucket.
type S3Archive struct {
	client PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// New creates an S3Archive writing under prefix (for example "reports/").
func New(client PutObjectAPI, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Key returns the object key for a report bundle.
func (a *S3Archive) Key(reportID string) string {
	return path.Join(a.prefix, reportID+".zip")
}

// Archive bundles files and uploads them as <prefix>/<reportID>.zip.
func (a *S3Archive) Archive(ctx context.Context, reportID string, files []github.FileChange) error {
	data, err := Bundle(files, a.now())
	if err != nil {
		return err
	}
	key := a.Key(reportID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/zip"),
		Tagging:     aws.String(projectTag),
		Metadata:    map[string]string{"report-id": reportID},
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Info().Str("bucket", a.bucket).Str("key", key).Int("files", len(files)).Int("bytes", len(data)).
		Msg("Report archived to S3")
	return nil
}

// Bundle writes files into a ZIP. Photos are already compressed and are
// stored as is; everything else uses Zstandard.
func Bundle(files []github.FileChange, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		method := MethodZstd
		if isImage(f.Path) {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Path, Method: method, Modified: modified})
		if err != nil {
			return nil, fmt.Errorf("zip %s: %w", f.Path, err)
		}
		if _, err := w.Write(f.Content); err != nil {
			return nil, fmt.Errorf("zip %s: %w", f.Path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

func isImage(p string) bool {
	switch path.Ext(p) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return true
	}
	return false
}
