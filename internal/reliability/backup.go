// Package reliability periodically snapshots the store's SQLite file and
// uploads it to S3-compatible cold storage, so a process restart never
// has to rebuild trading history from the broker alone.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Uploader is the subset of the S3 manager.Uploader this package needs,
// narrowed for testability.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Service periodically archives the store file and ships it off-box.
type Service struct {
	uploader Uploader
	bucket   string
	dbPath   string
	log      zerolog.Logger
}

func New(uploader Uploader, bucket, dbPath string, log zerolog.Logger) *Service {
	return &Service{uploader: uploader, bucket: bucket, dbPath: dbPath,
		log: log.With().Str("component", "reliability").Logger()}
}

// BackupNow archives the store file into a gzip-compressed tar and
// uploads it as a timestamped object.
func (s *Service) BackupNow(ctx context.Context) error {
	start := time.Now()
	key := fmt.Sprintf("aegis-store-%s.tar.gz", start.UTC().Format("20060102T150405Z"))

	staging, err := os.CreateTemp("", "aegis-backup-*.tar.gz")
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	defer os.Remove(staging.Name())
	defer staging.Close()

	if err := archiveTo(staging, s.dbPath); err != nil {
		return fmt.Errorf("archive store: %w", err)
	}
	if _, err := staging.Seek(0, 0); err != nil {
		return fmt.Errorf("rewind staging file: %w", err)
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   staging,
	})
	if err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}

	s.log.Info().Str("key", key).Dur("elapsed", time.Since(start)).Msg("backup uploaded")
	return nil
}

func archiveTo(dst *os.File, dbPath string) error {
	gz := gzip.NewWriter(dst)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	info, err := os.Stat(dbPath)
	if err != nil {
		return fmt.Errorf("stat store file: %w", err)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(dbPath)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("write store file into archive: %w", err)
	}
	return nil
}
