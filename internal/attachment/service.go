// Package attachment stores page file uploads in S3-compatible object storage.
package attachment

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"trellis/internal/util"
)

// Attachment describes an uploaded file bound to a page.
type Attachment struct {
	ID          string    `json:"id"`
	PageID      string    `json:"pageId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatorID   string    `json:"creatorId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to object storage and makes sure the bucket exists.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Printf("attachment: created bucket %s", cfg.Bucket)
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// Upload streams a file into the bucket under attachments/<pageID>/<id>-<name>.
func (s *Service) Upload(ctx context.Context, pageID, creatorID, fileName, contentType string, size int64, body io.Reader) (Attachment, error) {
	id := util.NewID("att")
	key := objectKey(pageID, id, fileName)

	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"page-id":    pageID,
			"creator-id": creatorID,
			"file-name":  fileName,
		},
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("put object %s: %w", key, err)
	}

	return Attachment{
		ID:          id,
		PageID:      pageID,
		FileName:    fileName,
		ContentType: contentType,
		Size:        info.Size,
		CreatorID:   creatorID,
		CreatedAt:   time.Now(),
	}, nil
}

// Open returns a reader for an attachment. The caller must close it.
func (s *Service) Open(ctx context.Context, pageID, attachmentID, fileName string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(pageID, attachmentID, fileName), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

// PresignedURL returns a time-limited download URL for an attachment.
func (s *Service) PresignedURL(ctx context.Context, pageID, attachmentID, fileName string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey(pageID, attachmentID, fileName), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

// List returns the attachments stored for a page.
func (s *Service) List(ctx context.Context, pageID string) ([]Attachment, error) {
	prefix := "attachments/" + pageID + "/"
	var items []Attachment
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		id, name := splitKey(strings.TrimPrefix(obj.Key, prefix))
		items = append(items, Attachment{
			ID:          id,
			PageID:      pageID,
			FileName:    name,
			ContentType: obj.ContentType,
			Size:        obj.Size,
			CreatedAt:   obj.LastModified,
		})
	}
	return items, nil
}

// Delete removes an attachment object.
func (s *Service) Delete(ctx context.Context, pageID, attachmentID, fileName string) error {
	key := objectKey(pageID, attachmentID, fileName)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// DeleteAllForPage removes every attachment belonging to a page.
func (s *Service) DeleteAllForPage(ctx context.Context, pageID string) error {
	prefix := "attachments/" + pageID + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list objects: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %s: %w", obj.Key, err)
		}
	}
	return nil
}

func objectKey(pageID, attachmentID, fileName string) string {
	return path.Join("attachments", pageID, attachmentID+"-"+fileName)
}

func splitKey(rest string) (id, name string) {
	if i := strings.Index(rest, "-"); i > 0 {
		return rest[:i], rest[i+1:]
	}
	return rest, rest
}
