package services

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type BucketConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
	// BucketPrefix names the per layer buckets "<prefix>-<layer id>".
	BucketPrefix  string
	PublicBaseURL string

	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
}

// objectStore is the subset of *minio.Client the bucket service uses.
type objectStore interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObjects(ctx context.Context, bucket string, objects <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	RemoveBucket(ctx context.Context, bucket string) error
}

// BucketService stores area pictures, one bucket per layer.
type BucketService struct {
	client objectStore
	cfg    BucketConfig
	log    *zap.Logger
}

func NewBucketService(cfg BucketConfig, log *zap.Logger) (*BucketService, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ResponseHeaderTimeout == 0 {
		cfg.ResponseHeaderTimeout = 120 * time.Second
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext,
			TLSHandshakeTimeout:   cfg.DialTimeout,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			DisableKeepAlives:     true,
		},
	})
	if err != nil {
		return nil, ErrStorage.New("object store client: %v", err)
	}
	return newBucketService(client, cfg, log), nil
}

func newBucketService(client objectStore, cfg BucketConfig, log *zap.Logger) *BucketService {
	return &BucketService{client: client, cfg: cfg, log: log.Named("bucket")}
}

func (s *BucketService) BucketName(layerID uuid.UUID) string {
	return s.cfg.BucketPrefix + "-" + layerID.String()
}

func (s *BucketService) PublicURL(bucket, object string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + bucket + "/" + object
}

// UploadPicture writes the photo as "<area>/<picture><ext>" into the layer
// bucket and returns its public URL. The bucket is created lazily: when the
// first put is rejected the bucket is made and the put retried once.
func (s *BucketService) UploadPicture(ctx context.Context, layerID, areaID, pictureID uuid.UUID,
	filename, contentType string, body io.ReadSeeker, size int64) (string, error) {
	if filename == "" {
		return "", ErrValidation.New("picture must have a filename")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	bucket := s.BucketName(layerID)
	object := areaID.String() + "/" + pictureID.String() + strings.ToLower(filepath.Ext(filename))
	log := s.log.With(zap.String("bucket", bucket), zap.String("object", object))

	put := func() error {
		_, err := s.client.PutObject(ctx, bucket, object, body, size, minio.PutObjectOptions{ContentType: contentType})
		return err
	}

	err := put()
	if err != nil && retryableUpload(err) {
		log.Info("put rejected, creating bucket", zap.Error(err))
		if merr := s.makeBucket(ctx, bucket); merr != nil {
			return "", merr
		}
		if _, serr := body.Seek(0, io.SeekStart); serr != nil {
			return "", ErrStorage.New("rewind picture: %v", serr)
		}
		err = put()
	}
	if err != nil {
		return "", ErrStorage.New("upload %s/%s: %v", bucket, object, err)
	}

	log.Info("picture uploaded", zap.Int64("size", size))
	return s.PublicURL(bucket, object), nil
}

func (s *BucketService) makeBucket(ctx context.Context, bucket string) error {
	err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region})
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return nil
	}
	return ErrStorage.New("make bucket %s: %v", bucket, err)
}

// retryableUpload is true for 4xx answers, typically NoSuchBucket, and for
// connections cut while the body was read.
func retryableUpload(err error) bool {
	if code := minio.ToErrorResponse(err).StatusCode; code >= 400 && code < 500 {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func isNoSuchBucket(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchBucket"
}

// DeleteBucket empties and removes bucket. A missing bucket counts as
// deleted.
func (s *BucketService) DeleteBucket(ctx context.Context, bucket string) error {
	objects := make(chan minio.ObjectInfo)
	var listErr error
	go func() {
		defer close(objects)
		for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			select {
			case objects <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	var removeErr error
	for rerr := range s.client.RemoveObjects(ctx, bucket, objects, minio.RemoveObjectsOptions{}) {
		if removeErr == nil && rerr.Err != nil && !isNoSuchBucket(rerr.Err) {
			removeErr = ErrStorage.New("remove %s/%s: %v", bucket, rerr.ObjectName, rerr.Err)
		}
	}
	if listErr != nil {
		if isNoSuchBucket(listErr) {
			s.log.Info("bucket already gone", zap.String("bucket", bucket))
			return nil
		}
		return ErrStorage.New("list %s: %v", bucket, listErr)
	}
	if removeErr != nil {
		return removeErr
	}

	if err := s.client.RemoveBucket(ctx, bucket); err != nil {
		if isNoSuchBucket(err) {
			return nil
		}
		return ErrStorage.New("remove bucket %s: %v", bucket, err)
	}
	s.log.Info("bucket deleted", zap.String("bucket", bucket))
	return nil
}
