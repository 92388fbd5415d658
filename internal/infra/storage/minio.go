package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
)

const recordPrefix = "records/"

// Store keeps one JSON object per scan record in a MinIO / S3 bucket.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

// Config describes the bucket a Store writes to.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Transport overrides the HTTP transport, e.g. for a private CA.
	Transport http.RoundTripper
}

// New buat koneksi MinIO
func New(ctx context.Context, cfg Config) (*Store, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: cfg.Bucket, region: cfg.Region}, nil
}

func objectKey(id domain.RecordID) string {
	return recordPrefix + path.Base(string(id)) + ".json"
}

// Save implementasi Repository. Records are immutable: saving an id that
// already exists leaves the stored object untouched.
func (s *Store) Save(ctx context.Context, r *domain.ScanRecord) error {
	key := objectKey(r.ID)
	_, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return domain.Storage("save", err)
	}

	body, err := json.Marshal(r)
	if err != nil {
		return domain.Storage("save", err)
	}
	_, err = s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return domain.Storage("save", err)
	}
	return nil
}

// List reads every record object and orders them newest first. Objects
// removed while the listing is in flight are skipped.
func (s *Store) List(ctx context.Context) ([]*domain.ScanRecord, error) {
	var out []*domain.ScanRecord
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: recordPrefix}) {
		if obj.Err != nil {
			return nil, domain.Storage("list", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		rec, err := s.read(ctx, obj.Key)
		if isNotFound(err) {
			// deleted between listing and reading
			continue
		}
		if err != nil {
			return nil, domain.Storage("list", fmt.Errorf("read %s: %w", obj.Key, err))
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) Get(ctx context.Context, id domain.RecordID) (*domain.ScanRecord, error) {
	rec, err := s.read(ctx, objectKey(id))
	if isNotFound(err) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, domain.Storage("get", err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id domain.RecordID) error {
	key := objectKey(id)
	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return domain.ErrRecordNotFound
		}
		return domain.Storage("delete", err)
	}
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return domain.Storage("delete", err)
	}
	return nil
}

// Check reports whether the bucket is reachable, for /health.
func (s *Store) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s missing", s.bucketName)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string) (*domain.ScanRecord, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	var rec domain.ScanRecord
	if err := json.NewDecoder(obj).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func sortNewestFirst(recs []*domain.ScanRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CapturedAt.Equal(recs[j].CapturedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].CapturedAt.After(recs[j].CapturedAt)
	})
}
