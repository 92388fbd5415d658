package storage_test

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
	"github.com/bryanwahyu/qr-biometric/internal/infra/storage"
)

// fakeS3 serves the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	// ghosts are listed but vanish before they can be read.
	ghosts []string
	puts   int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if key == "" {
		f.serveBucket(w, r, bucket)
		return
	}
	if !f.buckets[bucket] {
		s3Error(w, r, http.StatusNotFound, "NoSuchBucket")
		return
	}
	body, ok := f.objects[key]
	switch r.Method {
	case http.MethodPut:
		data, err := readPayload(r)
		if err != nil {
			s3Error(w, r, http.StatusBadRequest, "IncompleteBody")
			return
		}
		f.objects[key] = data
		f.puts++
		w.Header().Set("ETag", etag(data))
		w.WriteHeader(http.StatusOK)
	case http.MethodHead, http.MethodGet:
		if !ok {
			s3Error(w, r, http.StatusNotFound, "NoSuchKey")
			return
		}
		h := w.Header()
		h.Set("ETag", etag(body))
		h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		h.Set("Content-Type", "application/json")
		h.Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		s3Error(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeS3) serveBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	switch {
	case r.Method == http.MethodHead:
		if !f.buckets[bucket] {
			s3Error(w, r, http.StatusNotFound, "NoSuchBucket")
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		f.list(w, r, bucket)
	default:
		s3Error(w, r, http.StatusNotImplemented, "NotImplemented")
	}
}

type listContent struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int    `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type listResult struct {
	XMLName     xml.Name      `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name        string        `xml:"Name"`
	Prefix      string        `xml:"Prefix"`
	KeyCount    int           `xml:"KeyCount"`
	MaxKeys     int           `xml:"MaxKeys"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request, bucket string) {
	prefix := r.URL.Query().Get("prefix")
	keys := append([]string(nil), f.ghosts...)
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := listResult{Name: bucket, Prefix: prefix, MaxKeys: 1000}
	now := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		res.Contents = append(res.Contents, listContent{
			Key: k, LastModified: now, ETag: etag(f.objects[k]), Size: len(f.objects[k]), StorageClass: "STANDARD",
		})
	}
	res.KeyCount = len(res.Contents)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(res)
}

func s3Error(w http.ResponseWriter, r *http.Request, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message><Resource>%s</Resource></Error>`,
			code, code, r.URL.Path)
	}
}

func etag(b []byte) string {
	sum := md5.Sum(b)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// readPayload returns the object body, decoding aws-chunked framing when the
// client streams it.
func readPayload(r *http.Request) ([]byte, error) {
	chunked := strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") ||
		strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-")
	if !chunked {
		return io.ReadAll(r.Body)
	}
	var out bytes.Buffer
	br := bufio.NewReader(r.Body)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, n); err != nil {
			return nil, err
		}
		if _, err := br.ReadString('\n'); err != nil {
			return nil, err
		}
	}
}

func newStore(t *testing.T, fake *fakeS3) *storage.Store {
	t.Helper()
	srv := httptest.NewTLSServer(fake)
	t.Cleanup(srv.Close)

	st, err := storage.New(context.Background(), storage.Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "https://"),
		Region:    "us-east-1",
		Bucket:    "scans",
		AccessKey: "minio",
		SecretKey: "minio-secret",
		UseSSL:    true,
		Transport: srv.Client().Transport,
	})
	require.NoError(t, err)
	return st
}

func record(id string, content string, at time.Time) *domain.ScanRecord {
	return &domain.ScanRecord{ID: domain.RecordID(id), Content: content, ContentType: domain.ContentText, CapturedAt: at}
}

func TestStore_NewCreatesBucket(t *testing.T) {
	fake := newFakeS3()
	st := newStore(t, fake)

	fake.mu.Lock()
	assert.True(t, fake.buckets["scans"])
	fake.mu.Unlock()
	assert.NoError(t, st.Check(context.Background()))
}

func TestStore_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	st := newStore(t, fake)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.Save(ctx, record("r1", "hello", at)))

	got, err := st.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, domain.ContentText, got.ContentType)
	assert.True(t, at.Equal(got.CapturedAt))

	require.NoError(t, st.Delete(ctx, "r1"))
	_, err = st.Get(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	assert.ErrorIs(t, st.Delete(ctx, "r1"), domain.ErrRecordNotFound)
}

func TestStore_SaveKeepsExistingRecord(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	st := newStore(t, fake)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.Save(ctx, record("r1", "original", at)))
	require.NoError(t, st.Save(ctx, record("r1", "overwrite", at.Add(time.Hour))))

	got, err := st.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)
	assert.True(t, at.Equal(got.CapturedAt))
	fake.mu.Lock()
	assert.Equal(t, 1, fake.puts)
	fake.mu.Unlock()
}

func TestStore_ListNewestFirstSkipsVanishedObjects(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	st := newStore(t, fake)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.Save(ctx, record("old", "a", base)))
	require.NoError(t, st.Save(ctx, record("new", "b", base.Add(time.Minute))))

	fake.mu.Lock()
	fake.ghosts = []string{"records/ghost.json"}
	fake.objects["records/notes.txt"] = []byte("ignored")
	fake.mu.Unlock()

	recs, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.RecordID("new"), recs[0].ID)
	assert.Equal(t, domain.RecordID("old"), recs[1].ID)
}

func TestStore_ListFailsOnCorruptObject(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	st := newStore(t, fake)

	fake.mu.Lock()
	fake.objects["records/bad.json"] = []byte("{not json")
	fake.mu.Unlock()

	_, err := st.List(ctx)
	assert.ErrorIs(t, err, domain.ErrStorage)
}
