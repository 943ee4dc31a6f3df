package store_test

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/ndlib/sigbag/store"
	"github.com/ndlib/sigbag/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, store.NewMemory())
}

func TestMemoryStress(t *testing.T) {
	storetest.Stress(t, store.NewMemory(), 0)
}

func TestFileSystem(t *testing.T) {
	storetest.Run(t, store.NewFileSystem(t.TempDir()))
}

func TestFileSystemStress(t *testing.T) {
	storetest.Stress(t, store.NewFileSystem(t.TempDir()), 0)
}

func TestPrefix(t *testing.T) {
	s, err := store.NewWithPrefix(store.NewMemory(), "zz")
	if err != nil {
		t.Fatal(err)
	}
	storetest.Run(t, s)
}

func TestPrefixStress(t *testing.T) {
	s, err := store.NewWithPrefix(store.NewFileSystem(t.TempDir()), "ns_")
	if err != nil {
		t.Fatal(err)
	}
	storetest.Stress(t, s, 10)
}

func TestS3(t *testing.T) {
	s3 := &fakeS3{objects: make(map[string][]byte)}
	storetest.Run(t, store.NewS3WithClient("bucket", "containers/", s3))
	for key := range s3.objects {
		if !strings.HasPrefix(key, "containers/") {
			t.Errorf("object %s stored without prefix", key)
		}
	}
}

// fakeS3 keeps objects in a map. Only the calls the S3 store makes are
// implemented.
type fakeS3 struct {
	s3iface.S3API
	m       sync.Mutex
	objects map[string][]byte
}

func notFound(code string) error {
	return awserr.NewRequestFailure(awserr.New(code, "not found", nil), http.StatusNotFound, "")
}

func (f *fakeS3) ListObjectsV2Pages(in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool) error {
	f.m.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	f.m.Unlock()
	sort.Strings(keys)
	// two to a page
	for len(keys) > 0 {
		n := min(2, len(keys))
		page := &s3.ListObjectsV2Output{}
		for _, k := range keys[:n] {
			page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
		}
		keys = keys[n:]
		if !fn(page, len(keys) == 0) {
			break
		}
	}
	return nil
}

func (f *fakeS3) GetObject(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	f.m.Lock()
	defer f.m.Unlock()
	b, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFound(s3.ErrCodeNoSuchKey)
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(b)),
		ContentLength: aws.Int64(int64(len(b))),
	}, nil
}

func (f *fakeS3) HeadObject(in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
	f.m.Lock()
	defer f.m.Unlock()
	b, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFound("NotFound")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b)))}, nil
}

func (f *fakeS3) PutObject(in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.m.Lock()
	f.objects[aws.StringValue(in.Key)] = b
	f.m.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	f.m.Lock()
	delete(f.objects, aws.StringValue(in.Key))
	f.m.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}
