package store

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

// A S3 store keeps its values as objects in an S3 bucket. Container
// archives are read whole into memory when opened and uploaded in one
// request when the writer is closed.
// Do not change Bucket or Prefix concurrently with calls using the structure.
type S3 struct {
	svc    s3iface.S3API
	Bucket string
	Prefix string
}

var _ Store = &S3{}

// NewS3 creates a new S3 store. Every key is stored with prefix in front,
// so a bucket can hold more than one store. The authorization method and
// credentials in the session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return NewS3WithClient(bucket, prefix, s3.New(awsSession))
}

// NewS3WithClient is NewS3 for an existing client.
func NewS3WithClient(bucket, prefix string, svc s3iface.S3API) *S3 {
	return &S3{svc: svc, Bucket: bucket, Prefix: prefix}
}

func (s *S3) tags(key string) map[string]string {
	return map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key}
}

// List returns every key in the store. Objects outside the store's Prefix
// are not listed.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		err := s.list("", func(key string) { out <- key })
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, s.tags(""))
		}
	}()
	return out
}

// ListPrefix returns the keys in this store beginning with prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	err := s.list(prefix, func(key string) { result = append(result, key) })
	if err != nil {
		log.Println("S3 ListPrefix:", s.Prefix, prefix, err)
		raven.CaptureError(err, s.tags(prefix))
	}
	return result, err
}

func (s *S3) list(prefix string, f func(string)) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	return s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				f(strings.TrimPrefix(aws.StringValue(item.Key), s.Prefix))
			}
			return !lastpage
		})
}

// Open downloads the object for key.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	output, err := s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if isMissing(err) {
		return nil, 0, errors.Wrap(ErrNotFound, key)
	} else if err != nil {
		log.Println("S3 Open:", s.Prefix, key, err)
		return nil, 0, err
	}
	defer output.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, output.Body); err != nil {
		return nil, 0, errors.Wrap(err, key)
	}
	return nopCloser{bytes.NewReader(buf.Bytes())}, int64(buf.Len()), nil
}

// isMissing is true for the errors S3 gives for a missing key. HEAD
// requests have no body, so they only carry the status code.
func isMissing(err error) bool {
	if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusNotFound {
		return true
	}
	if e, ok := err.(awserr.Error); ok {
		return e.Code() == s3.ErrCodeNoSuchKey || e.Code() == "NotFound"
	}
	return false
}

func (s *S3) exists(key string) (bool, error) {
	_, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if isMissing(err) {
		return false, nil
	}
	return err == nil, err
}

// Create returns a writer which uploads its data to key when closed.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	ok, err := s.exists(key)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, errors.Wrap(ErrKeyExists, key)
	}
	return &s3WriteCloser{s: s, key: key}, nil
}

type s3WriteCloser struct {
	bytes.Buffer
	s   *S3
	key string
}

func (wc *s3WriteCloser) Close() error {
	_, err := wc.s.svc.PutObject(&s3.PutObjectInput{
		Bucket:        aws.String(wc.s.Bucket),
		Key:           aws.String(wc.s.Prefix + wc.key),
		Body:          bytes.NewReader(wc.Bytes()),
		ContentLength: aws.Int64(int64(wc.Len())),
	})
	if err != nil {
		log.Println("S3 upload:", wc.s.Prefix, wc.key, err)
		raven.CaptureError(err, wc.s.tags(wc.key))
	}
	return err
}

// Delete removes key. It is not an error to delete something that doesn't
// exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, s.tags(key))
	}
	return err
}
