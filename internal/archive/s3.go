package archive

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/nicolagi/quixbyte/internal/qbconfig"
	"github.com/nicolagi/quixbyte/internal/qberrors"
)

// s3Store archives blobs as objects in an S3 bucket, one object per key.
type s3Store struct {
	client *s3.S3
	bucket string
}

var _ Store = (*s3Store)(nil)

// maxS3Retries is generous: archival happens off the critical sync path,
// so a flaky connection should retry rather than drop a checkpoint.
const maxS3Retries = 16

func newS3Store(cfg *qbconfig.C) (Store, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(cfg.S3Region),
		Credentials: credentials.NewSharedCredentials("", cfg.S3Profile),
		MaxRetries:  aws.Int(maxS3Retries),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: new s3 session: %w", err)
	}
	return &s3Store{client: s3.New(sess), bucket: cfg.S3Bucket}, nil
}

func (s *s3Store) Get(k Key) ([]byte, error) {
	output, err := s.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(k)),
	})
	if err != nil {
		if rfErr, ok := err.(awserr.RequestFailure); ok && rfErr.StatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("archive: %q: %w", k, qberrors.ErrNotFound)
		}
		return nil, fmt.Errorf("archive: get %q: %w", k, err)
	}
	defer func() { _ = output.Body.Close() }()
	return io.ReadAll(output.Body)
}

func (s *s3Store) Put(k Key, v []byte) error {
	_, err := s.client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(k)),
		Body:   bytes.NewReader(v),
	})
	if err != nil {
		return fmt.Errorf("archive: put %q: %w", k, err)
	}
	return nil
}
