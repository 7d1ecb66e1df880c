package discovery

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pingcap/errors"
)

// S3Scheme prefixes patterns that live in a bucket: s3://bucket/key.
const S3Scheme = "s3://"

// S3Lister lists objects of s3:// patterns.
type S3Lister struct {
	Client s3iface.S3API
}

// NewS3Lister builds a lister on the default AWS credential chain.
func NewS3Lister(region string) (*S3Lister, error) {
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	ses, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Annotate(err, "create aws session")
	}
	return &S3Lister{Client: s3.New(ses)}, nil
}

// IsS3 reports whether p addresses a bucket.
func IsS3(p string) bool {
	return strings.HasPrefix(p, S3Scheme)
}

// List pages through every key under the literal prefix of p.
func (l *S3Lister) List(ctx context.Context, p string) ([]string, error) {
	bucket, _, err := splitS3(p)
	if err != nil {
		return nil, err
	}
	_, keyPrefix, _ := splitS3(staticPrefix(p))

	var candidates []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(keyPrefix),
	}
	err = l.Client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				candidates = append(candidates, S3Scheme+bucket+"/"+aws.StringValue(obj.Key))
			}
			return true
		})
	if err != nil {
		return nil, errors.Annotatef(err, "list %s", p)
	}
	return matching(candidates, p), nil
}

func splitS3(p string) (bucket, key string, err error) {
	if !IsS3(p) {
		return "", "", errors.Errorf("not an s3 path: %s", p)
	}
	rest := strings.TrimPrefix(p, S3Scheme)
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return rest, "", nil
	}
	if i == 0 {
		return "", "", errors.Errorf("bucket not found in %s", p)
	}
	return rest[:i], rest[i+1:], nil
}

// Router sends s3:// patterns to S3 and everything else to Local. The S3
// lister is built on first use.
type Router struct {
	Local LocalLister
	S3    func() (Lister, error)

	mu sync.Mutex
	s3 Lister
}

// List implements Lister.
func (r *Router) List(ctx context.Context, p string) ([]string, error) {
	if !IsS3(p) {
		return r.Local.List(ctx, p)
	}
	r.mu.Lock()
	if r.s3 == nil {
		if r.S3 == nil {
			r.mu.Unlock()
			return nil, errors.Errorf("no s3 lister configured for %s", p)
		}
		l, err := r.S3()
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.s3 = l
	}
	l := r.s3
	r.mu.Unlock()
	return l.List(ctx, p)
}
