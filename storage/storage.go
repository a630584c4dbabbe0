// Package storage uploads pipeline products to blob storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/NOAA-EMC/MLGEFS/metrics"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/s3blob"
)

// DefaultRegion is used for s3 buckets when AWS_REGION is unset.
const DefaultRegion = "us-east-1"

// OpenBucket opens a bucket given as "file:///dir" or "s3://name".
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, errors.Wrapf(err, "error parsing bucket %s", bucketURL)
	}
	switch u.Scheme {
	case "file":
		dir := u.Path
		if u.Host != "" {
			dir = filepath.Join(u.Host, u.Path)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return fileblob.OpenBucket(dir, nil)
	case "s3":
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = DefaultRegion
		}
		sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
		if err != nil {
			return nil, errors.Wrap(err, "error creating aws session")
		}
		return s3blob.OpenBucket(ctx, sess, u.Host, nil)
	}
	return nil, fmt.Errorf("unsupported bucket scheme %q in %s", u.Scheme, bucketURL)
}

// Prefix returns the key prefix of a product cycle, "{product}.{YYYYMMDD}/{HH}".
func Prefix(product string, cycle time.Time) string {
	cycle = cycle.UTC()
	return fmt.Sprintf("%s.%s/%02d", product, cycle.Format("20060102"), cycle.Hour())
}

// InputKey returns the key of a canonical input file.
func InputKey(product string, cycle time.Time, file string) string {
	return path.Join(Prefix(product, cycle), "input", filepath.Base(file))
}

// ForecastKey returns the key of a forecast output given relative to the
// forecast directory.
func ForecastKey(product string, cycle time.Time, levels int, rel string) string {
	return path.Join(Prefix(product, cycle), fmt.Sprintf("forecasts_%d_levels", levels), filepath.ToSlash(rel))
}

// Uploader copies local files to a bucket, retrying each with exponential
// backoff.
type Uploader struct {
	Bucket *blob.Bucket
	// MaxElapsed bounds the retries of one file. Zero uses the backoff default.
	MaxElapsed time.Duration
	Metrics    *metrics.Metrics
	// newBackOff is replaced in tests.
	newBackOff func() backoff.BackOff
}

func (u *Uploader) backOff(ctx context.Context) backoff.BackOff {
	if u.newBackOff != nil {
		return backoff.WithContext(u.newBackOff(), ctx)
	}
	b := backoff.NewExponentialBackOff()
	if u.MaxElapsed > 0 {
		b.MaxElapsedTime = u.MaxElapsed
	}
	return backoff.WithContext(b, ctx)
}

// Upload writes the file at local to key.
func (u *Uploader) Upload(ctx context.Context, local, key string) error {
	err := backoff.RetryNotify(
		func() error { return u.put(ctx, local, key) },
		u.backOff(ctx),
		func(err error, d time.Duration) {
			u.Metrics.UploadRetried()
			glog.Warningf("upload of %s failed: %v: retrying in %v", key, err, d)
		},
	)
	if err != nil {
		return errors.Wrapf(err, "error uploading %s to %s", local, key)
	}
	u.Metrics.Uploaded(1)
	glog.Infof("uploaded %s", key)
	return nil
}

func (u *Uploader) put(ctx context.Context, local, key string) error {
	r, err := os.Open(local)
	if err != nil {
		return backoff.Permanent(err)
	}
	defer r.Close()
	w, err := u.Bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// UploadTree uploads every regular file under dir with keys from key.
func (u *Uploader) UploadTree(ctx context.Context, dir string, key func(rel string) string) ([]string, error) {
	var keys []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		k := key(rel)
		if err := u.Upload(ctx, p, k); err != nil {
			return err
		}
		keys = append(keys, k)
		return nil
	})
	return keys, err
}
