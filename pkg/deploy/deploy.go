// Package deploy uploads a build output directory to an S3-compatible
// bucket.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"assetflow/pkg/faults"
)

// Options holds the bucket connection settings
type Options struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	// Prefix is prepended to every object key
	Prefix  string `mapstructure:"prefix"`
	UseSSL  bool   `mapstructure:"use_ssl"`
	Workers int    `mapstructure:"workers"`
}

// Validate reports missing connection settings
func (o Options) Validate() error {
	switch {
	case o.Endpoint == "":
		return faults.Configf("deploy.endpoint is not set")
	case o.Bucket == "":
		return faults.Configf("deploy.bucket is not set")
	}
	return nil
}

// Uploader publishes files from the output directory
type Uploader struct {
	client *minio.Client
	opts   Options
}

// Object is one file scheduled for upload
type Object struct {
	Path        string
	Key         string
	ContentType string
}

// New connects an uploader. No request is made until Deploy.
func New(opts Options) (*Uploader, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	return &Uploader{client: client, opts: opts}, nil
}

// Deploy uploads every file below dir, creating the bucket if needed
func (u *Uploader) Deploy(ctx context.Context, dir string) ([]Object, error) {
	logger := zerolog.Ctx(ctx)

	objects, err := Objects(dir, u.opts.Prefix)
	if err != nil {
		return nil, err
	}

	exists, err := u.client.BucketExists(ctx, u.opts.Bucket)
	if err != nil {
		return nil, faults.IO("check bucket", u.opts.Bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.opts.Bucket, minio.MakeBucketOptions{Region: u.opts.Region}); err != nil {
			return nil, faults.IO("create bucket", u.opts.Bucket, err)
		}
		logger.Info().Str("bucket", u.opts.Bucket).Msg("Created bucket")
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(u.opts.Workers)
	for _, obj := range objects {
		obj := obj
		p.Go(func(ctx context.Context) error {
			info, err := u.client.FPutObject(ctx, u.opts.Bucket, obj.Key, obj.Path, minio.PutObjectOptions{
				ContentType: obj.ContentType,
			})
			if err != nil {
				return faults.IO("upload", obj.Path, err)
			}
			logger.Debug().Str("key", obj.Key).Int64("size", info.Size).Msg("Uploaded object")
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	logger.Info().Str("bucket", u.opts.Bucket).Int("objects", len(objects)).Msg("Deployed")
	return objects, nil
}

// Objects lists the files below dir with their object keys, sorted by key
func Objects(dir, prefix string) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Path:        p,
			Key:         Key(prefix, rel),
			ContentType: ContentType(p),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, faults.Configf("nothing to deploy: %s does not exist", dir)
		}
		return nil, faults.IO("walk", dir, err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Key builds the object key for a path relative to the output directory
func Key(prefix, rel string) string {
	return path.Join(prefix, filepath.ToSlash(rel))
}

// ContentType guesses the MIME type from the file extension
func ContentType(p string) string {
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}
