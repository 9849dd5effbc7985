// Package s3 fetches s3://bucket/key objects for the worker pool.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// Scheme is the URL scheme routed to this engine.
const Scheme = "s3"

var ErrInvalidURL = errors.New("invalid s3 url")

// API is the subset of the S3 client the downloader needs.
type API interface {
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Object describes a remote object before download.
type Object struct {
	Bucket      string
	Key         string
	Size        int64
	ContentType string
}

// NewClient loads the shared AWS configuration for the configured profile.
func NewClient(ctx context.Context, runtime *types.RuntimeConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithSharedConfigProfile(runtime.GetS3Profile()),
		awsconfig.WithRetryMode(aws.RetryModeAdaptive),
	}
	if runtime != nil && runtime.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(runtime.S3Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.DisableLogOutputChecksumValidationSkipped = true
	}), nil
}

// ParseURL splits s3://bucket/key into its parts.
func ParseURL(raw string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(raw, Scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return bucket, key, nil
}

// Downloader fetches one object at a time.
type Downloader struct {
	Client   API
	PartSize int64
}

func NewDownloader(client API) *Downloader {
	return &Downloader{Client: client, PartSize: manager.DefaultDownloadPartSize}
}

// Probe looks the object up without fetching it.
func (d *Downloader) Probe(ctx context.Context, rawurl string) (*Object, error) {
	bucket, key, err := ParseURL(rawurl)
	if err != nil {
		return nil, err
	}
	head, err := d.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("error reading S3 object %s: %w", rawurl, err)
	}

	obj := &Object{Bucket: bucket, Key: key, Size: -1}
	if head.ContentLength != nil {
		obj.Size = *head.ContentLength
	}
	if head.ContentType != nil {
		obj.ContentType = *head.ContentType
	}
	return obj, nil
}

// Filename is the default on-disk name for an object.
func (o *Object) Filename() string {
	return path.Base(o.Key)
}

// progressWriter counts bytes written by the concurrent part downloads.
type progressWriter struct {
	w       io.WriterAt
	written atomic.Int64
	state   *types.ProgressState
}

func (pw *progressWriter) WriteAt(p []byte, off int64) (int, error) {
	n, err := pw.w.WriteAt(p, off)
	if n > 0 {
		total := pw.written.Add(int64(n))
		if pw.state != nil {
			pw.state.Downloaded.Store(total)
		}
	}
	return n, err
}

// Download writes the object to destPath via the working file. Objects are
// always fetched from the start; a paused S3 download restarts on resume.
func (d *Downloader) Download(ctx context.Context, obj *Object, destPath string, state *types.ProgressState) error {
	workingPath := destPath + utils.IncompleteSuffix
	file, err := os.Create(workingPath)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if state != nil {
		state.Downloaded.Store(0)
	}

	dl := manager.NewDownloader(d.Client, func(md *manager.Downloader) {
		md.PartSize = d.PartSize
		md.Concurrency = 4
	})
	pw := &progressWriter{w: file, state: state}
	n, err := dl.Download(ctx, pw, &s3.GetObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error downloading S3 object: %w", err)
	}
	if state != nil && state.TotalSize.Load() < 0 {
		state.SetTotalSize(n)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close error: %w", err)
	}
	if err := os.Rename(workingPath, destPath); err != nil {
		return fmt.Errorf("failed to finalize file: %w", err)
	}
	utils.Debug("Downloaded s3://%s/%s (%s)", obj.Bucket, obj.Key, utils.ConvertBytesToHumanReadable(n))
	return nil
}
