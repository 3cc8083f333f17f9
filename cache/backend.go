package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/api/option"

	"github.com/uba-build/uba/cas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LocalBackend stores cache entries as JSON files under a directory;
// used for the populateCache workflow and for tests. Files are written
// with a plain os.WriteFile, not an atomic rename.
type LocalBackend struct {
	dir string
}

func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalBackend{dir: dir}, nil
}

func (b *LocalBackend) path(fingerprint string) string {
	return filepath.Join(b.dir, fingerprint+".json")
}

func (b *LocalBackend) Lookup(_ context.Context, fingerprint string) (*Entry, bool, error) {
	data, err := os.ReadFile(b.path(fingerprint))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e wireEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, err
	}
	return e.toEntry(), true, nil
}

func (b *LocalBackend) Write(_ context.Context, fingerprint string, e Entry) error {
	data, err := json.Marshal(fromEntry(e))
	if err != nil {
		return err
	}
	return os.WriteFile(b.path(fingerprint), data, 0o644)
}

// S3Backend is the remote durable cache bucket: entries are small JSON
// blobs keyed by fingerprint, uploaded/downloaded via the AWS SDK's
// managed uploader/downloader.
type S3Backend struct {
	bucket     string
	prefix     string
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

func NewS3Backend(region, bucket, prefix string) (*S3Backend, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("cache: s3 session: %w", err)
	}
	return &S3Backend{
		bucket:     bucket,
		prefix:     prefix,
		s3Client:   s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
	}, nil
}

func (b *S3Backend) key(fingerprint string) string {
	return filepath.Join(b.prefix, fingerprint+".json")
}

func (b *S3Backend) Lookup(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	buf := aws.NewWriteAtBuffer(nil)
	_, err := b.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(fingerprint)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var e wireEntry
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		return nil, false, err
	}
	return e.toEntry(), true, nil
}

func (b *S3Backend) Write(ctx context.Context, fingerprint string, e Entry) error {
	data, err := json.Marshal(fromEntry(e))
	if err != nil {
		return err
	}
	_, err = b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(fingerprint)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

// GCSBackend is the Google Cloud Storage equivalent of S3Backend, for
// zones where the coordinator provisions helpers in GCP rather than AWS.
type GCSBackend struct {
	bucket *storage.BucketHandle
	prefix string
}

func NewGCSBackend(ctx context.Context, bucketName, prefix string) (*GCSBackend, error) {
	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	if err != nil {
		return nil, fmt.Errorf("cache: gcs client: %w", err)
	}
	return &GCSBackend{bucket: client.Bucket(bucketName), prefix: prefix}, nil
}

func (b *GCSBackend) object(fingerprint string) *storage.ObjectHandle {
	return b.bucket.Object(filepath.Join(b.prefix, fingerprint+".json"))
}

func (b *GCSBackend) Lookup(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	r, err := b.object(fingerprint).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	var e wireEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, err
	}
	return e.toEntry(), true, nil
}

func (b *GCSBackend) Write(ctx context.Context, fingerprint string, e Entry) error {
	data, err := json.Marshal(fromEntry(e))
	if err != nil {
		return err
	}
	w := b.object(fingerprint).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// AzureBackend is the Azure Blob Storage equivalent, for zones where
// the coordinator provisions helpers against an Azure pool.
type AzureBackend struct {
	container azblob.ContainerURL
	prefix    string
}

func NewAzureBackend(accountName, accountKey, containerName, prefix string) (*AzureBackend, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("cache: azure credential: %w", err)
	}
	pipeline := azblob.NewPipeline(cred, azblob.PipelineOptions{})
	containerURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", accountName, containerName))
	if err != nil {
		return nil, err
	}
	return &AzureBackend{container: azblob.NewContainerURL(*containerURL, pipeline), prefix: prefix}, nil
}

func (b *AzureBackend) blobName(fingerprint string) string {
	return filepath.Join(b.prefix, fingerprint+".json")
}

func (b *AzureBackend) Lookup(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	blobURL := b.container.NewBlockBlobURL(b.blobName(fingerprint))
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, false, err
	}
	var e wireEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, err
	}
	return e.toEntry(), true, nil
}

func (b *AzureBackend) Write(ctx context.Context, fingerprint string, e Entry) error {
	data, err := json.Marshal(fromEntry(e))
	if err != nil {
		return err
	}
	blobURL := b.container.NewBlockBlobURL(b.blobName(fingerprint))
	_, err = blobURL.Upload(ctx, bytes.NewReader(data), azblob.BlobHTTPHeaders{}, azblob.Metadata{}, azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, azblob.BlobTagsMap{}, azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	return err
}

func isAzureNotFound(err error) bool {
	var stgErr azblob.StorageError
	if errors.As(err, &stgErr) {
		return stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound
	}
	return false
}

type wireEntry struct {
	Outputs  []string `json:"outputs"`
	LogLines []string `json:"log_lines"`
}

func fromEntry(e Entry) wireEntry {
	outs := make([]string, len(e.Outputs))
	for i, k := range e.Outputs {
		outs[i] = k.String()
	}
	return wireEntry{Outputs: outs, LogLines: e.LogLines}
}

func (w wireEntry) toEntry() *Entry {
	e := &Entry{LogLines: w.LogLines}
	for _, s := range w.Outputs {
		if k, err := cas.ParseCasKey(s); err == nil {
			e.Outputs = append(e.Outputs, k)
		}
	}
	return e
}
