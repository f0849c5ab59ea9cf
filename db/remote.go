// Catalog archive export and import over local paths, S3 and HTTP URLs.
package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nickyhof/CommitCatalog/ps"
)

// RemoteConfig carries S3 settings for Export and Import. Empty fields fall
// back to the default AWS credential chain.
type RemoteConfig struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string // Optional: custom S3-compatible endpoint
}

// ErrReadOnlyDestination is returned when exporting to an HTTP URL.
var ErrReadOnlyDestination = errors.New("destination does not support writing")

// Export writes the catalog archive as JSON to dest.
func Export(ctx context.Context, persistence *ps.Persistence, dest string, cfg *RemoteConfig) (ps.Archive, error) {
	archive, err := persistence.Dump()
	if err != nil {
		return ps.Archive{}, err
	}

	w, err := openRemoteWriter(ctx, dest, cfg)
	if err != nil {
		return ps.Archive{}, err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(archive); err != nil {
		w.Close()
		return ps.Archive{}, fmt.Errorf("failed to encode archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return ps.Archive{}, err
	}
	return archive, nil
}

// Import reads a JSON archive from src and restores it into persistence,
// which must not hold any references yet.
func Import(ctx context.Context, persistence *ps.Persistence, src string, cfg *RemoteConfig) (ps.Archive, error) {
	r, err := openRemoteReader(ctx, src, cfg)
	if err != nil {
		return ps.Archive{}, err
	}
	defer r.Close()

	var archive ps.Archive
	if err := json.NewDecoder(r).Decode(&archive); err != nil {
		return ps.Archive{}, fmt.Errorf("failed to decode archive: %w", err)
	}
	if err := persistence.Restore(archive); err != nil {
		return ps.Archive{}, err
	}
	return archive, nil
}

// urlScheme represents the scheme of a URL
type urlScheme string

const (
	schemeFile  urlScheme = "file"
	schemeS3    urlScheme = "s3"
	schemeHTTP  urlScheme = "http"
	schemeHTTPS urlScheme = "https"
	schemeLocal urlScheme = "local" // no scheme, local path
)

// detectScheme detects the URL scheme from a path string
func detectScheme(path string) urlScheme {
	lowerPath := strings.ToLower(path)
	switch {
	case strings.HasPrefix(lowerPath, "s3://"):
		return schemeS3
	case strings.HasPrefix(lowerPath, "https://"):
		return schemeHTTPS
	case strings.HasPrefix(lowerPath, "http://"):
		return schemeHTTP
	case strings.HasPrefix(lowerPath, "file://"):
		return schemeFile
	default:
		return schemeLocal
	}
}

// openRemoteReader opens a reader for the given URL/path
func openRemoteReader(ctx context.Context, path string, cfg *RemoteConfig) (io.ReadCloser, error) {
	scheme := detectScheme(path)

	switch scheme {
	case schemeLocal, schemeFile:
		localPath := path
		if scheme == schemeFile {
			localPath = strings.TrimPrefix(path, "file://")
		}
		return osOpen(localPath)

	case schemeHTTP, schemeHTTPS:
		return openHTTPReader(ctx, path)

	case schemeS3:
		return openS3Reader(ctx, path, cfg)

	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s", path)
	}
}

// openRemoteWriter opens a writer for the given URL/path
func openRemoteWriter(ctx context.Context, path string, cfg *RemoteConfig) (io.WriteCloser, error) {
	scheme := detectScheme(path)

	switch scheme {
	case schemeLocal, schemeFile:
		localPath := path
		if scheme == schemeFile {
			localPath = strings.TrimPrefix(path, "file://")
		}
		return osCreate(localPath)

	case schemeHTTP, schemeHTTPS:
		return nil, fmt.Errorf("%w: %s", ErrReadOnlyDestination, path)

	case schemeS3:
		return openS3Writer(ctx, path, cfg)

	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s", path)
	}
}

// openHTTPReader opens an HTTP GET reader
func openHTTPReader(ctx context.Context, url string) (io.ReadCloser, error) {
	client := &http.Client{
		Timeout: 5 * time.Minute, // generous timeout for large archives
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP request returned status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// parseS3URL parses s3://bucket/key into bucket and key parts
func parseS3URL(url string) (bucket, key string, err error) {
	path := strings.TrimPrefix(url, "s3://")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid S3 URL: %s", url)
	}
	return parts[0], parts[1], nil
}

// getS3Client creates an S3 client with the given configuration
func getS3Client(ctx context.Context, cfg *RemoteConfig) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error

	// Set region if provided
	if cfg != nil && cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Set explicit credentials if provided
	if cfg != nil && cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg != nil && cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // For S3-compatible services
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...), nil
}

// openS3Reader opens a reader for an S3 object
func openS3Reader(ctx context.Context, url string, cfg *RemoteConfig) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(url)
	if err != nil {
		return nil, err
	}

	client, err := getS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get S3 object: %w", err)
	}

	return resp.Body, nil
}

// s3Writer wraps S3 upload in a WriteCloser interface
type s3Writer struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	key    string
	buffer bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (n int, err error) {
	if w.closed {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.buffer.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	// Upload the buffered content
	_, err := w.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(w.key),
		Body:        bytes.NewReader(w.buffer.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

// openS3Writer opens a writer for an S3 object
func openS3Writer(ctx context.Context, url string, cfg *RemoteConfig) (io.WriteCloser, error) {
	bucket, key, err := parseS3URL(url)
	if err != nil {
		return nil, err
	}

	client, err := getS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &s3Writer{
		ctx:    ctx,
		client: client,
		bucket: bucket,
		key:    key,
	}, nil
}

// osOpen wraps os.Open - used to allow the function to be swapped in tests
var osOpen = func(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// osCreate wraps os.Create - used to allow the function to be swapped in tests
var osCreate = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}
