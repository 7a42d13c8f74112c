package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"

	"github.com/mergington/activities/pkg/checksum"
)

// S3Config holds S3 shipper configuration
type S3Config struct {
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint,omitempty"`
	// Prefix is prepended to every object key
	Prefix string `json:"prefix,omitempty"`
	// AuthMethod is one of default, static or assume_role
	AuthMethod      string `json:"auth_method,omitempty"`
	AccessKeyID     string `json:"-"`
	SecretAccessKey string `json:"-"`
	RoleARN         string `json:"role_arn,omitempty"`
	RoleSessionName string `json:"role_session_name,omitempty"`
	ExternalID      string `json:"external_id,omitempty"`
	// BatchSize is how many entries make up one object
	BatchSize int `json:"batch_size"`
	// FlushInterval bounds how long a partial batch waits before it is written
	FlushInterval time.Duration `json:"flush_interval"`
}

// S3Shipper writes batches of audit entries to S3 as JSON-lines objects, one object per batch.
type S3Shipper struct {
	cfg    *S3Config
	client *s3.Client
	now    func() time.Time

	mu    sync.Mutex
	batch []*LogEntry

	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewS3Shipper creates an S3 shipper. It supports AWS S3 and S3-compatible services (MinIO and
// friends) through a custom endpoint with path-style addressing.
//
// Authentication methods:
//   - "default" or empty: AWS default credential chain, or static keys when both are set
//   - "static": explicit access key and secret key
//   - "assume_role": assumes an IAM role on top of the default chain
func NewS3Shipper(cfg *S3Config) (*S3Shipper, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			authMethod = "static"
		} else {
			authMethod = "default"
		}
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}

	switch authMethod {
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("access_key_id and secret_access_key are required for static auth")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case "assume_role":
		if cfg.RoleARN == "" {
			return nil, fmt.Errorf("role_arn is required for assume_role auth")
		}
	case "default":
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'static', or 'assume_role')", authMethod)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if authMethod == "assume_role" {
		stsClient := sts.NewFromConfig(awsCfg)
		provider := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.RoleSessionName != "" {
				o.RoleSessionName = cfg.RoleSessionName
			}
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			// Most S3-compatible services reject the SDK's default trailing checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		})
	}

	ss := &S3Shipper{
		cfg:     cfg,
		client:  s3.NewFromConfig(awsCfg, s3Opts...),
		now:     time.Now,
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go ss.flushPeriodically()

	return ss, nil
}

func (ss *S3Shipper) flushPeriodically() {
	defer close(ss.doneCh)

	ticker := time.NewTicker(ss.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := ss.flush(ctx); err != nil {
				slog.Error("failed to upload audit batch", "bucket", ss.cfg.Bucket, "error", err)
			}
			cancel()
		case <-ss.closeCh:
			return
		}
	}
}

// Ship queues an entry. A full batch is uploaded before Ship returns.
func (ss *S3Shipper) Ship(ctx context.Context, entry *LogEntry) error {
	ss.mu.Lock()
	ss.batch = append(ss.batch, entry)
	full := len(ss.batch) >= ss.cfg.BatchSize
	ss.mu.Unlock()

	if full {
		return ss.flush(ctx)
	}
	return nil
}

// flush uploads everything queued so far as a single object.
func (ss *S3Shipper) flush(ctx context.Context) error {
	ss.mu.Lock()
	batch := ss.batch
	ss.batch = nil
	ss.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range batch {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}
	}
	data := buf.Bytes()

	sum, err := checksum.CalculateSHA256(bytes.NewReader(data))
	if err != nil {
		return err
	}

	key := ss.objectKey()
	_, err = ss.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(ss.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"sha256":  sum,
			"entries": fmt.Sprintf("%d", len(batch)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload audit batch to %s: %w", key, err)
	}
	return nil
}

// objectKey lays batches out by UTC day: <prefix>/2006/01/02/<timestamp>-<uuid>.jsonl
func (ss *S3Shipper) objectKey() string {
	now := ss.now().UTC()
	name := fmt.Sprintf("%s-%s.jsonl", now.Format("20060102T150405.000000000Z"), uuid.NewString())
	return path.Join(ss.cfg.Prefix, now.Format("2006/01/02"), name)
}

// Close stops the periodic flush and uploads whatever is still queued.
func (ss *S3Shipper) Close() error {
	ss.closeOnce.Do(func() {
		close(ss.closeCh)
	})
	<-ss.doneCh

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return ss.flush(ctx)
}
