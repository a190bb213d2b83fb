package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"lead-agent-orchestrator/internal/config"
	"lead-agent-orchestrator/internal/models"
)

// S3Archiver writes a JSON completion report per terminal job to an S3
// bucket, keyed by tenant and date so reports are listable per tenant.
type S3Archiver struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// report is the archived document. Item errors are kept verbatim; secrets
// never pass through the job model so nothing here needs redaction.
type report struct {
	JobID          string           `json:"job_id"`
	TenantID       string           `json:"tenant_id"`
	AgentType      string           `json:"agent_type"`
	Kind           string           `json:"kind"`
	Status         string           `json:"status"`
	ItemsTotal     int              `json:"items_total"`
	ItemsProcessed int              `json:"items_processed"`
	ItemsSucceeded int              `json:"items_succeeded"`
	RetryCount     int              `json:"retry_count"`
	LastError      *string          `json:"last_error,omitempty"`
	Items          []models.JobItem `json:"items"`
	CreatedAt      time.Time        `json:"created_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	ArchivedAt     time.Time        `json:"archived_at"`
}

func NewS3Archiver(ctx context.Context, cfg config.Config, logger *slog.Logger) (*S3Archiver, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Archiver{
		client: client,
		bucket: cfg.ArchiveBucket,
		logger: logger.With("component", "archive"),
	}, nil
}

func newClient(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveRegion),
	}
	if cfg.ArchiveEndpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArchiveEndpoint,
					HostnameImmutable: cfg.ArchivePathStyle,
					SigningRegion:     cfg.ArchiveRegion,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArchivePathStyle
	}), nil
}

// ArchiveReport uploads the job's completion report. The key layout is
// reports/{tenant}/{yyyy-mm-dd}/{job_id}.json.
func (a *S3Archiver) ArchiveReport(ctx context.Context, job models.Job) error {
	now := time.Now().UTC()
	doc := report{
		JobID:          job.ID,
		TenantID:       job.TenantID,
		AgentType:      job.AgentType,
		Kind:           job.Kind,
		Status:         job.Status,
		ItemsTotal:     job.ItemsTotal,
		ItemsProcessed: job.ItemsProcessed,
		ItemsSucceeded: job.ItemsSucceeded,
		RetryCount:     job.RetryCount,
		LastError:      job.LastError,
		Items:          job.Items,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
		ArchivedAt:     now,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	key := fmt.Sprintf("reports/%s/%s/%s.json", job.TenantID, now.Format("2006-01-02"), job.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	a.logger.Debug("report archived", "job_id", job.ID, "key", key)
	return nil
}
