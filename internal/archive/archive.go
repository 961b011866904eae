// Package archive ships closed-out trading history to S3-compatible object
// storage as monthly JSONL files. Records are only copied out; deleting them
// from the primary database is a separate, explicit step once an archive has
// been verified.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"csgo-arbiter/internal/models"
)

// Config connects the archiver to an S3-compatible object store. Endpoint is
// left empty for standard AWS S3; providers like MinIO and R2 set it and
// usually need ForcePathStyle too.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// Archiver reads aged records from the database and uploads them in bulk.
type Archiver struct {
	uploader *manager.Uploader
	bucket   string
	db       *gorm.DB
	logger   zerolog.Logger
}

func New(ctx context.Context, cfg Config, db *gorm.DB, logger zerolog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("archive: region is required")
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normalizeEndpoint(cfg.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &Archiver{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		db:       db,
		logger:   logger,
	}, nil
}

// ArchiveTickets uploads every persisted ticket issued before the cutoff to
// archive/tickets/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveTickets(ctx context.Context, before time.Time) (int64, error) {
	var recs []models.TicketRecord
	if err := a.db.WithContext(ctx).Where("issued_at < ?", before).Find(&recs).Error; err != nil {
		return 0, fmt.Errorf("archive: tickets query: %w", err)
	}
	return uploadJSONL(ctx, a, "tickets", before, recs)
}

// ArchiveTrades uploads every completed flip sold before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	var recs []models.TradeRecord
	if err := a.db.WithContext(ctx).Where("sold_at < ?", before).Find(&recs).Error; err != nil {
		return 0, fmt.Errorf("archive: trades query: %w", err)
	}
	return uploadJSONL(ctx, a, "trades", before, recs)
}

// ArchiveOpportunities uploads every opportunity detected before the cutoff
// to archive/opportunities/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	var recs []models.ArbitrageOpportunity
	if err := a.db.WithContext(ctx).Where("detected_at < ?", before).Find(&recs).Error; err != nil {
		return 0, fmt.Errorf("archive: opportunities query: %w", err)
	}
	return uploadJSONL(ctx, a, "opportunities", before, recs)
}

// ArchiveQuotes uploads every quote snapshot fetched before the cutoff to
// archive/quotes/YYYY-MM.jsonl and returns the record count. Quote snapshots
// are the bulkiest table, written once per engine cycle.
func (a *Archiver) ArchiveQuotes(ctx context.Context, before time.Time) (int64, error) {
	var recs []models.QuoteSnapshot
	if err := a.db.WithContext(ctx).Where("fetched_at < ?", before).Find(&recs).Error; err != nil {
		return 0, fmt.Errorf("archive: quotes query: %w", err)
	}
	return uploadJSONL(ctx, a, "quotes", before, recs)
}

// UploadReport ships a finished comparison workbook to
// reports/YYYY-MM-DD.xlsx and returns the object key.
func (a *Archiver) UploadReport(ctx context.Context, path string, at time.Time) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("archive: open report: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("reports/%s.xlsx", at.Format("2006-01-02"))
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: report upload: %w", err)
	}

	a.logger.Info().Str("key", key).Msg("report uploaded")
	return key, nil
}

func uploadJSONL[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("archive: %s marshal: %w", kind, err)
	}

	key := archivePath(kind, before)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return 0, fmt.Errorf("archive: %s upload: %w", kind, err)
	}

	a.logger.Info().
		Str("kind", kind).
		Str("key", key).
		Int("records", len(records)).
		Time("before", before).
		Msg("history archived")
	return int64(len(records)), nil
}

// archivePath builds the object key, partitioned by the year-month of the
// cutoff:
//
//	archive/tickets/2025-01.jsonl
//	archive/trades/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes a slice as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// normalizeEndpoint prepends https where the configured endpoint has no
// scheme.
func normalizeEndpoint(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	return "https://" + endpoint
}
