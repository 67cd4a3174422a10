package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "venueflow/config"
	"venueflow/logger"
	"venueflow/models"
)

// snapshotRecord is one flattened balance or position row inside an
// archived parquet file.
type snapshotRecord struct {
	Venue     string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind      string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset     string  `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Free      float64 `parquet:"name=free, type=DOUBLE"`
	Locked    float64 `parquet:"name=locked, type=DOUBLE"`
	Total     float64 `parquet:"name=total, type=DOUBLE"`
	Quantity  float64 `parquet:"name=quantity, type=DOUBLE"`
	Entry     float64 `parquet:"name=entry_price, type=DOUBLE"`
	Mark      float64 `parquet:"name=mark_price, type=DOUBLE"`
	PnL       float64 `parquet:"name=unrealized_pnl, type=DOUBLE"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
}

// memoryFileWriter implements the ParquetFile interface over a byte
// buffer so files are assembled in memory before upload.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(string) (source.ParquetFile, error)  { return mfw, nil }

func (mfw *memoryFileWriter) Seek(int64, int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// SnapshotArchiver buffers account snapshots and periodically flushes
// them to S3 as parquet files partitioned by venue and date.
type SnapshotArchiver struct {
	cfg      appconfig.S3Config
	s3Client *s3.Client
	log      *logger.Log

	mu      sync.Mutex
	buffer  map[string][]models.AccountSnapshot
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSnapshotArchiver builds the S3 client and validates that usable
// AWS credentials are present.
func NewSnapshotArchiver(cfg appconfig.S3Config, log *logger.Log) (*SnapshotArchiver, error) {
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	log.WithComponent("archiver").WithFields(logger.Fields{
		"bucket":   cfg.Bucket,
		"region":   cfg.Region,
		"endpoint": cfg.Endpoint,
	}).Info("snapshot archiver initialized")

	return &SnapshotArchiver{
		cfg:      cfg,
		s3Client: client,
		log:      log,
		buffer:   make(map[string][]models.AccountSnapshot),
	}, nil
}

// Add queues a snapshot for the next flush.
func (a *SnapshotArchiver) Add(snapshot models.AccountSnapshot) {
	a.mu.Lock()
	a.buffer[snapshot.Venue] = append(a.buffer[snapshot.Venue], snapshot)
	a.mu.Unlock()
}

func (a *SnapshotArchiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("snapshot archiver already running")
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	interval := a.cfg.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}

	a.wg.Add(1)
	go a.flushWorker(interval)

	a.log.WithComponent("archiver").WithFields(logger.Fields{
		"flush_interval": interval,
	}).Info("snapshot archiver started")
	return nil
}

func (a *SnapshotArchiver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
	a.log.WithComponent("archiver").Info("snapshot archiver stopped")
}

func (a *SnapshotArchiver) flushWorker(interval time.Duration) {
	defer a.wg.Done()

	log := a.log.WithComponent("archiver").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-ticker.C:
			a.flushBuffers("interval")
		}
	}
}

func (a *SnapshotArchiver) flushBuffers(reason string) {
	a.mu.Lock()
	buffers := a.buffer
	a.buffer = make(map[string][]models.AccountSnapshot)
	a.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	a.log.WithComponent("archiver").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing snapshot buffers")

	for venue, snapshots := range buffers {
		if len(snapshots) == 0 {
			continue
		}
		a.archiveVenue(venue, snapshots)
	}
}

func (a *SnapshotArchiver) archiveVenue(venue string, snapshots []models.AccountSnapshot) {
	log := a.log.WithComponent("archiver").WithFields(logger.Fields{
		"venue":     venue,
		"snapshots": len(snapshots),
		"operation": "archive_venue",
	})

	records := flattenSnapshots(snapshots)
	if len(records) == 0 {
		log.Debug("no records to archive, skipping")
		return
	}

	data, err := a.createParquetFile(records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	key := a.objectKey(venue, snapshots[len(snapshots)-1].Timestamp)
	if err := a.uploadToS3(key, data); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"bucket": a.cfg.Bucket,
			"s3_key": key,
		}).Error("failed to upload to S3")
		return
	}

	log.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
		"records":   len(records),
	}).Info("snapshots archived")
}

func flattenSnapshots(snapshots []models.AccountSnapshot) []snapshotRecord {
	var records []snapshotRecord
	for _, snap := range snapshots {
		ts := snap.Timestamp.UnixMilli()
		for _, b := range snap.Balances {
			if b.Total == 0 {
				continue
			}
			records = append(records, snapshotRecord{
				Venue:     snap.Venue,
				Kind:      "balance",
				Asset:     b.Asset,
				Free:      b.Free,
				Locked:    b.Locked,
				Total:     b.Total,
				Timestamp: ts,
			})
		}
		for _, p := range snap.Positions {
			records = append(records, snapshotRecord{
				Venue:     snap.Venue,
				Kind:      "position",
				Symbol:    p.Symbol,
				Side:      string(p.Side),
				Quantity:  p.Quantity,
				Entry:     p.EntryPrice,
				Mark:      p.MarkPrice,
				PnL:       p.UnrealizedPnL,
				Timestamp: ts,
			})
		}
	}
	return records
}

func (a *SnapshotArchiver) objectKey(venue string, ts time.Time) string {
	ts = ts.UTC()
	filename := fmt.Sprintf("%s_account_%s.parquet", venue, ts.Format("20060102150405"))
	return path.Join(
		a.cfg.Prefix,
		fmt.Sprintf("venue=%s", venue),
		fmt.Sprintf("date=%s", ts.Format("2006-01-02")),
		filename,
	)
}

func (a *SnapshotArchiver) createParquetFile(records []snapshotRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(snapshotRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (a *SnapshotArchiver) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"compression":  "snappy",
		},
	}

	// Flushes triggered by shutdown must still complete the upload.
	ctx := context.WithoutCancel(a.ctx)
	_, err := a.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.cfg.Bucket, err)
	}
	return nil
}
