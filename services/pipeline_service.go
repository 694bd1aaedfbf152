package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	kafka_client "stockscreener/clients/kafka"
	mongo_client "stockscreener/clients/mongo"
	rabbitmq_client "stockscreener/clients/rabbitmq"
	"stockscreener/types"
	"stockscreener/utils/helpers"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/getsentry/sentry-go"
	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Output table file names under the run's data directory.
const (
	UniverseFile      = "ticker_universe.csv"
	QualifiedFile     = "qualified_tickers.csv"
	ExcludedFile      = "excluded_tickers.csv"
	MetricsFile       = "metrics_table.csv"
	CutoffsFile       = "cutoffs_table.csv"
	FetchFailuresFile = "fetch_failures.csv"
)

// PipelineConfig is the run-level configuration, validated up front: a bad
// config aborts before any output is written.
type PipelineConfig struct {
	DataDir       string
	MinYears      int
	Percentiles   []int
	MinSampleSize int
	Workers       int
	TestBatchSize int
	RetryPolicy   RetryPolicy
}

// ConfigFromEnv assembles the pipeline configuration from the environment,
// with the defaults the production screener runs on.
func ConfigFromEnv() (PipelineConfig, error) {
	cfg := PipelineConfig{
		DataDir:       getEnv("DATA_DIR", "./data"),
		MinYears:      getEnvInt("MIN_YEARS", 4),
		MinSampleSize: getEnvInt("MIN_SAMPLE_SIZE", 5),
		Workers:       getEnvInt("FETCH_WORKERS", 4),
		TestBatchSize: getEnvInt("TEST_BATCH_SIZE", 15),
		RetryPolicy: RetryPolicy{
			MaxAttempts: getEnvInt("FETCH_MAX_ATTEMPTS", 3),
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
	}

	raw := getEnv("PERCENTILES", "1,5,10")
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil {
			return cfg, &ConfigurationError{Field: "percentiles", Reason: fmt.Sprintf("%q is not an integer", part)}
		}
		cfg.Percentiles = append(cfg.Percentiles, p)
	}

	return cfg, cfg.Validate()
}

// Validate checks the run-level invariants. Violations are fatal.
func (c PipelineConfig) Validate() error {
	if c.MinYears < 2 {
		return &ConfigurationError{Field: "minYears", Reason: "a growth window needs at least 2 years"}
	}
	if c.Workers < 1 {
		return &ConfigurationError{Field: "workers", Reason: "must be at least 1"}
	}
	if c.RetryPolicy.MaxAttempts < 1 {
		return &ConfigurationError{Field: "retry.maxAttempts", Reason: "must be at least 1"}
	}
	return CutoffConfig{Percentiles: c.Percentiles, MinSampleSize: c.MinSampleSize}.Validate()
}

type PipelineServiceI interface {
	RunFull(ctx context.Context) (*types.RunSummary, error)
	RunTest(ctx context.Context) (*types.RunSummary, error)
	LastSummary() *types.RunSummary
}

type pipelineService struct {
	fetcher FinancialsFetcher

	mu   sync.Mutex
	last *types.RunSummary
}

var PipelineService PipelineServiceI = NewPipelineService(NewScreenerFetcher())

// NewPipelineService wires an orchestrator around the given fetcher. Tests
// pass a stub fetcher instead of the provider-backed one.
func NewPipelineService(fetcher FinancialsFetcher) PipelineServiceI {
	return &pipelineService{fetcher: fetcher}
}

// RunFull regenerates the production tables from the whole universe.
func (p *pipelineService) RunFull(ctx context.Context) (*types.RunSummary, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return p.run(ctx, cfg, types.RunModeFull)
}

// RunTest runs the same stages over a small fixed slice of the universe and
// writes under DataDir/test so it never clobbers production tables.
func (p *pipelineService) RunTest(ctx context.Context) (*types.RunSummary, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return p.run(ctx, cfg, types.RunModeTest)
}

func (p *pipelineService) LastSummary() *types.RunSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// run sequences validation, fetch, metric computation and cutoff generation
// over one explicit run context. Per-ticker errors are aggregated into the
// summary; only configuration problems abort.
func (p *pipelineService) run(ctx context.Context, cfg PipelineConfig, mode types.RunMode) (*types.RunSummary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	summary := &types.RunSummary{
		RunID:     uuid.New().String(),
		Mode:      mode,
		StartedAt: time.Now(),
	}
	span := sentry.StartSpan(ctx, fmt.Sprintf("[Pipeline] %s run", mode))
	defer span.Finish()

	universe, err := LoadUniverse(filepath.Join(cfg.DataDir, UniverseFile))
	if err != nil {
		return nil, &ConfigurationError{Field: "universe", Reason: err.Error()}
	}
	if len(universe) == 0 {
		return nil, &ConfigurationError{Field: "universe", Reason: "universe table is empty"}
	}

	outDir := cfg.DataDir
	if mode == types.RunModeTest {
		outDir = filepath.Join(cfg.DataDir, "test")
		if cfg.TestBatchSize > 0 && len(universe) > cfg.TestBatchSize {
			universe = universe[:cfg.TestBatchSize]
		}
	}
	if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
		return nil, &ConfigurationError{Field: "dataDir", Reason: err.Error()}
	}
	summary.UniverseSize = len(universe)

	zap.L().Info("Pipeline run started",
		zap.String("runId", summary.RunID),
		zap.String("mode", string(mode)),
		zap.Int("universe", len(universe)))

	// Stage 1: validate data sufficiency and persist the partition.
	validateSpan := sentry.StartSpan(span.Context(), "[Pipeline] Validate universe")
	validator := &ValidatorService{Fetcher: p.fetcher, MinYears: cfg.MinYears}
	qualified, excluded := validator.Partition(ctx, universe)
	validateSpan.Finish()

	if err := writeTable(filepath.Join(outDir, QualifiedFile), &qualified); err != nil {
		return nil, err
	}
	summary.Qualified = len(qualified)

	// Stage 2: fetch raw bundles for the qualified set.
	fetchSpan := sentry.StartSpan(span.Context(), "[Pipeline] Fetch metrics")
	fetchService := &FetchService{Fetcher: p.fetcher, Policy: cfg.RetryPolicy, Workers: cfg.Workers}
	outcomes := fetchService.FetchAll(ctx, qualified)
	fetchSpan.Finish()

	// Stage 3: compute metric rows; collect the failure log.
	qualifiedBySymbol := make(map[string]types.QualifiedTicker, len(qualified))
	for _, q := range qualified {
		qualifiedBySymbol[q.Symbol] = q
	}

	now := time.Now()
	metrics := []types.MetricRecord{}
	failures := []types.FetchFailure{}
	for _, outcome := range outcomes {
		switch outcome.Kind {
		case types.OutcomeSuccess:
			record := ComputeMetrics(outcome.Bundle, cfg.MinYears, now)
			if record.Industry == "" {
				record.Industry = qualifiedBySymbol[record.Symbol].Industry
			}
			metrics = append(metrics, record)
		case types.OutcomeExcluded:
			// Upstream data regressed between validation and fetch: record
			// the exclusion in the same table as validation-time ones.
			excluded = append(excluded, types.ExcludedTicker{
				Symbol:         outcome.Symbol,
				Reason:         outcome.Reason,
				YearsAvailable: qualifiedBySymbol[outcome.Symbol].YearsAvailable,
			})
			zap.L().Warn("Ticker excluded during fetch",
				zap.String("symbol", outcome.Symbol),
				zap.String("reason", outcome.Reason))
		case types.OutcomeFailed:
			failure := types.FetchFailure{
				Symbol:   outcome.Symbol,
				Error:    outcome.Err.Error(),
				Attempts: outcome.Attempts,
				FailedAt: types.DateTime{Time: now},
			}
			failures = append(failures, failure)
			rabbitmq_client.SendFetchFailure(types.FetchFailureEvent{
				RunID:   summary.RunID,
				Failure: failure,
				SentAt:  now,
			})
		}
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Symbol < metrics[j].Symbol })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Symbol < failures[j].Symbol })
	sort.Slice(excluded, func(i, j int) bool { return excluded[i].Symbol < excluded[j].Symbol })
	summary.Excluded = len(excluded)
	summary.FetchFailures = len(failures)
	summary.MetricRows = len(metrics)

	if err := writeTable(filepath.Join(outDir, ExcludedFile), &excluded); err != nil {
		return nil, err
	}
	if err := writeTable(filepath.Join(outDir, MetricsFile), &metrics); err != nil {
		return nil, err
	}
	if err := writeTable(filepath.Join(outDir, FetchFailuresFile), &failures); err != nil {
		return nil, err
	}

	// Stage 4: regenerate the cutoffs table from scratch.
	cutoffSpan := sentry.StartSpan(span.Context(), "[Pipeline] Compute cutoffs")
	cutoffs, err := ComputeCutoffs(metrics, CutoffConfig{Percentiles: cfg.Percentiles, MinSampleSize: cfg.MinSampleSize})
	cutoffSpan.Finish()
	if err != nil {
		return nil, err
	}
	if err := writeTable(filepath.Join(outDir, CutoffsFile), &cutoffs); err != nil {
		return nil, err
	}

	industries := make(map[string]bool)
	for _, r := range metrics {
		if r.Industry != "" {
			industries[r.Industry] = true
		}
	}
	summary.IndustriesCovered = len(industries)

	if mode == types.RunModeFull {
		p.mirrorToMongo(ctx, metrics, cutoffs)
		p.uploadArtifacts(ctx, outDir)
	}

	summary.FinishedAt = time.Now()
	summary.Succeeded = summary.MetricRows > 0

	p.mu.Lock()
	p.last = summary
	p.mu.Unlock()

	kafka_client.SendRunSummary(*summary)
	zap.L().Info("Pipeline run finished",
		zap.String("runId", summary.RunID),
		zap.Int("qualified", summary.Qualified),
		zap.Int("excluded", summary.Excluded),
		zap.Int("fetchFailures", summary.FetchFailures),
		zap.Int("metricRows", summary.MetricRows),
		zap.Int("industries", summary.IndustriesCovered),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)))

	if !summary.Succeeded {
		return summary, fmt.Errorf("run %s wrote no ticker metrics", summary.RunID)
	}
	return summary, nil
}

// mirrorToMongo upserts the metrics rows and replaces the cutoffs collection
// so the read-only presentation backend can query them. Skipped when Mongo
// is not configured; the CSV tables remain the source of truth.
func (p *pipelineService) mirrorToMongo(ctx context.Context, metrics []types.MetricRecord, cutoffs []types.CutoffRecord) {
	if mongo_client.Client == nil {
		return
	}

	db := mongo_client.Client.Database(os.Getenv("DATABASE"))
	metricsColl := db.Collection(getEnv("METRICS_COLLECTION", "metrics"))
	for _, r := range metrics {
		update := bson.M{"$set": bson.M{
			"symbol":            r.Symbol,
			"industry":          r.Industry,
			"revenueCagr":       nullFloatBSON(r.RevenueCAGR),
			"netProfitMargin":   nullFloatBSON(r.NetProfitMargin),
			"roce":              nullFloatBSON(r.ROCE),
			"marketCap":         nullFloatBSON(r.MarketCap),
			"marketCapCategory": marketCapCategoryBSON(r.MarketCap),
			"lastUpdated":       r.LastUpdated.Time,
		}}
		opts := options.Update().SetUpsert(true)
		if _, err := metricsColl.UpdateOne(ctx, bson.M{"symbol": r.Symbol}, update, opts); err != nil {
			zap.L().Error("Error upserting metric record",
				zap.String("symbol", r.Symbol),
				zap.Error(err))
			sentry.CaptureException(err)
		}
	}

	// Cutoffs carry no identity across runs: drop and reinsert wholesale.
	cutoffsColl := db.Collection(getEnv("CUTOFFS_COLLECTION", "cutoffs"))
	if err := cutoffsColl.Drop(ctx); err != nil {
		zap.L().Error("Error dropping cutoffs collection", zap.Error(err))
		sentry.CaptureException(err)
		return
	}
	if len(cutoffs) == 0 {
		return
	}
	docs := make([]interface{}, len(cutoffs))
	for i, c := range cutoffs {
		docs[i] = c
	}
	if _, err := cutoffsColl.InsertMany(ctx, docs); err != nil {
		zap.L().Error("Error inserting cutoff records", zap.Error(err))
		sentry.CaptureException(err)
	}
}

// uploadArtifacts pushes the finished tables to Cloudinary when configured,
// so the static view can fetch them without touching this service.
func (p *pipelineService) uploadArtifacts(ctx context.Context, outDir string) {
	cloudinaryURL := os.Getenv("CLOUDINARY_URL")
	if cloudinaryURL == "" {
		return
	}

	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		zap.L().Error("Error initializing Cloudinary", zap.Error(err))
		sentry.CaptureException(err)
		return
	}

	for _, name := range []string{MetricsFile, CutoffsFile} {
		f, err := os.Open(filepath.Join(outDir, name))
		if err != nil {
			zap.L().Error("Error opening table for upload", zap.String("file", name), zap.Error(err))
			continue
		}
		uploadResult, err := cld.Upload.Upload(ctx, f, uploader.UploadParams{
			PublicID: strings.TrimSuffix(name, ".csv"),
			Folder:   "screener_tables",
		})
		f.Close()
		if err != nil {
			zap.L().Error("Error uploading table to Cloudinary", zap.String("file", name), zap.Error(err))
			sentry.CaptureException(err)
			continue
		}
		zap.L().Info("Table uploaded to Cloudinary",
			zap.String("file", name),
			zap.String("url", uploadResult.SecureURL))
	}
}

func nullFloatBSON(v types.NullFloat) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Float64
}

func marketCapCategoryBSON(v types.NullFloat) interface{} {
	if !v.Valid {
		return nil
	}
	return helpers.GetMarketCapCategory(v.Float64)
}

// writeTable persists one output table, replacing any previous run's file.
func writeTable(path string, rows interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(rows, f)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		zap.L().Warn("Ignoring non-integer environment value",
			zap.String("key", key),
			zap.String("value", value))
		return defaultValue
	}
	return n
}
