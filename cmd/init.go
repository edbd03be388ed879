package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/school-intel/internal/compare"
	"github.com/sells-group/school-intel/internal/cost"
	"github.com/sells-group/school-intel/internal/export"
	"github.com/sells-group/school-intel/internal/extract"
	"github.com/sells-group/school-intel/internal/model"
	"github.com/sells-group/school-intel/internal/monitoring"
	"github.com/sells-group/school-intel/internal/normalize"
	"github.com/sells-group/school-intel/internal/ocr"
	"github.com/sells-group/school-intel/internal/pipeline"
	"github.com/sells-group/school-intel/internal/registry"
	"github.com/sells-group/school-intel/internal/resilience"
	"github.com/sells-group/school-intel/internal/scrape"
	"github.com/sells-group/school-intel/internal/store"
	"github.com/sells-group/school-intel/internal/summarize"
	anthropicpkg "github.com/sells-group/school-intel/pkg/anthropic"
	"github.com/sells-group/school-intel/pkg/jina"
)

// appEnv holds the store and the service built on top of it.
type appEnv struct {
	Store   store.Store
	Service *pipeline.Service
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "school-intel.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv opens the store and wires the service. mode is passed to
// Config.Validate; in "offline" mode the model-backed components are left
// nil and only store-backed operations work.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	schema := model.DefaultSchema()
	sheetMode, err := export.ParseSheetMode(cfg.Export.SheetMode)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	svc := &pipeline.Service{
		Store:     st,
		Compare:   compare.New(st, compare.WithSchema(schema), compare.WithCurrency(cfg.Export.Currency)),
		Exporter:  export.New(st, export.WithSchema(schema)),
		SheetMode: sheetMode,
	}

	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		if cfg.Anthropic.RatePerSec > 0 {
			client = anthropicpkg.WithRateLimit(client, rate.NewLimiter(rate.Limit(cfg.Anthropic.RatePerSec), 1))
		}
		svc.Orchestrator = initOrchestrator(client, st, schema)
		svc.Summarizer = summarize.New(client, st,
			summarize.WithSchema(schema),
			summarize.WithModel(cfg.Anthropic.SummaryModel),
			summarize.WithBatchSize(cfg.Summarize.BatchSize),
			summarize.WithPolicy(resilience.NewPolicy(cfg.Summarize.MaxAttempts, time.Duration(cfg.Summarize.CallTimeoutSecs)*time.Second)),
		)
	} else {
		zap.L().Debug("SCHOOLINTEL_ANTHROPIC_KEY not set, extraction and summaries disabled")
	}

	if err := seedSchools(ctx, svc); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &appEnv{Store: st, Service: svc}, nil
}

func initOrchestrator(client anthropicpkg.Client, st store.Store, schema *model.Schema) *pipeline.Orchestrator {
	fetchers := []scrape.Fetcher{
		scrape.NewLocalFetcher(time.Duration(cfg.Fetch.TimeoutSecs)*time.Second,
			scrape.WithUserAgent(cfg.Fetch.UserAgent),
			scrape.WithHostRate(cfg.Fetch.RatePerSec),
			scrape.WithBreakers(resilience.NewHostBreakers(resilience.BreakerConfig{})),
		),
	}
	if cfg.Fetch.UseJina {
		fetchers = append(fetchers, scrape.NewJinaFetcher(jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))))
	}
	var fetcher scrape.Fetcher = scrape.NewChain(fetchers...)
	if cfg.Fetch.CacheSize > 0 {
		fetcher = scrape.NewCachedFetcher(fetcher, cfg.Fetch.CacheSize, time.Duration(cfg.Fetch.CacheTTLMins)*time.Minute)
	}

	normOpts := []normalize.Option{normalize.WithMaxLength(cfg.Normalize.MaxLength)}
	if cfg.Fetch.PdfToText != "" {
		normOpts = append(normOpts, normalize.WithPDFExtractor(ocr.NewPdfToText(cfg.Fetch.PdfToText)))
	}

	extractor := extract.New(client,
		extract.WithSchema(schema),
		extract.WithModel(cfg.Anthropic.ExtractModel),
		extract.WithMaxTokens(cfg.Anthropic.MaxTokens),
		extract.WithTemperature(cfg.Anthropic.Temperature),
		extract.WithPolicy(resilience.NewPolicy(cfg.Extract.MaxAttempts, time.Duration(cfg.Extract.CallTimeoutSecs)*time.Second)),
	)

	rates := cost.DefaultRates()
	if len(cfg.Pricing.Anthropic) > 0 || cfg.Pricing.Jina.PerMTok > 0 {
		models := make(map[string]cost.ModelRate, len(cfg.Pricing.Anthropic))
		for name, p := range cfg.Pricing.Anthropic {
			models[name] = cost.ModelRate{Input: p.Input, Output: p.Output}
		}
		rates = rates.Override(models, cfg.Pricing.Jina.PerMTok)
	}

	return pipeline.NewOrchestrator(
		scrape.NewSchoolFetcher(fetcher, 4),
		normalize.New(normOpts...),
		extractor,
		st,
		pipeline.WithWorkers(cfg.Extract.Workers),
		pipeline.WithCalculator(cost.NewCalculator(rates)),
		pipeline.WithRunHook(monitoring.NewAlerter(cfg.Monitoring).Observe),
	)
}

// seedSchools registers the configured manifest when the store is empty, so
// a fresh database starts with the default school list.
func seedSchools(ctx context.Context, svc *pipeline.Service) error {
	ids, err := svc.Store.ListSchools(ctx)
	if err != nil {
		return eris.Wrap(err, "list schools")
	}
	if len(ids) > 0 {
		return nil
	}
	schools, err := registry.LoadSchools(cfg.SchoolsFile)
	if err != nil {
		return eris.Wrap(err, "load school manifest")
	}
	if err := svc.RegisterSchools(ctx, schools); err != nil {
		return err
	}
	zap.L().Info("seeded school registry", zap.Int("schools", len(schools)))
	return nil
}
