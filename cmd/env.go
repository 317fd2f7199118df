package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/customer"
	"github.com/sells-group/order-intake/internal/fetcher"
	"github.com/sells-group/order-intake/internal/ocr"
	"github.com/sells-group/order-intake/internal/patterns"
	"github.com/sells-group/order-intake/internal/pipeline"
	"github.com/sells-group/order-intake/internal/store"
	"github.com/sells-group/order-intake/internal/xref"
	"github.com/sells-group/order-intake/pkg/salesforce"
	"github.com/sells-group/order-intake/pkg/xrefapi"
)

// appEnv holds the store, the pipeline and the document opener needed by
// the process/batch/inbox/serve commands.
type appEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Opener   *fetcher.Opener
	Registry *prometheus.Registry
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens and migrates the store, then builds the pipeline from
// config. catalogPath, when set, preloads an in-memory cross-reference
// catalog. Callers should defer env.Close().
func initEnv(ctx context.Context, catalogPath string) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env, err := buildEnv(ctx, st, catalogPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// buildEnv wires the pipeline around an open store.
func buildEnv(ctx context.Context, st store.Store, catalogPath string) (*appEnv, error) {
	lib, err := patterns.Default()
	if err != nil {
		return nil, eris.Wrap(err, "load pattern library")
	}

	src, err := initXRefSource(ctx, st, catalogPath)
	if err != nil {
		return nil, err
	}

	dir, err := initCustomers(st)
	if err != nil {
		return nil, err
	}

	text, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, eris.Wrap(err, "init text extractor")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p, err := pipeline.New(cfg.Pipeline, lib, xref.NewResolver(src),
		pipeline.WithTextExtractor(text),
		pipeline.WithCustomers(dir),
		pipeline.WithMetrics(pipeline.NewMetrics(reg)),
	)
	if err != nil {
		return nil, eris.Wrap(err, "build pipeline")
	}

	return &appEnv{
		Store:    st,
		Pipeline: p,
		Opener:   newOpener(),
		Registry: reg,
	}, nil
}

func newOpener() *fetcher.Opener {
	return fetcher.NewOpener(fetcher.HTTPOptions{}, fetcher.FTPOptions{
		User:     cfg.Inbox.User,
		Password: cfg.Inbox.Password,
		Timeout:  time.Duration(cfg.Inbox.TimeoutSecs) * time.Second,
	})
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "order-intake.db"
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

// initXRefSource picks the cross-reference catalog. A catalog file always
// wins and yields an in-memory source.
func initXRefSource(ctx context.Context, st store.Store, catalogPath string) (xref.Source, error) {
	if catalogPath != "" {
		entries, err := loadCrossRefFile(ctx, catalogPath)
		if err != nil {
			return nil, err
		}
		zap.L().Info("xref: loaded catalog file",
			zap.String("path", catalogPath),
			zap.Int("entries", len(entries)),
		)
		return xref.NewMemorySource(entries...), nil
	}

	switch cfg.XRef.Source {
	case "memory":
		zap.L().Warn("xref: memory source without a catalog file, every code will miss")
		return xref.NewMemorySource(), nil
	case "service":
		client := xrefapi.NewClient(cfg.XRef.BaseURL, cfg.XRef.APIKey, xrefapi.WithRateLimit(cfg.XRef.RateRPS))
		return xref.NewServiceSource(client, cfg.XRef.Retry.RetryConfig(), cfg.XRef.Circuit.CircuitBreakerConfig("xrefapi")), nil
	default:
		return xref.NewStoreSource(st), nil
	}
}

func initCustomers(st store.Store) (customer.Directory, error) {
	ttl := time.Duration(cfg.Customer.CacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}

	switch cfg.Customer.Provider {
	case "none":
		return customer.Nop{}, nil
	case "salesforce":
		client, err := initSalesforce()
		if err != nil {
			return nil, err
		}
		return customer.NewCached(customer.NewSalesforceDirectory(client, cfg.Salesforce.TaxIDField), ttl), nil
	default:
		return customer.NewCached(customer.NewStoreDirectory(st), ttl), nil
	}
}

func initSalesforce() (salesforce.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (INTAKE_SALESFORCE_CLIENT_ID)")
	}
	client, err := salesforce.Connect(salesforce.Credentials{
		LoginURL: cfg.Salesforce.LoginURL,
		Username: cfg.Salesforce.Username,
		ClientID: cfg.Salesforce.ClientID,
		KeyPath:  cfg.Salesforce.KeyPath,
	}, salesforce.WithRateLimit(cfg.Salesforce.RateRPS))
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}
	return client, nil
}
