package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/analyzer"
	"github.com/sells-group/leadcheck/internal/classify"
	"github.com/sells-group/leadcheck/internal/evidence"
	"github.com/sells-group/leadcheck/internal/health"
	"github.com/sells-group/leadcheck/internal/ledger"
	"github.com/sells-group/leadcheck/internal/transcript"
	anthropicpkg "github.com/sells-group/leadcheck/pkg/anthropic"
	"github.com/sells-group/leadcheck/pkg/bitrix"
	"github.com/sells-group/leadcheck/pkg/transcribe"
)

// appEnv holds the wired application graph shared by the commands.
type appEnv struct {
	Store    ledger.Store
	CRM      bitrix.Client
	Resolver *transcript.Resolver
	Analyzer *analyzer.Analyzer
	Checker  *health.Checker
}

func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("ledger close failed", zap.Error(err))
		}
	}
}

func initLedger(ctx context.Context) (ledger.Store, error) {
	switch cfg.Ledger.Driver {
	case "sqlite":
		dsn := cfg.Ledger.DatabaseURL
		if dsn == "" {
			dsn = "leadcheck.db"
		}
		return ledger.NewSQLite(dsn)
	case "postgres":
		return ledger.NewPostgres(ctx, cfg.Ledger.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported ledger driver: %s", cfg.Ledger.Driver)
	}
}

func initEnv(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initLedger(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate ledger")
	}

	crm := bitrix.NewClient(
		cfg.Bitrix.WebhookURL,
		cfg.Bitrix.JunkReasonField,
		cfg.Bitrix.JunkStatusValue,
		cfg.Bitrix.ActiveStatus,
		bitrix.WithRateLimit(cfg.Bitrix.RateLimitRPS),
		bitrix.WithPageSize(cfg.Bitrix.PageSize),
		bitrix.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Bitrix.TimeoutSecs) * time.Second}),
	)

	transcriber := transcribe.NewClient(
		cfg.Transcribe.BaseURL,
		transcribe.WithLanguageHint(cfg.Transcribe.LanguageHint),
		transcribe.WithMaxDownloadBytes(cfg.Transcribe.MaxDownloadBytes),
		transcribe.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Transcribe.TimeoutSecs) * time.Second}),
	)

	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	classifier := classify.NewClassifier(aiClient, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)

	resolver := transcript.NewResolver(transcriber, st)
	gatherer := evidence.NewGatherer(crm)

	an := analyzer.New(crm, gatherer, resolver, classifier, st, analyzer.Config{
		MinUnsuccessfulCalls: cfg.Analysis.MinUnsuccessfulCalls,
		ActiveStatus:         cfg.Bitrix.ActiveStatus,
		JunkStatus:           cfg.Bitrix.JunkStatusValue,
		LeadBatchLimit:       cfg.Analysis.LeadBatchLimit,
		DelayBetweenLeads:    time.Duration(cfg.Analysis.DelayBetweenLeadsMS) * time.Millisecond,
	})

	checker := health.NewChecker(10*time.Second,
		health.Dependency{Name: "bitrix", Pinger: crm},
		health.Dependency{Name: "transcribe", Pinger: transcriber},
		health.Dependency{Name: "anthropic", Pinger: aiClient},
		health.Dependency{Name: "ledger", Pinger: st},
	)

	return &appEnv{
		Store:    st,
		CRM:      crm,
		Resolver: resolver,
		Analyzer: an,
		Checker:  checker,
	}, nil
}

func schedulerInterval() time.Duration {
	return time.Duration(cfg.Scheduler.IntervalHours) * time.Hour
}

func schedulerShutdownTimeout() time.Duration {
	return time.Duration(cfg.Scheduler.ShutdownTimeoutSecs) * time.Second
}
