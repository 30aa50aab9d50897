// Command netsiftd serves the netsift HTTP API: advisory analysis, device
// verification, catalog scanning, inventory, and the offline update channel,
// all over one on-disk database.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crgimenes/goconfig"
	"github.com/quay/zlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/netsift/netsift/datastore/sqlite"
	"github.com/netsift/netsift/features"
	"github.com/netsift/netsift/httpapi"
	"github.com/netsift/netsift/inference"
	"github.com/netsift/netsift/inventory"
	"github.com/netsift/netsift/retriever"
	"github.com/netsift/netsift/scanner"
	"github.com/netsift/netsift/taxonomy"
	"github.com/netsift/netsift/updater"
	"github.com/netsift/netsift/verifier"
)

// Config is parsed from flags and environment variables by goconfig.
// See: https://github.com/crgimenes/goconfig
type Config struct {
	HTTPListenAddr string `cfgDefault:"0.0.0.0:8080" cfg:"HTTP_LISTEN_ADDR"`
	DBPath         string `cfgDefault:"netsift.db" cfg:"DB_PATH" cfgHelper:"Path of the SQLite database file."`
	TaxonomyDir    string `cfg:"TAXONOMY_DIR" cfgHelper:"Directory of taxonomy catalog files. Empty uses the embedded catalogs."`
	CorpusPath     string `cfg:"CORPUS_PATH" cfgHelper:"JSON-lines exemplar corpus for the retriever. Empty starts with no corpus."`

	ModelEndpoint string `cfg:"MODEL_ENDPOINT" cfgHelper:"Completions endpoint of the inference runtime. Empty disables the model tier."`
	ModelName     string `cfg:"MODEL_NAME" cfgHelper:"Model to request from the runtime."`
	ModelRPM      int    `cfgDefault:"0" cfg:"MODEL_REQUESTS_PER_MINUTE" cfgHelper:"Cap on model calls per minute. Zero means no cap."`

	AdminSecret    string `cfg:"ADMIN_SECRET" cfgHelper:"Shared secret for the /system/ surface."`
	DevMode        bool   `cfgDefault:"false" cfg:"DEV_MODE" cfgHelper:"Waves admin requests through and switches to console logging."`
	AllowedOrigins string `cfg:"ALLOWED_ORIGINS" cfgHelper:"Comma-separated CORS allowlist. Empty disables cross-origin access."`

	RateWindowSeconds int `cfgDefault:"60" cfg:"RATE_WINDOW_SECONDS"`
	RateDefault       int `cfgDefault:"120" cfg:"RATE_DEFAULT" cfgHelper:"Per-window cap for plain requests. Zero or less disables."`
	RateAnalyze       int `cfgDefault:"30" cfg:"RATE_ANALYZE"`
	RateVerify        int `cfgDefault:"30" cfg:"RATE_VERIFY"`
	RateScan          int `cfgDefault:"60" cfg:"RATE_SCAN"`

	SSHPort  int    `cfgDefault:"22" cfg:"SSH_PORT"`
	LogLevel string `cfgDefault:"info" cfg:"LOG_LEVEL" cfgHelper:"Log levels: debug, info, warn, error, fatal, panic"`
}

func main() {
	conf := Config{}
	if err := goconfig.Parse(&conf); err != nil {
		log.Fatal().Msgf("failed to parse config: %v", err)
	}

	zerolog.SetGlobalLevel(logLevel(conf))
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if conf.DevMode {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = l
	zlog.Set(&l)
	ctx, stop := signal.NotifyContext(l.WithContext(context.Background()), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, conf.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", conf.DBPath).Msg("failed to open database")
	}
	defer store.Close()

	tax, err := loadTaxonomy(ctx, conf)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load taxonomy")
	}

	ret := retriever.New(0)
	if conf.CorpusPath != "" {
		if err := ret.LoadFile(ctx, conf.CorpusPath); err != nil {
			log.Fatal().Err(err).Str("path", conf.CorpusPath).Msg("failed to load exemplar corpus")
		}
	} else {
		log.Warn().Msg("no exemplar corpus configured; analyses will use the fallback tier")
	}

	var client inference.Client
	if conf.ModelEndpoint != "" {
		c, err := inference.NewHTTPClient(inference.ClientConfig{
			Endpoint:          conf.ModelEndpoint,
			Model:             conf.ModelName,
			RequestsPerMinute: conf.ModelRPM,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to construct the model client")
		}
		client = c
	} else {
		log.Warn().Msg("no model endpoint configured; analyses will use the fallback tier")
	}

	scan := scanner.New(store)
	core := &httpapi.Core{
		Store:    store,
		Analyzer: inference.New(tax, ret, store, client, inference.Options{}),
		Scanner:  scan,
		Verifier: verifier.New(&verifier.SSHDialer{Port: conf.SSHPort}, features.New(tax), verifier.Options{}),
		Updater: updater.New(store, updater.Options{
			OnCorpusChange: func(ctx context.Context) {
				// Operators drop a refreshed corpus next to the update
				// package; a labeled import is the reload signal.
				if conf.CorpusPath == "" {
					return
				}
				if err := ret.LoadFile(ctx, conf.CorpusPath); err != nil {
					zlog.Warn(ctx).Err(err).Msg("corpus reload failed; keeping the previous corpus")
				}
			},
		}),
		Taxonomy: tax,
	}
	core.Inventory = inventory.New(store, scan, core.Verifier, inventory.Options{})

	h := httpapi.NewHandler(core, httpapi.Config{
		AdminSecret:    conf.AdminSecret,
		DevMode:        conf.DevMode,
		AllowedOrigins: splitOrigins(conf.AllowedOrigins),
		RateWindow:     time.Duration(conf.RateWindowSeconds) * time.Second,
		RateLimits: httpapi.Limits{
			httpapi.CatDefault: conf.RateDefault,
			httpapi.CatAnalyze: conf.RateAnalyze,
			httpapi.CatVerify:  conf.RateVerify,
			httpapi.CatScan:    conf.RateScan,
		},
	})
	srv := &http.Server{
		Addr:        conf.HTTPListenAddr,
		Handler:     h,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		sctx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("unclean shutdown")
		}
	}()

	log.Info().Str("addr", conf.HTTPListenAddr).Bool("dev_mode", conf.DevMode).Msg("starting http server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("failed to start http server")
	}
}

func loadTaxonomy(ctx context.Context, conf Config) (*taxonomy.Store, error) {
	if conf.TaxonomyDir != "" {
		return taxonomy.LoadDir(ctx, conf.TaxonomyDir)
	}
	return taxonomy.Default(ctx)
}

func splitOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func logLevel(conf Config) zerolog.Level {
	switch strings.ToLower(conf.LogLevel) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}
