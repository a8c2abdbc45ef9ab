package main

import (
	"context"
	"errors"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/cobra"
	"github.com/yuxki/dytrust"
	"github.com/yuxki/dytrust/pkg/config"
	"github.com/yuxki/dytrust/pkg/date"
	"github.com/yuxki/dytrust/pkg/revocation"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Serve chain validation over HTTP",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errs := loadConfig(root.config)
			if errs != nil {
				return errors.Join(errs...)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func chainHTTPAccessHandler(c alice.Chain) alice.Chain {
	chain := c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	}))
	chain = chain.Append(hlog.RemoteAddrHandler("ip"))
	chain = chain.Append(hlog.UserAgentHandler("user_agent"))
	return chain
}

// newServeMux routes the validation endpoint, the metrics endpoint and, for
// the memory repository, the cache status endpoint.
func newServeMux(
	cfg config.DyTrustConfig, validator *dytrust.Validator, repos repositories, chain alice.Chain,
) *http.ServeMux {
	hLogger := roleLogger(handlerRole)

	mux := http.NewServeMux()
	mux.Handle("/validate", dytrust.NewValidationHandler(
		validator,
		dytrust.ValidationHandlerSpec{
			MaxRequestBytes: cfg.MaxRequestBytes,
			ControlTime:     cfg.ControlTime,
			Logger:          hLogger,
		},
		chain,
	))
	mux.Handle("/metrics", promhttp.Handler())
	if repos.store != nil {
		mux.Handle("/status", dytrust.NewStatusHandler(repos.store.NewReadOnlyStore(), chain))
	}

	return mux
}

func newRefresher(
	cfg config.DyTrustConfig,
	source *revocation.RepositorySource,
	repos repositories,
	quite chan string,
) (*dytrust.Refresher, error) {
	watch, err := loadWatch(cfg.Watch)
	if err != nil {
		return nil, err
	}

	opts := []dytrust.RefresherOptionFunc{dytrust.WithQuiteChan(quite)}
	if repos.sweep != nil {
		opts = append(opts, dytrust.WithSweepRepository(repos.sweep))
	}

	return dytrust.NewRefresher(
		source,
		watch,
		date.NowGMT(),
		dytrust.RefresherSpec{
			Interval:   time.Second * time.Duration(cfg.Interval),
			Delay:      time.Second * time.Duration(cfg.Delay),
			Logger:     roleLogger(refresherRole),
			Expiration: cfg.Expired,
		},
		opts...,
	), nil
}

func serve(ctx context.Context, cfg config.DyTrustConfig) error {
	setupLogger(cfg, os.Stderr)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := dytrust.Init(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	trust, err := loadTrustAnchors(cfg.TrustAnchors)
	if err != nil {
		return err
	}

	repos, err := newRepositories(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	vLogger := roleLogger(validatorRole)
	source := newRepositorySource(cfg, repos.repo, vLogger)

	var validator *dytrust.Validator
	if source == nil {
		validator = newValidator(cfg, trust, nil, revocation.Freshness{}, vLogger)
	} else {
		validator = newValidator(cfg, trust, source, source.Freshness(), vLogger)
	}

	// Run the refresher keeping the watched revocation data fresh
	var quite chan string
	if cfg.RefreshEnabled && source != nil {
		quite = make(chan string)
		refresher, err := newRefresher(cfg, source, repos, quite)
		if err != nil {
			return err
		}
		go refresher.Run(rootCtx)
	}

	// Create Server
	hLogger := roleLogger(handlerRole)
	chain := alice.New()
	chain = chain.Append(hlog.NewHandler(hLogger))
	chain = chainHTTPAccessHandler(chain)

	host := net.JoinHostPort(cfg.Domain, cfg.Port)
	server := dytrust.CreateHTTPServer(
		host,
		cfg,
		newServeMux(cfg, validator, repos, chain),
	)

	// Run Server
	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		if quite != nil {
			quite <- "Quite on error"
			stdlog.Printf("Refresh loop quited: received message from refresher: %s", <-quite)
		}
		return err
	}

	return nil
}
