// Command gallery-fetch loads a gallery list with automatic continuation,
// prefetches previews of the first gallery and serves /metrics and /health.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/apperr"
	"github.com/Sternrassler/gallery-fetch/pkg/client"
	"github.com/Sternrassler/gallery-fetch/pkg/config"
	"github.com/Sternrassler/gallery-fetch/pkg/gallery"
	"github.com/Sternrassler/gallery-fetch/pkg/loading"
	"github.com/Sternrassler/gallery-fetch/pkg/logging"
	"github.com/Sternrassler/gallery-fetch/pkg/metrics"
	"github.com/Sternrassler/gallery-fetch/pkg/pagination"
	"github.com/Sternrassler/gallery-fetch/pkg/persist"
	"github.com/Sternrassler/gallery-fetch/pkg/previews"
	"github.com/Sternrassler/gallery-fetch/pkg/scheduler"
	"github.com/Sternrassler/gallery-fetch/pkg/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	keyword    string
	sortOrder  string
	more       int
	previews   int
	serve      bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("gallery-fetch", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "config file (default: gallery-fetch.yaml)")
	fs.StringVarP(&opts.keyword, "keyword", "k", "", "search keyword")
	fs.StringVar(&opts.sortOrder, "sort", "", "favorites sort order (favorited|updated)")
	fs.IntVarP(&opts.more, "more", "m", 1, "load-more requests after the first page")
	fs.IntVarP(&opts.previews, "previews", "p", 0, "previews to prefetch for the first gallery")
	fs.BoolVar(&opts.serve, "serve", false, "keep serving metrics until interrupted")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	switch gallery.SortOrder(opts.sortOrder) {
	case "", gallery.SortByFavoritedTime, gallery.SortByLastUpdate:
	default:
		return options{}, fmt.Errorf("unknown sort order %q", opts.sortOrder)
	}
	if opts.more < 0 || opts.previews < 0 {
		return options{}, fmt.Errorf("--more and --previews must be >= 0")
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("gallery-fetch failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runID := uuid.New().String()
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
		RunID:  runID,
	})

	handle, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer handle.Close()

	writer := persist.NewWriter(handle.Store, logging.NewLogger("persist"))
	defer writer.Wait()

	apiClient, err := client.New(client.Config{
		BaseURL:   cfg.Server.BaseURL,
		UserAgent: cfg.Server.UserAgent,
		Timeout:   cfg.Server.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metrics.NewHandler(handle.Ping),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics")
	}

	query := gallery.Query{Keyword: opts.keyword, SortOrder: gallery.SortOrder(opts.sortOrder)}
	items, err := fetchList(ctx, cfg, apiClient, handle.Store, writer, query, opts.more)
	if err != nil {
		return err
	}
	for i, g := range items {
		fmt.Fprintf(out, "%3d  %-10s %s\n", i+1, g.ID, g.Title)
	}

	if opts.previews > 0 && len(items) > 0 {
		n, err := prefetchPreviews(ctx, cfg, apiClient, handle.Store, writer, items[0], opts.previews)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "previews of %s: %d cached\n", items[0].ID, n)
	}

	if opts.serve {
		logger.Info().Msg("Serving until interrupted")
		<-ctx.Done()
	}
	logger.Info().Msg("Shutting down")
	return nil
}

// fetchList loads the first page and up to more load-more pages.
func fetchList(ctx context.Context, cfg *config.Config, c *client.Client, st persist.Store, w *persist.Writer, query gallery.Query, more int) ([]gallery.Gallery, error) {
	settled := make(chan loading.State, 16)
	scopeID := "list:" + query.Key()
	engine := pagination.New(ctx, pagination.Config[gallery.Gallery]{
		ScopeID:      scopeID,
		Fetch:        c.FetchGalleries,
		ID:           gallery.Gallery.Identity,
		Writer:       w,
		MaxGapSkips:  cfg.Pagination.MaxGapSkips,
		FetchTimeout: cfg.Pagination.FetchTimeout,
		Logger:       logging.NewLogger("pagination"),
		Hooks: pagination.Hooks{
			OnResponse: func(_ pagination.Slot, state loading.State) {
				select {
				case settled <- state:
				case <-ctx.Done():
				}
			},
		},
	})
	defer engine.Close()

	var rec pagination.Record[gallery.Gallery]
	if err := st.Load(ctx, scopeID, &rec); err == nil {
		engine.Restore(rec)
	}

	engine.FetchFirstPage(query)
	state, err := waitSettled(ctx, settled)
	if err != nil {
		return nil, err
	}
	if kind, failed := state.Failure(); failed {
		if kind == apperr.KindNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("first page failed: %s", state)
	}

	for i := 0; i < more; i++ {
		snap := engine.Snapshot()
		if !snap.Page.HasNext() {
			break
		}
		engine.FetchMore()
		state, err := waitSettled(ctx, settled)
		if err != nil {
			return nil, err
		}
		if state.IsFailed() {
			log.Warn().Str("state", state.String()).Msg("Load more failed")
			break
		}
	}

	return engine.Snapshot().Items, nil
}

// waitSettled waits for the first non-loading response state.
func waitSettled(ctx context.Context, settled <-chan loading.State) (loading.State, error) {
	for {
		select {
		case state := <-settled:
			if !state.IsLoading() {
				return state, nil
			}
		case <-ctx.Done():
			return loading.State{}, ctx.Err()
		}
	}
}

// prefetchPreviews prefetches the first n previews of g and returns how
// many previews are cached afterwards.
func prefetchPreviews(ctx context.Context, cfg *config.Config, c *client.Client, st persist.Store, w *persist.Writer, g gallery.Gallery, n int) (int, error) {
	done := make(chan struct{}, 16)
	notify := func(int) {
		select {
		case done <- struct{}{}:
		case <-ctx.Done():
		}
	}

	scope := previews.Open(ctx, g, previews.Config{
		Fetcher:       c,
		Store:         st,
		Writer:        w,
		Layout:        cfg.PreviewConfig(),
		PrefetchLimit: cfg.Previews.PrefetchLimit,
		FetchTimeout:  cfg.Scheduler.FetchTimeout,
		Logger:        logging.NewLogger("previews"),
		Hooks: scheduler.Hooks[int]{
			OnSkip:     notify,
			OnComplete: func(key int, _ scheduler.Outcome) { notify(key) },
		},
	})
	defer scope.Teardown()

	for pending := scope.Prefetch(1, n); pending > 0; pending-- {
		select {
		case <-done:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return len(scope.Snapshot().Previews), nil
}
