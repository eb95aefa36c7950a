package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/use-agent/serpcrawl/browser"
	"github.com/use-agent/serpcrawl/config"
	"github.com/use-agent/serpcrawl/crawl"
	"github.com/use-agent/serpcrawl/credentials"
	"github.com/use-agent/serpcrawl/detect"
	"github.com/use-agent/serpcrawl/fetch"
	"github.com/use-agent/serpcrawl/models"
	"github.com/use-agent/serpcrawl/proxypool"
	"github.com/use-agent/serpcrawl/store"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run QUERY...",
		Short: "Run crawl jobs in-process and print their records",
		Long: `Run executes one job per argument and prints each terminal record as a JSON
line. Arguments are keywords for search engines and URLs for --engine generic.

Examples:
  # Search Bing for two keywords, one at a time
  crawlctl run "golang generics" "rod browser"

  # Extract three pages, two browsers at once
  crawlctl run --engine generic --parallel 2 https://a.example https://b.example https://c.example`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRunCmd,
	}

	cmd.Flags().StringP("engine", "e", "bing", "Engine: bing, google or generic")
	cmd.Flags().IntP("parallel", "p", 1, "Jobs to run at once")
	cmd.Flags().Bool("verbatim", false, "Ask the engine for exact-match results")
	cmd.Flags().Bool("follow-first", false, "Also extract the first organic result")
	cmd.Flags().Int("attempts", 0, "Attempts per job (default: SERPCRAWL_MAX_ATTEMPTS)")

	return cmd
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	engineName, _ := cmd.Flags().GetString("engine")
	parallel, _ := cmd.Flags().GetInt("parallel")
	verbatim, _ := cmd.Flags().GetBool("verbatim")
	followFirst, _ := cmd.Flags().GetBool("follow-first")
	attempts, _ := cmd.Flags().GetInt("attempts")

	engine, err := models.ParseEngine(engineName)
	if err != nil {
		return err
	}

	cfg := config.Load()
	if attempts > 0 {
		cfg.Crawl.MaxAttempts = attempts
	}
	orch, err := newOrchestrator(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		mu     sync.Mutex
		failed int
	)
	enc := json.NewEncoder(cmd.OutOrStdout())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for _, arg := range args {
		job := models.CrawlJob{
			ID:          uuid.NewString(),
			Engine:      engine,
			Verbatim:    verbatim,
			FollowFirst: followFirst && engine.IsSearch(),
		}
		if engine.IsSearch() {
			job.Keyword = arg
		} else {
			job.URL = arg
		}

		g.Go(func() error {
			rec := orch.Run(gctx, job)
			mu.Lock()
			defer mu.Unlock()
			if rec.Status != models.StatusCompleted {
				failed++
			}
			return enc.Encode(rec)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(args))
	}
	return nil
}

// newOrchestrator wires the orchestrator from configuration with an
// in-memory job store and no archive, enrichment or notifications.
func newOrchestrator(cfg *config.Config) (*crawl.Orchestrator, error) {
	strategy, err := proxypool.ParseStrategy(cfg.Proxy.Strategy)
	if err != nil {
		return nil, err
	}
	var endpoints []proxypool.Endpoint
	for _, raw := range cfg.Proxy.Proxies {
		e, err := proxypool.ParseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}

	signatures := detect.DefaultSignatures()
	if cfg.Detect.SignaturesFile != "" {
		if signatures, err = detect.LoadSignatures(cfg.Detect.SignaturesFile); err != nil {
			return nil, err
		}
	}
	cookies, err := credentials.Load(cfg.Credential.CookiesFile)
	if err != nil {
		return nil, err
	}

	return crawl.New(crawl.ConfigFrom(cfg.Crawl, cfg.Proxy), crawl.Deps{
		Proxies:  proxypool.New(strategy, cfg.Proxy.MaxFails, endpoints),
		Opener:   crawl.LauncherOpener(browser.NewLauncher(cfg.Browser)),
		Store:    store.NewMemoryStore(),
		Detector: detect.NewSignatureDetector(signatures),
		Cookies:  cookies,
		Fetcher:  fetch.New(cfg.Browser.NavTimeout),
	})
}
