package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/devbackend"
	"github.com/patrickwarner/adrotator/internal/observability"
)

var (
	addr         = flag.String("addr", ":8791", "listen address")
	perPlacement = flag.Int("creatives", 4, "ranked creatives per placement")
	fallbackPer  = flag.Int("fallback", 2, "fallback network creatives per placement")
	premiumCSV   = flag.String("premium", "", "comma-separated viewer IDs with an active premium subscription")
	rankingDown  = flag.Bool("ranking-down", false, "fail every get_placement_ads call")
	seed         = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
)

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	r := rand.New(rand.NewSource(*seed))
	b := devbackend.New(logger)
	for p, ads := range devbackend.Generate(r, *perPlacement) {
		b.SetAds(p, ads)
	}
	for p, ads := range devbackend.Generate(r, *fallbackPer) {
		b.SetFallbackAds(p, ads)
	}
	for _, id := range strings.Split(*premiumCSV, ",") {
		if id = strings.TrimSpace(id); id != "" {
			b.SetPremium(id, true)
		}
	}
	b.SetRankingDown(*rankingDown)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("fake backend listening",
			zap.String("addr", *addr),
			zap.Int64("seed", *seed),
			zap.String("backend_url", "http://localhost"+*addr),
			zap.String("fallback_url", "http://localhost"+*addr+"/ads"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("fake backend", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("fake backend stopped",
		zap.Int("impressions", len(b.Events("log_ad_impression"))),
		zap.Int("clicks", len(b.Events("log_ad_click"))))
}
