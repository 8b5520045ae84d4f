package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/adrotator/internal/config"
	"github.com/patrickwarner/adrotator/internal/db"
	"github.com/patrickwarner/adrotator/internal/observability"
)

var (
	server        string
	viewers       int
	anonShare     float64
	placementCSV  string
	totalReq      int
	conc          int
	duration      time.Duration
	rate          float64
	clickRate     float64
	unmountRate   float64
	stats         bool
	flush         bool
	redisAddr     string
	debug         bool
	label         string
	categoriesCSV string
)

var logger *zap.Logger

var (
	placements = []string{"header", "sidebar"}
	categories []string
	userAgents = []string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
	}
	viewportWidths = []int{375, 414, 768, 1024, 1440, 1920}
	userIPs        = []string{"192.0.2.1", "198.51.100.1", "203.0.113.1"}
)

const statsInterval = 5 * time.Second

var (
	countSent      uint64
	countDisplayed uint64
	countEmpty     uint64
	countErrors    uint64
	countClicks    uint64
	countUnmounts  uint64
)

// viewer is one simulated browser session. The cookie jar keeps the
// service's session cookie so repeat requests reuse mounted slots.
type viewer struct {
	id     string
	ua     string
	ip     string
	width  int
	client *http.Client
}

type placementResp struct {
	State    string `json:"state"`
	Creative *struct {
		ID string `json:"creative_id"`
	} `json:"creative"`
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
	}
}

func newViewers(r *rand.Rand, n int, transport http.RoundTripper) []*viewer {
	out := make([]*viewer, n)
	for i := range out {
		jar, _ := cookiejar.New(nil)
		v := &viewer{
			ua:    userAgents[r.Intn(len(userAgents))],
			ip:    userIPs[r.Intn(len(userIPs))],
			width: viewportWidths[r.Intn(len(viewportWidths))],
			client: &http.Client{
				Timeout:   30 * time.Second,
				Transport: transport,
				Jar:       jar,
				// Clicks must not follow the advertiser redirect.
				CheckRedirect: func(req *http.Request, via []*http.Request) error {
					return http.ErrUseLastResponse
				},
			},
		}
		if r.Float64() >= anonShare {
			v.id = fmt.Sprintf("viewer%d", i)
		}
		out[i] = v
	}
	return out
}

func (v *viewer) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(server, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", v.ua)
	req.Header.Set("X-Forwarded-For", v.ip)
	if v.id != "" {
		req.Header.Set("X-Viewer-ID", v.id)
	}
	return v.client.Do(req)
}

func visit(r *rand.Rand, v *viewer, placement string) {
	atomic.AddUint64(&countSent, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	q := url.Values{}
	q.Set("width", fmt.Sprint(v.width))
	if len(categories) > 0 {
		q.Set("category", categories[r.Intn(len(categories))])
	}
	resp, err := v.do(ctx, http.MethodGet, "/placements/"+placement+"?"+q.Encode())
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("placement request error", zap.Error(err))
		return
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("unexpected placement response", zap.Int("status", resp.StatusCode), zap.Error(err))
		return
	}
	var pr placementResp
	if err := json.Unmarshal(body, &pr); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("decode error", zap.Error(err), zap.String("body", strings.TrimSpace(string(body))))
		return
	}
	if pr.Creative == nil {
		atomic.AddUint64(&countEmpty, 1)
		logger.Debug("empty slot", zap.String("placement", placement), zap.String("viewer", v.id))
		return
	}
	atomic.AddUint64(&countDisplayed, 1)

	if r.Float64() < clickRate {
		clk, err := v.do(ctx, http.MethodGet, "/placements/"+placement+"/click?creative="+url.QueryEscape(pr.Creative.ID))
		if err != nil {
			atomic.AddUint64(&countErrors, 1)
			logger.Error("click error", zap.Error(err))
			return
		}
		_ = clk.Body.Close()
		atomic.AddUint64(&countClicks, 1)
	}
	if r.Float64() < unmountRate {
		del, err := v.do(ctx, http.MethodDelete, "/placements/"+placement)
		if err != nil {
			atomic.AddUint64(&countErrors, 1)
			logger.Error("unmount error", zap.Error(err))
			return
		}
		_ = del.Body.Close()
		atomic.AddUint64(&countUnmounts, 1)
	}
	logger.Debug("visit", zap.String("placement", placement), zap.String("viewer", v.id), zap.String("creative_id", pr.Creative.ID))
}

func flushEntitlements(ctx context.Context) {
	addr := redisAddr
	if addr == "" {
		addr = config.Load().RedisAddr
	}
	if addr == "" {
		logger.Warn("no redis address, skipping flush")
		return
	}
	store, err := db.InitRedis(addr)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer store.Close()

	n, err := store.FlushPremium(ctx)
	if err != nil {
		logger.Error("flush entitlement cache", zap.Error(err))
		return
	}
	logger.Info("entitlement cache flushed", zap.String("addr", addr), zap.Int("keys_deleted", n))
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8790", "placement service base URL")
	flag.IntVar(&viewers, "viewers", 100, "number of simulated viewers")
	flag.Float64Var(&anonShare, "anonymous", 0.3, "share of viewers without a viewer ID")
	flag.StringVar(&placementCSV, "placements", "header,sidebar", "comma-separated placement names")
	flag.StringVar(&categoriesCSV, "categories", "", "comma-separated content categories")
	flag.IntVar(&totalReq, "requests", 1000, "total page views to simulate")
	flag.IntVar(&conc, "concurrency", 20, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "page views per second (0 for unlimited)")
	flag.Float64Var(&clickRate, "click-rate", 0.05, "probability of a click per displayed creative")
	flag.Float64Var(&unmountRate, "unmount-rate", 0.1, "probability a view unmounts its slot afterwards")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "flush the entitlement cache before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}
	if flush {
		flushEntitlements(context.Background())
	}

	placements = splitCSV(placementCSV)
	categories = splitCSV(categoriesCSV)
	if len(placements) == 0 {
		logger.Fatal("no placements given")
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rmu sync.Mutex
	pool := newViewers(r, viewers, newTransport())

	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var interval time.Duration
	if rate > 0 {
		interval = time.Duration(float64(time.Second) / rate)
	} else if duration > 0 && totalReq > 0 {
		interval = duration / time.Duration(totalReq)
	}

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					return
				}
			}
		}()
	}

	start := time.Now()
	next := start
	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if interval > 0 {
			if now := time.Now(); now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(interval)
		}

		rmu.Lock()
		v := pool[r.Intn(len(pool))]
		placement := placements[r.Intn(len(placements))]
		seed := r.Int63()
		rmu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			visit(rand.New(rand.NewSource(seed)), v, placement)
		}()
	}
	wg.Wait()
	close(done)
	printStats()
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	shown := atomic.LoadUint64(&countDisplayed)
	empty := atomic.LoadUint64(&countEmpty)
	errs := atomic.LoadUint64(&countErrors)
	clk := atomic.LoadUint64(&countClicks)
	unm := atomic.LoadUint64(&countUnmounts)
	var ctr float64
	if shown > 0 {
		ctr = float64(clk) / float64(shown)
	}
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sent", sent),
		zap.Uint64("displayed", shown),
		zap.Uint64("empty", empty),
		zap.Uint64("errors", errs),
		zap.Uint64("clicks", clk),
		zap.Uint64("unmounts", unm),
		zap.Float64("ctr", ctr))
}
