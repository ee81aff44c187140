package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/config"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/db"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	server      string
	users       int
	actionCSV   string
	totalReq    int
	conc        int
	duration    time.Duration
	rate        float64
	abuseRate   float64
	polite      bool
	stats       bool
	flush       bool
	redisAddr   string
	debug       bool
	label       string
	jitter      float64
	forwardedIP bool
)

var logger *zap.Logger

// HTTP client with proper resource limits
var httpClient *http.Client

var (
	actions    = []string{ratelimit.ActionEventCreation, ratelimit.ActionCommentPosting}
	userAgents = []string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	}
	userIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}
	cleanTexts = []string{
		"Caminhada pacífica no parque da cidade, tragam água e protetor solar",
		"Encontro de moradores para discutir a reforma da praça",
		"Ato em defesa da educação pública, concentração às 10h",
		"Peaceful march downtown, bring signs and water",
	}
	abusiveTexts = []string{
		"vamos matar todos que aparecerem",
		"tragam explosivo e coquetel molotov",
		"a eleição foi uma fraude, urnas fraudadas",
		"vendo pistola e munição, chama no privado",
		"supremacia branca já",
	}
)

const statsInterval = 5 * time.Second

var (
	countSent        uint64
	countAccepted    uint64
	countRejected    uint64
	countChallenged  uint64
	countRateLimited uint64
	countSkipped     uint64
	countErrors      uint64
)

type submission struct {
	ContentID string `json:"content_id"`
	Text      string `json:"text"`
}

// politeClients keeps one advisory limiter per simulated user so polite runs
// pace themselves like well behaved clients.
type politeClients struct {
	mu      sync.Mutex
	configs map[string]ratelimit.Config
	byUser  map[string]*ratelimit.AdvisoryLimiter
}

func (p *politeClients) allow(userID, action string) bool {
	p.mu.Lock()
	adv, ok := p.byUser[userID]
	if !ok {
		adv = ratelimit.NewAdvisoryLimiter(p.configs)
		p.byUser[userID] = adv
	}
	p.mu.Unlock()
	return adv.Allow(action)
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "gatekeeper base URL")
	flag.IntVar(&users, "users", 20, "number of unique users")
	flag.StringVar(&actionCSV, "actions", strings.Join(actions, ","), "comma-separated protected actions to submit to")
	flag.IntVar(&totalReq, "requests", 500, "total requests to send")
	flag.IntVar(&conc, "concurrency", 10, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "requests per second (0 for unlimited)")
	flag.Float64Var(&abuseRate, "abuse-rate", 0.2, "probability that a submission carries abusive text")
	flag.BoolVar(&polite, "polite", false, "pace each user with a client-side advisory limiter")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "clear rate limit entries in redis before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.Float64Var(&jitter, "jitter", 0.0, "random jitter factor for request spacing")
	flag.BoolVar(&forwardedIP, "forwarded-ip", true, "send X-Forwarded-For with a simulated client IP")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "abuse-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
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
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	cfg := config.Load()
	limits, err := cfg.RateLimitConfigs()
	if err != nil {
		logger.Fatal("rate limit config", zap.Error(err))
	}

	if flush {
		addr := redisAddr
		if addr == "" {
			addr = cfg.RedisAddr
		}
		store, err := db.InitRedis(addr)
		if err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		// Only limiter entries are cleared; challenge sessions expire on their own.
		limiter := ratelimit.NewLimiter(store, limits, logger, nil)
		entries, err := limiter.Entries(context.Background())
		if err != nil {
			logger.Fatal("list rate limit entries", zap.Error(err))
		}
		cleared := 0
		for _, e := range entries {
			if err := limiter.Unblock(context.Background(), e.Action, e.ClientID); err != nil {
				logger.Error("failed to clear entry", zap.String("action", e.Action), zap.String("client_id", e.ClientID), zap.Error(err))
				continue
			}
			cleared++
		}
		store.Close()
		logger.Info("rate limit entries flushed", zap.String("addr", addr), zap.Int("entries_cleared", cleared))
	}

	actions = strings.Split(actionCSV, ",")
	for i := range actions {
		actions[i] = strings.TrimSpace(actions[i])
	}

	var pc *politeClients
	if polite {
		pc = &politeClients{configs: limits, byUser: make(map[string]*ratelimit.AdvisoryLimiter)}
	}

	var rmu sync.Mutex
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	pick := func(n int) int {
		rmu.Lock()
		defer rmu.Unlock()
		return r.Intn(n)
	}
	chance := func() float64 {
		rmu.Lock()
		defer rmu.Unlock()
		return r.Float64()
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var baseInterval time.Duration
	if rate > 0 {
		baseInterval = time.Duration(float64(time.Second) / rate)
	} else if duration > 0 && totalReq > 0 {
		baseInterval = duration / time.Duration(totalReq)
	}

	start := time.Now()
	next := start

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					printStats()
					return
				}
			}
		}()
	}

	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if baseInterval > 0 {
			effective := baseInterval
			if jitter > 0 {
				jf := 1 + (chance()*2-1)*jitter
				if jf < 0.1 {
					jf = 0.1
				}
				effective = time.Duration(float64(effective) * jf)
			}
			now := time.Now()
			if now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(effective)
		}

		userID := fmt.Sprintf("user%d", pick(users))
		action := actions[pick(len(actions))]
		if pc != nil && !pc.allow(userID, action) {
			atomic.AddUint64(&countSkipped, 1)
			logger.Debug("skipped by advisory limiter", zap.String("user_id", userID), zap.String("action", action))
			continue
		}

		text := cleanTexts[pick(len(cleanTexts))]
		if chance() < abuseRate {
			text = abusiveTexts[pick(len(abusiveTexts))]
		}
		ua := userAgents[pick(len(userAgents))]
		ip := userIPs[pick(len(userIPs))]

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			atomic.AddUint64(&countSent, 1)
			submit(i, userID, action, text, ua, ip)
		}(i)
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
}

func submit(i int, userID, action, text, ua, ip string) {
	blob, err := json.Marshal(submission{ContentID: "sim-" + label + "-" + strconv.Itoa(i), Text: text})
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("marshal error", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/api/submissions/"+action, bytes.NewReader(blob))
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("request build error", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ua)
	req.Header.Set("X-User-ID", userID)
	if forwardedIP {
		req.Header.Set("X-Forwarded-For", ip)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("submission error", zap.Error(err))
		return
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		atomic.AddUint64(&countAccepted, 1)
	case http.StatusUnprocessableEntity:
		atomic.AddUint64(&countRejected, 1)
	case http.StatusForbidden:
		atomic.AddUint64(&countChallenged, 1)
	case http.StatusTooManyRequests:
		atomic.AddUint64(&countRateLimited, 1)
		logger.Debug("rate limited",
			zap.String("user_id", userID),
			zap.String("action", action),
			zap.String("retry_after", resp.Header.Get("Retry-After")))
		return
	default:
		atomic.AddUint64(&countErrors, 1)
		logger.Error("unexpected status", zap.Int("status", resp.StatusCode), zap.String("body", strings.TrimSpace(string(body))))
		return
	}
	logger.Debug("submission",
		zap.String("user_id", userID),
		zap.String("action", action),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", resp.Header.Get("X-Request-ID")))
}

func printStats() {
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sent", atomic.LoadUint64(&countSent)),
		zap.Uint64("accepted", atomic.LoadUint64(&countAccepted)),
		zap.Uint64("rejected", atomic.LoadUint64(&countRejected)),
		zap.Uint64("challenged", atomic.LoadUint64(&countChallenged)),
		zap.Uint64("rate_limited", atomic.LoadUint64(&countRateLimited)),
		zap.Uint64("skipped", atomic.LoadUint64(&countSkipped)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)))
}
