package http

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// QuotaConfig sets per-user generation allowances for each tier.
type QuotaConfig struct {
	FreeRate        rate.Limit
	FreeBurst       int
	PremiumRate     rate.Limit
	PremiumBurst    int
	CleanupInterval time.Duration
}

// DefaultQuotaConfig allows free users ten scripts an hour and subscribers ten a minute.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		FreeRate:        rate.Every(6 * time.Minute),
		FreeBurst:       3,
		PremiumRate:     rate.Every(6 * time.Second),
		PremiumBurst:    10,
		CleanupInterval: 10 * time.Minute,
	}
}

type quotaEntry struct {
	limiter    *rate.Limiter
	premium    bool
	lastAccess time.Time
}

// GenerationQuota rate-limits script generation per user, with a looser allowance for subscribers.
type GenerationQuota struct {
	config QuotaConfig
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*quotaEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewGenerationQuota creates a quota and starts its cleanup loop. Call Stop when done.
func NewGenerationQuota(config QuotaConfig, logger *slog.Logger) *GenerationQuota {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultQuotaConfig().CleanupInterval
	}
	q := &GenerationQuota{
		config:  config,
		logger:  logger,
		entries: make(map[string]*quotaEntry),
		stopCh:  make(chan struct{}),
	}
	go q.cleanupLoop()
	return q
}

// Stop ends the cleanup loop.
func (q *GenerationQuota) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

// Take charges one generation to the user's allowance for the given tier. On refusal it
// writes a 429 and returns false.
func (q *GenerationQuota) Take(w http.ResponseWriter, userID string, premium bool) bool {
	limit, allowed := q.allow(userID, premium)
	if allowed {
		return true
	}
	q.logger.Warn("generation quota exceeded",
		slog.String("user_id", userID),
		slog.Bool("premium", premium),
	)
	writeRateLimitResponse(w, limit)
	return false
}

// Len reports how many users currently hold a limiter.
func (q *GenerationQuota) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *GenerationQuota) allow(userID string, premium bool) (rate.Limit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	limit, burst := q.config.FreeRate, q.config.FreeBurst
	if premium {
		limit, burst = q.config.PremiumRate, q.config.PremiumBurst
	}

	entry, ok := q.entries[userID]
	// A tier change starts a fresh allowance for the new tier.
	if !ok || entry.premium != premium {
		entry = &quotaEntry{limiter: rate.NewLimiter(limit, burst), premium: premium}
		q.entries[userID] = entry
	}
	entry.lastAccess = time.Now()

	return limit, entry.limiter.Allow()
}

func (q *GenerationQuota) cleanupLoop() {
	ticker := time.NewTicker(q.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.cleanup(time.Now())
		case <-q.stopCh:
			return
		}
	}
}

// cleanup drops limiters idle for more than two cleanup intervals.
func (q *GenerationQuota) cleanup(now time.Time) {
	ttl := q.config.CleanupInterval * 2

	q.mu.Lock()
	defer q.mu.Unlock()
	for userID, entry := range q.entries {
		if now.Sub(entry.lastAccess) > ttl {
			delete(q.entries, userID)
		}
	}
}

// writeRateLimitResponse writes a 429 with Retry-After set to the time until one token refills.
func writeRateLimitResponse(w http.ResponseWriter, limit rate.Limit) {
	retryAfter := 1
	if limit > 0 {
		retryAfter = int(math.Ceil(1.0 / float64(limit)))
	}
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, kindRateLimited, "too many requests, please try again later")
}
