package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/rss-sieve/app/cfg"
	"github.com/lysyi3m/rss-sieve/app/feed"
	"github.com/lysyi3m/rss-sieve/app/pipeline"
	"github.com/lysyi3m/rss-sieve/app/tasks"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

func NewHandler(configCache *feed.ConfigCache, scheduler FeedScheduler, ledger LedgerReader,
	health HealthChecker, stats StatsSource, topic string) *Handler {
	return &Handler{
		configCache: configCache,
		scheduler:   scheduler,
		ledger:      ledger,
		health:      health,
		stats:       stats,
		topic:       topic,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := h.health.Health(c.Request.Context())
	health["timestamp"] = time.Now().In(time.Local).Format(time.RFC3339)
	health["version"] = cfg.GetVersion()
	health["loaded_configurations"] = h.configCache.GetConfigCount()

	status := http.StatusOK
	if health["status"] == pipeline.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"topic":     h.topic,
		"cycles":    h.stats.Snapshot(),
		"feeds":     h.scheduler.Feeds(),
	}

	if counts, err := h.ledger.CountByFeed(c.Request.Context()); err == nil {
		stats["ledger"] = counts
	} else {
		slog.Warn("Ledger unavailable", "operation", "count_by_feed", "error", err)
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	snapshots := h.scheduler.Feeds()

	counts, err := h.ledger.CountByFeed(c.Request.Context())
	if err != nil {
		slog.Warn("Ledger unavailable", "operation", "count_by_feed", "error", err)
	}

	feeds := make([]map[string]interface{}, 0, len(snapshots))

	for _, snapshot := range snapshots {
		feedInfo := map[string]interface{}{
			"name":  snapshot.FeedID,
			"state": snapshot,
		}

		if feedConfig, err := h.configCache.GetConfig(snapshot.FeedID); err == nil {
			feedInfo["enabled"] = feedConfig.Settings.Enabled
			feedInfo["filters"] = len(feedConfig.Filters)
		}

		if counts != nil {
			feedInfo["committed_entries"] = counts[snapshot.FeedID]
		}

		feeds = append(feeds, feedInfo)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) APIGetFeedDetails(c *gin.Context) {
	name := c.Param("name")

	snapshot, err := h.scheduler.Feed(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = min(parsed, maxRecentLimit)
	}

	details := map[string]interface{}{
		"name":  name,
		"state": snapshot,
	}

	if feedConfig, err := h.configCache.GetConfig(name); err == nil {
		details["settings"] = feedConfig.Settings
		details["filters"] = feedConfig.Filters
	}

	records, err := h.ledger.Recent(c.Request.Context(), name, limit)
	if err != nil {
		slog.Error("Database error", "operation", "recent", "feed", name, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ledger unavailable"})
		return
	}
	details["recent"] = records

	c.JSON(http.StatusOK, details)
}

func (h *Handler) APIPollFeed(c *gin.Context) {
	name := c.Param("name")

	queued, err := h.scheduler.Trigger(name)
	if errors.Is(err, tasks.ErrFeedNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}
	if err != nil {
		slog.Error("Error triggering poll", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to trigger poll"})
		return
	}

	if !queued {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Feed is busy",
			"feed":  name,
		})
		return
	}

	slog.Info("Poll triggered", "feed", name)

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Poll queued",
		"feed":    name,
	})
}
