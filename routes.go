package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arxiv-stars/models"
	"arxiv-stars/services"
	"arxiv-stars/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func newRouter(store *storage.Store, pipeline *services.Pipeline, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupStatusRoutes(router, store, log)
	setupRankingRoutes(router, store, log)
	setupPaperRoutes(router, store, log)
	setupRunRoutes(router, store, pipeline, log)
	return router
}

func setupStatusRoutes(router *gin.Engine, store *storage.Store, log *zap.Logger) {
	router.GET("/health", func(c *gin.Context) {
		n, err := store.CountPapers(c.Request.Context())
		if err != nil {
			log.Error("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "papers": n})
	})

	router.GET("/dates", func(c *gin.Context) {
		dates, err := store.ListDistinctDates(c.Request.Context())
		if err != nil {
			log.Error("Failed to list dates", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if dates == nil {
			dates = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"dates": dates})
	})
}

func setupRankingRoutes(router *gin.Engine, store *storage.Store, log *zap.Logger) {
	router.GET("/rankings", func(c *gin.Context) {
		ctx := c.Request.Context()

		q := storage.RankingQuery{Date: c.Query("date")}
		switch sortBy := c.DefaultQuery("sort", storage.SortByGrowth); sortBy {
		case storage.SortByGrowth, storage.SortByStars:
			q.SortBy = sortBy
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "sort must be 'growth' or 'stars'"})
			return
		}
		switch order := strings.ToLower(c.DefaultQuery("order", "desc")); order {
		case "asc":
			q.Ascending = true
		case "desc":
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "order must be 'asc' or 'desc'"})
			return
		}
		for param, target := range map[string]*int{"growth_days": &q.GrowthDays, "page": &q.Page, "per_page": &q.PerPage} {
			raw := c.Query(param)
			if raw == "" {
				continue
			}
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
				return
			}
			*target = v
		}
		if q.PerPage > 500 {
			q.PerPage = 500
		}

		// Ohne Datum gilt der jüngste Beobachtungstag.
		if q.Date == "" {
			dates, err := store.ListDistinctDates(ctx)
			if err != nil {
				log.Error("Failed to list dates", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
			if len(dates) == 0 {
				c.JSON(http.StatusOK, gin.H{"status": "no_data", "items": []models.RankingRow{}})
				return
			}
			q.Date = dates[0]
		} else if _, err := time.Parse(models.DateLayout, q.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}

		page, err := store.Rankings(ctx, q)
		if err != nil {
			log.Error("Ranking query failed", zap.String("date", q.Date), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if page.Total == 0 {
			c.JSON(http.StatusOK, gin.H{"status": "no_data", "date": q.Date, "items": page.Items})
			return
		}
		c.JSON(http.StatusOK, page)
	})
}

func setupPaperRoutes(router *gin.Engine, store *storage.Store, log *zap.Logger) {
	// Alte arXiv-IDs enthalten einen Schrägstrich (cs/0101001), daher Catch-all.
	router.GET("/papers/*arxiv_id", func(c *gin.Context) {
		ctx := c.Request.Context()
		arxivID := strings.Trim(c.Param("arxiv_id"), "/")
		if arxivID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "arxiv id required"})
			return
		}

		paper, err := store.PaperByArxivID(ctx, arxivID)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "paper not found"})
			return
		}
		if err != nil {
			log.Error("Failed to load paper", zap.String("arxiv_id", arxivID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		history, err := store.PaperHistory(ctx, paper.ID)
		if err != nil {
			log.Error("Failed to load star history", zap.String("arxiv_id", arxivID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if history == nil {
			history = []models.StarObservation{}
		}

		resp := gin.H{"paper": paper, "history": history}
		if len(history) > 0 {
			latest := history[len(history)-1]
			growth, _, err := services.Growth(ctx, store, paper.ID, latest.CheckDate, storage.DefaultGrowthDays)
			if err != nil {
				log.Warn("Growth calculation failed", zap.String("arxiv_id", arxivID), zap.Error(err))
			} else {
				resp["stars"] = latest.Stars
				resp["growth"] = growth
				resp["growth_days"] = storage.DefaultGrowthDays
			}
		}
		c.JSON(http.StatusOK, resp)
	})
}

func setupRunRoutes(router *gin.Engine, store *storage.Store, pipeline *services.Pipeline, log *zap.Logger) {
	rg := router.Group("/runs")

	rg.GET("", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		runs, err := store.RecentRuns(c.Request.Context(), limit)
		if err != nil {
			log.Error("Failed to load runs", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if runs == nil {
			runs = []models.PipelineRun{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	})

	rg.POST("", func(c *gin.Context) {
		if pipeline.Running() {
			c.JSON(http.StatusConflict, gin.H{"error": services.ErrRunInProgress.Error()})
			return
		}
		go func() {
			summary, err := pipeline.Run(context.Background(), services.RunOptions{})
			if err != nil {
				log.Error("Triggered run failed", zap.String("run_id", summary.RunID), zap.Error(err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Pipeline run triggered."})
	})
}
