package main

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the read-only dashboard API. Handlers only touch the
// cache store's query surface; they never reach the fetch client or the
// normalizer.
func NewRouter(db *sql.DB) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/summary", func(c *gin.Context) { handleSummary(c, db) })
		api.GET("/evaluations", func(c *gin.Context) { handleEvaluations(c, db) })
		api.GET("/experiments", func(c *gin.Context) { handleExperiments(c, db) })
		api.GET("/export.csv", func(c *gin.Context) { handleExportCSV(c, db) })
		api.GET("/export.json", func(c *gin.Context) { handleExportJSON(c, db) })
	}

	return r
}

func handleSummary(c *gin.Context, db *sql.DB) {
	from := c.DefaultQuery("from", time.Now().AddDate(0, 0, -30).Format("2006-01-02"))
	to := c.DefaultQuery("to", time.Now().Format("2006-01-02"))

	daily, err := GetDailyBreakdown(db, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	quality, err := GetQualityDistribution(db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ticketTypes, err := GetTicketTypeDistribution(db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := CountEvaluations(db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_records":   total,
		"daily_breakdown": daily,
		"quality":         quality,
		"ticket_types":    ticketTypes,
	})
}

func handleEvaluations(c *gin.Context, db *sql.DB) {
	records, err := QueryEvaluations(db, filterFromQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

func handleExperiments(c *gin.Context, db *sql.DB) {
	experiments, err := GetLatestExperiments(db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, experiments)
}

func handleExportCSV(c *gin.Context, db *sql.DB) {
	records, err := QueryEvaluations(db, filterFromQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="evaluations.csv"`)
	if err := WriteCSV(c.Writer, records); err != nil {
		log.Printf("export csv error: %v", err)
	}
}

func handleExportJSON(c *gin.Context, db *sql.DB) {
	records, err := QueryEvaluations(db, filterFromQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="evaluations.json"`)
	if err := WriteJSON(c.Writer, records); err != nil {
		log.Printf("export json error: %v", err)
	}
}

func filterFromQuery(c *gin.Context) EvalFilter {
	filter := EvalFilter{
		From:        c.Query("from"),
		To:          c.Query("to"),
		CountedOnly: c.Query("counted") == "true",
	}
	if types := c.Query("ticket_types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.TicketTypes = append(filter.TicketTypes, TicketType(strings.TrimSpace(t)))
		}
	}
	if qualities := c.Query("qualities"); qualities != "" {
		for _, q := range strings.Split(qualities, ",") {
			filter.Qualities = append(filter.Qualities, Quality(strings.TrimSpace(q)))
		}
	}
	return filter
}
