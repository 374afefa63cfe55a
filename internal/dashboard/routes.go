package dashboard

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, status StatusFunc) {
	router.GET("/healthz", handleHealth())
	router.GET("/api/status", handleStatus(db, status))
	router.GET("/api/turns", handleTurns(db))
	router.GET("/api/follow_ups", handleFollowUps(db))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func handleStatus(db *gorm.DB, status StatusFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := ActivityCounts(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		body := gin.H{"activity": counts}
		if status != nil {
			body["conductor"] = status()
		}
		c.JSON(http.StatusOK, body)
	}
}

func handleTurns(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := queryLimit(c, 50)
		turns, err := RecentTurns(db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"turns": turns})
	}
}

func handleFollowUps(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := queryLimit(c, 50)
		followUps, err := RecentFollowUps(db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"followUps": followUps})
	}
}

// queryLimit reads the "limit" query parameter, clamped to [1, 500].
func queryLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}
