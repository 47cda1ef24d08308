package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/parlor/pkg/response"
)

// Health reports process liveness and user-store reachability.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		storeStatus := "ok"

		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				status = "degraded"
				storeStatus = "unreachable"
			}
		}

		response.Success(c, http.StatusOK, gin.H{
			"status": status,
			"store":  storeStatus,
		})
	}
}
