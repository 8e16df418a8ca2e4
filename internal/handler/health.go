package handler

import (
	"github.com/gofiber/fiber/v2"

	"meetlink-backend/internal/database"
)

// HealthCheck 헬스 체크
func HealthCheck(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := database.Ping(); err != nil {
		dbStatus = "down"
	}

	status := fiber.StatusOK
	if dbStatus != "ok" {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"status":   "ok",
		"database": dbStatus,
	})
}
