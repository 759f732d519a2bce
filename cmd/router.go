package main

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/angeloszaimis/site-monitor/internal/admin"
	"github.com/angeloszaimis/site-monitor/internal/metrics"
)

func setupRouter(adminHandler *admin.Handler, metricsCollector *metrics.Collector, exporter *metrics.Exporter, log *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("admin request",
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	e.GET("/health", adminHandler.Health)
	e.GET("/status", adminHandler.Status)
	e.GET("/stop", adminHandler.Stop)
	e.GET("/history/:site", adminHandler.History)
	e.GET("/metrics", echo.WrapHandler(metricsCollector.Handler()))
	e.GET("/metrics/prometheus", echo.WrapHandler(exporter.Handler()))

	return e
}
