package main

import (
	"ad-traffic-router/internal/app/server"
	"ad-traffic-router/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	server.Run(cfg)
}
