package main

import (
	"github.com/dwarvesf/escrow-backend/internal/server"
)

// @title Escrow Backend API
// @version 1.0
// @description Tracks escrow lock and unlock transactions and reconciles their status.
// @BasePath /api
func main() {
	server.Init()
}
