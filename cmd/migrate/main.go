// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine/database"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Create database connection
	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		fmt.Printf("Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Starting database migration...")
	fmt.Printf("Database: %s (%s)\n", cfg.Database.Database, cfg.Database.Driver)

	// Run migrations
	if err := db.AutoMigrate(); err != nil {
		fmt.Printf("Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Database migration completed.")

	// Validate schema to confirm everything is correct
	if err := db.ValidateSchema(); err != nil {
		fmt.Printf("Schema validation failed after migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Schema validation passed.")
}
