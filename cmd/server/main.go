package main

import (
	"context"
	"log"
	"net/http"

	"github.com/chunk-bites/api/internal/config"
	"github.com/chunk-bites/api/internal/database"
	"github.com/chunk-bites/api/internal/metrics"
	"github.com/chunk-bites/api/internal/router"
	"github.com/chunk-bites/api/internal/ws"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Unable to ping database: %v", err)
	}
	log.Println("Connected to database")

	queries := database.New(pool)
	m := metrics.New()

	hub := ws.NewHub()
	hub.Sessions = m.SessionsConnected
	go hub.Run()

	r := router.New(cfg, queries, pool, hub, m)

	log.Printf("Starting server on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
