package main

import (
	"context"
	"flag"
	"log"

	"rackrunner/internal/config"
	"rackrunner/internal/db"
	"rackrunner/internal/migrate"
)

func main() {
	dir := flag.String("dir", "migrations", "directory of NNN_name.sql files")
	flag.Parse()

	cfg := config.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[CONNECT] %v", err)
	}
	defer pool.Close()
	log.Println("[CONNECT] success")

	applied, err := migrate.Apply(ctx, pool, *dir)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	log.Printf("[DONE] %d migration(s) applied.", len(applied))
}
