package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"rackrunner/internal/adapters/cli"
	"rackrunner/internal/adapters/repl"
	webAdapter "rackrunner/internal/adapters/web"
	"rackrunner/internal/app"
	"rackrunner/internal/config"
)

func main() {
	log.SetFlags(0)
	cfg := config.Load()
	args := os.Args[1:]

	// token mints a bearer token for OPERATOR_ID against the server's JWT_SECRET.
	if len(args) > 0 && args[0] == "token" {
		if cfg.JWTSecret == "" {
			log.Fatal("JWT_SECRET is not set")
		}
		tok, err := webAdapter.IssueToken(cfg.JWTSecret, cfg.OperatorID, 12*time.Hour)
		if err != nil {
			log.Fatalf("token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	if cfg.OperatorID == "" {
		log.Println("[WARN] OPERATOR_ID is not set; mutating commands will be rejected.")
	}

	ctx := context.Background()
	svc, closeLedger, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer closeLedger()

	// No arguments: interactive scan station on stdin.
	if len(args) == 0 {
		if err := repl.Run(ctx, svc, cfg.OperatorID, os.Stdin, os.Stdout); err != nil {
			closeLedger()
			log.Fatal(err)
		}
		return
	}

	if err := cli.Run(ctx, svc, cfg.OperatorID, args, os.Stdout); err != nil {
		closeLedger()
		log.Fatal(err)
	}
}
