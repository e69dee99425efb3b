package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"taskmaster/internal/api"
	"taskmaster/internal/db"
	"taskmaster/pkg/blob"
	"taskmaster/pkg/identity"
	"taskmaster/pkg/todo"
)

func main() {
	ctx := context.Background()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port
	}

	todos := todo.NewPgStore(pool)
	auth := identity.NewPgProvider(pool)
	blobs := blob.NewPgStore(pool, baseURL)

	if err := todos.EnsureTable(ctx); err != nil {
		log.Fatalf("ensure todos table: %v", err)
	}
	if err := auth.EnsureTable(ctx); err != nil {
		log.Fatalf("ensure users table: %v", err)
	}
	if err := blobs.EnsureTable(ctx); err != nil {
		log.Fatalf("ensure blobs table: %v", err)
	}

	server := api.New(todos, auth, blobs)

	log.Printf("taskmaster listening on :%s", port)
	if err := http.ListenAndServe(":"+port, server); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
