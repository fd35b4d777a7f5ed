// Command seed-user creates an account in the datastore and optionally shares
// its library with other existing accounts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"shelfshare/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		login       string
		password    string
		shareWith   string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&login, "login", "", "Login for the account")
	flag.StringVar(&password, "password", "", "Password for the account (or SHELFSHARE_SEED_PASSWORD)")
	flag.StringVar(&shareWith, "share-with", "", "Comma separated logins that may read the account's library")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if password == "" {
		password = os.Getenv("SHELFSHARE_SEED_PASSWORD")
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := seedUser(ctx, repo, seedRequest{
		Login:     login,
		Password:  password,
		ShareWith: splitLogins(shareWith),
	})
	if err != nil {
		fatalf("seed user: %v", err)
	}

	state := "already existed"
	if result.Created {
		state = "created"
	}
	fmt.Printf("User %s (id %d) %s.\n", result.User.Login, result.User.ID, state)
	for _, target := range result.SharedWith {
		fmt.Printf("Library shared with %s (id %d).\n", target.Login, target.ID)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(postgresDSN)
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func splitLogins(raw string) []string {
	var logins []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			logins = append(logins, trimmed)
		}
	}
	return logins
}
