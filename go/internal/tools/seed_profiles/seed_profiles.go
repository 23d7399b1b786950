package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mcdev12/quizlive/go/internal/auth"
	"github.com/mcdev12/quizlive/go/internal/dbconfig"
	"github.com/mcdev12/quizlive/go/internal/models"
	"github.com/mcdev12/quizlive/go/internal/profile"
)

func main() {
	path := flag.String("file", "go/internal/assets/profiles.json", "profiles JSON snapshot")
	issue := flag.Bool("tokens", false, "print a bearer token per profile (needs JWT_SECRET)")
	flag.Parse()

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var profiles []models.Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	pool, err := dbconfig.OpenPool(ctx, dbconfig.NewConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert in one batch
	if err := profile.NewRepository(pool).UpsertProfiles(ctx, profiles); err != nil {
		fmt.Fprintf(os.Stderr, "upsert profiles: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded %d profiles\n", len(profiles))

	if !*issue {
		return
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required for -tokens")
		os.Exit(1)
	}
	authn := auth.NewAuthenticator(secret, 24*time.Hour)
	for _, p := range profiles {
		token, err := authn.Issue(p.UserID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token for %s: %v\n", p.Username, err)
			continue
		}
		fmt.Printf("%-12s %s\n", p.Username, token)
	}
}
