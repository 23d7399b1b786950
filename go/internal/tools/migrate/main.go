package main

import (
	"errors"
	"flag"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/dbconfig"
)

func main() {
	dir := flag.String("dir", "go/migrations", "migrations directory")
	down := flag.Bool("down", false, "roll every migration back")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := dbconfig.NewConfigFromEnv()
	m, err := migrate.New("file://"+*dir, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("migration setup failed")
	}
	defer m.Close()

	if *down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	version, dirty, _ := m.Version()
	log.Info().
		Str("database", cfg.Database).
		Uint("version", version).
		Bool("dirty", dirty).
		Msg("database migrations applied")
}
