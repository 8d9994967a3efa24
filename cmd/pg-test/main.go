// Command pg-test checks database connectivity and prints pipeline stats.
// Useful for verifying DATABASE_URL credentials before deploying.
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bridgeops/leadbridge/internal/db"
)

func main() {
	godotenv.Load(".env.local", ".env")

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Info().Msg("Testing PostgreSQL connection")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	database, err := db.InitFromEnvWithRetry(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.Close()

	if err := database.GetDB().PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Ping failed")
	}

	log.Info().Msg("Successfully connected to PostgreSQL")

	stats, err := database.GetPipelineStats(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read pipeline stats")
	}

	log.Info().
		Int("companies", stats.TotalCompanies).
		Int("qualified", stats.QualifiedCompanies).
		Int("postings", stats.TotalPostings).
		Int("active_batches", stats.ActiveBatches).
		Int("synced_leads", stats.SyncedLeads).
		Int("blocked_emails", stats.BlockedEmails).
		Msg("Pipeline stats")

	log.Info().Msg("Connection test completed successfully")
}
