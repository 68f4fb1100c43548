package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/pkg/logging"
)

// Usage: migrate [up|down|version|force <version>]
func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}

	mg, err := db.NewMigrator(dsn)
	if err != nil {
		logger.Error("create migrator", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := mg.Close(); err != nil {
			logger.Warn("close migrator", "error", err)
		}
	}()

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = mg.Up()
	case "down":
		err = mg.Down()
	case "force":
		if len(os.Args) < 3 {
			err = fmt.Errorf("force requires a version")
			break
		}
		var version int
		version, err = strconv.Atoi(os.Args[2])
		if err != nil {
			err = fmt.Errorf("invalid version %q: %w", os.Args[2], err)
			break
		}
		err = mg.Force(version)
	case "version":
		var (
			v     uint
			dirty bool
		)
		v, dirty, err = mg.Version()
		if err == nil {
			logger.Info("schema version", "version", v, "dirty", dirty)
		}
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		logger.Error("migrate failed", "command", cmd, "error", err)
		os.Exit(1)
	}
	logger.Info("migrate complete", "command", cmd)
}
