package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/cozmobot/cozmo/common/environment"
	"github.com/cozmobot/cozmo/common/version"
	"github.com/cozmobot/cozmo/internal/cozmo/app"
	"github.com/cozmobot/cozmo/internal/cozmo/matrix"
	"github.com/cozmobot/cozmo/internal/cozmo/session"
)

func main() {
	fmt.Printf("Cozmo Chat Bot\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	// Optional .env file; real environment variables win.
	_ = godotenv.Load()

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cozmo, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Cozmo: %v\n", err)
		os.Exit(1)
	}
	defer cozmo.Stop()

	if err := cozmo.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Cozmo: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables.
func loadConfig() (*app.Config, error) {
	homeserver, err := environment.RequiredString("COZMO_HOMESERVER")
	if err != nil {
		return nil, err
	}
	userID, err := environment.RequiredString("COZMO_USER_ID")
	if err != nil {
		return nil, err
	}
	accessToken, err := environment.RequiredString("COZMO_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}

	return &app.Config{
		DatabasePath: environment.StringOr("COZMO_DATABASE_PATH", ""),
		ScriptPath:   environment.StringOr("COZMO_SCRIPT_PATH", ""),
		Matrix: matrix.Config{
			Homeserver:  homeserver,
			UserID:      userID,
			AccessToken: accessToken,
			Rooms:       environment.StringSliceOr("COZMO_ROOMS", nil),
		},
		MaxMessageLength: environment.IntOr("COZMO_MAX_MESSAGE_LENGTH", 1000),
		MaxNameLength:    environment.IntOr("COZMO_MAX_NAME_LENGTH", 50),
		CleanupInterval:  environment.DurationOr("COZMO_CLEANUP_INTERVAL", session.DefaultThreshold),
		CleanupEveryN:    environment.IntOr("COZMO_CLEANUP_EVERY_N", 100),
		CleanupSchedule:  environment.StringOr("COZMO_CLEANUP_SCHEDULE", ""),
		HTTPAddr:         environment.StringOr("COZMO_HTTP_ADDR", ""),
	}, nil
}
