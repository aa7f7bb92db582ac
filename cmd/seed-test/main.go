package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/uexam-backend/internal/config"
	"github.com/stemsi/uexam-backend/internal/database"
	"github.com/stemsi/uexam-backend/internal/logger"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/repository"
	"github.com/stemsi/uexam-backend/internal/service"
	"github.com/stemsi/uexam-backend/internal/validator"
	"golang.org/x/term"
)

// seed-test loads a test definition from a JSON file and prints development
// tokens for its author and one student.
func main() {
	var (
		file      string
		creatorID int
		studentID int
		tokenTTL  time.Duration
	)
	flag.StringVar(&file, "file", "", "Path to a JSON test definition (create request format)")
	flag.IntVar(&creatorID, "teacher", 1, "Teacher user id that owns the test")
	flag.IntVar(&studentID, "student", 1001, "Student user id to issue a token for")
	flag.DurationVar(&tokenTTL, "ttl", 12*time.Hour, "Lifetime of the issued tokens")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat).With().Str("component", "seed_test").Logger()

	if file == "" {
		flag.Usage()
		os.Exit(2)
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Failed to read definition")
	}
	var req model.CreateTestRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse definition")
	}
	if err := validator.Struct(&req); err != nil {
		log.Fatal().Err(err).Msg("Definition failed validation")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	tests := service.NewTestService(repository.NewTestRepository(pool), nil, cfg.DefinitionCacheTTL, log)
	def, err := tests.Create(ctx, &req, creatorID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create test")
	}

	auth := service.NewAuthService(cfg)
	teacherToken, err := auth.IssueToken(service.TokenTypeTeacher, creatorID, "Seed Teacher", tokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue teacher token")
	}
	studentToken, err := auth.IssueToken(service.TokenTypeStudent, studentID, "Seed Student", tokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue student token")
	}

	// Piped output is JSON so scripts can pick the tokens up.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		out := map[string]interface{}{
			"test_id":       def.ID,
			"test_link":     def.TestLink,
			"questions":     len(def.Questions),
			"teacher_token": teacherToken,
			"student_token": studentToken,
		}
		if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
			log.Fatal().Err(err).Msg("Failed to write output")
		}
		return
	}

	fmt.Println("=== Test created ===")
	fmt.Printf("ID:        %s\n", def.ID)
	fmt.Printf("Link:      %s\n", def.TestLink)
	fmt.Printf("Questions: %d\n", len(def.Questions))
	fmt.Println()
	fmt.Printf("Teacher token (user %d):\n%s\n\n", creatorID, teacherToken)
	fmt.Printf("Student token (user %d):\n%s\n", studentID, studentToken)
}
