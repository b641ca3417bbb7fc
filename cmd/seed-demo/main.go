package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/codexam/codexam-backend/internal/config"
	"github.com/codexam/codexam-backend/internal/database"
	"github.com/codexam/codexam-backend/internal/logger"
	"github.com/codexam/codexam-backend/internal/model"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

// Seeds a demo course with one mixed test (two MCQ, one coding question)
// plus three demo students sharing a PIN entered at the prompt. Intended
// for local development and exam-day rehearsals, not production.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Seed CodeXam Demo Data ===")

	fmt.Print("Enter demo test title (default 'Intro Programming Exam'): ")
	title, _ := reader.ReadString('\n')
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Intro Programming Exam"
	}

	fmt.Print("Enter PIN for demo students: ")
	bytePIN, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading PIN")
		return
	}
	pin := string(bytePIN)
	fmt.Println()
	if len(pin) < 4 {
		fmt.Println("Error: PIN must be at least 4 characters")
		return
	}

	pinHash, err := bcrypt.GenerateFromPassword([]byte(pin), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash PIN")
	}

	// ─── Seed Students ─────────────────────────────────────────────────
	for _, name := range []string{"Demo Student One", "Demo Student Two", "Demo Student Three"} {
		_, err := pool.Exec(ctx,
			`INSERT INTO students (name, pin_hash) VALUES ($1, $2)
			 ON CONFLICT (name) DO UPDATE SET pin_hash = EXCLUDED.pin_hash`,
			name, string(pinHash),
		)
		if err != nil {
			log.Fatal().Err(err).Str("student", name).Msg("Failed to seed student")
		}
	}

	// ─── Seed Test ─────────────────────────────────────────────────────
	testID := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO tests (id, course_id, title, kind, question_mix, duration_minutes, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE)`,
		testID, uuid.New(), title, model.TestKindExam, model.QuestionMixMixed, 45,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed test")
	}

	// ─── Seed Questions ────────────────────────────────────────────────
	mcqOptions := `[{"id":"a","text":"A compiled language"},{"id":"b","text":"An interpreted language"},{"id":"c","text":"A markup language"}]`

	q1 := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO questions (id, test_id, kind, prompt, options, correct_option, points, order_num)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		q1, testID, model.QuestionKindMCQ, "What kind of language is C?", mcqOptions, "a", 5, 1,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed MCQ question 1")
	}

	q2 := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO questions (id, test_id, kind, prompt, options, correct_option, points, order_num)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)`,
		q2, testID, model.QuestionKindMCQ, "Which of these is typically interpreted?", mcqOptions, "b", 5, 2,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed MCQ question 2")
	}

	q3 := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO questions (id, test_id, kind, prompt, points, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		q3, testID, model.QuestionKindCoding, "Read two integers from stdin and print their sum.", 9, 3,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed coding question")
	}

	cases := []struct {
		input    string
		expected string
		hidden   bool
	}{
		{"1 2\n", "3\n", false},
		{"10 -4\n", "6\n", false},
		{"100000 234567\n", "334567\n", true},
	}
	for i, tc := range cases {
		_, err = pool.Exec(ctx,
			`INSERT INTO test_cases (id, question_id, input, expected, hidden, order_num)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), q3, tc.input, tc.expected, tc.hidden, i+1,
		)
		if err != nil {
			log.Fatal().Err(err).Int("case", i+1).Msg("Failed to seed test case")
		}
	}

	fmt.Printf("\nSuccess! Test '%s' seeded with ID: %s\n", title, testID)
	fmt.Println("Demo students: Demo Student One/Two/Three (shared PIN)")
}
