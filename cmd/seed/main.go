// seed provisions a dev agent and a couple of demo tasks into the local
// database. Run: go run ./cmd/seed
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ordinaut/ordinaut/internal/domain"
	"github.com/ordinaut/ordinaut/internal/infrastructure/postgres"
	"github.com/ordinaut/ordinaut/internal/usecase"
)

const seedAgentName = "seed-dev-agent"

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	jwtSecret := os.Getenv("JWT_SECRET_KEY")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET_KEY is not set")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	agentRepo := postgres.NewAgentRepository(pool)
	agent, err := agentRepo.Create(ctx, &domain.Agent{
		Name:   seedAgentName,
		Scopes: []string{"tasks:write", "tasks:read"},
	})
	if err != nil {
		log.Fatalf("create agent: %v", err)
	}

	taskUsecase := usecase.NewTaskUsecase(postgres.NewTaskRepository(pool))

	demoTasks := []usecase.CreateTaskInput{
		{
			AgentID:      agent.ID,
			Title:        "seed: ping httpbin every minute",
			ScheduleKind: domain.ScheduleCron,
			ScheduleExpr: "* * * * *",
			Pipeline: domain.Pipeline{
				Steps: []domain.Step{
					{ID: "ping", Tool: "https://httpbin.org/post", Input: json.RawMessage(`{"hello":"ordinaut"}`), SaveAs: "ping"},
				},
			},
			MaxRetries: 3,
			Backoff:    domain.BackoffExponentialJitter,
		},
		{
			AgentID:      agent.ID,
			Title:        "seed: one-shot failing call",
			ScheduleKind: domain.ScheduleOnce,
			ScheduleExpr: time.Now().Add(time.Minute).Format(time.RFC3339),
			Pipeline: domain.Pipeline{
				Steps: []domain.Step{
					{ID: "fail", Tool: "https://httpbin.org/status/500", SaveAs: "fail"},
				},
			},
			MaxRetries:     2,
			Backoff:        domain.BackoffFixed,
			BackoffSeconds: 1,
		},
	}

	var created int
	for _, input := range demoTasks {
		if _, err := taskUsecase.CreateTask(ctx, input); err != nil {
			log.Fatalf("create task %q: %v", input.Title, err)
		}
		created++
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   agent.ID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Agent ID:     %s\n", agent.ID)
	fmt.Printf("  Tasks created: %d\n", created)
	fmt.Println()
	fmt.Println("  Bearer token for this agent (valid 24h):")
	fmt.Println()
	fmt.Printf("    export JWT=%s\n", signed)
	fmt.Println()
	fmt.Println("  Try it:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/tasks -H \"Authorization: Bearer $JWT\"")
}
