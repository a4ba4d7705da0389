package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/farmbridge/farmbridge/internal/config"
	"github.com/farmbridge/farmbridge/internal/domain/consultation"
	"github.com/farmbridge/farmbridge/internal/domain/identity"
	"github.com/farmbridge/farmbridge/internal/infrastructure/postgres"
)

var topics = []string{
	"pest infestation on tomato crop",
	"soil pH dropping after monsoon",
	"irrigation schedule for drip system",
	"fungal spots on wheat leaves",
	"fertilizer dosage for maize",
	"livestock vaccination planning",
	"organic certification requirements",
	"post-harvest storage for onions",
}

func main() {
	_ = godotenv.Load()

	count := flag.Int("count", 25, "number of consultations to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	store := postgres.NewConsultationRepository(pool)

	farmers := make([]uuid.UUID, 5)
	for i := range farmers {
		farmers[i] = uuid.New()
	}
	experts := make([]uuid.UUID, 3)
	for i := range experts {
		experts[i] = uuid.New()
	}

	created := 0
	claimed := 0
	for i := 0; i < *count; i++ {
		farmerID := farmers[gofakeit.Number(0, len(farmers)-1)]
		topic := topics[gofakeit.Number(0, len(topics)-1)]

		var scheduledFor *time.Time
		if gofakeit.Bool() {
			when := time.Now().Add(time.Duration(gofakeit.Number(1, 72)) * time.Hour)
			scheduledFor = &when
		}
		c := consultation.NewRequest(farmerID, topic, scheduledFor)
		if err := store.Create(ctx, c, farmerID); err != nil {
			log.Fatalf("create consultation: %v", err)
		}
		created++

		// Claim roughly half so the demo board shows a mixed pool.
		if gofakeit.Bool() {
			expertID := experts[gofakeit.Number(0, len(experts)-1)]
			actor := identity.Actor{UserID: expertID, Role: identity.RoleConsultant}
			next, err := consultation.ApplyTransition(*c, consultation.TransitionRequest{
				Target:   consultation.StatusScheduled,
				Actor:    actor,
				ExpertID: &expertID,
			})
			if err != nil {
				log.Fatalf("claim transition: %v", err)
			}
			if _, err := store.ConditionalUpdate(ctx, &next, c.Version, expertID); err != nil {
				log.Fatalf("claim write: %v", err)
			}
			claimed++
		}
	}

	fmt.Printf("seeded %d consultations (%d claimed)\n", created, claimed)
	fmt.Println("farmer ids:")
	for _, id := range farmers {
		fmt.Printf("  %s\n", id)
	}
	fmt.Println("expert ids:")
	for _, id := range experts {
		fmt.Printf("  %s\n", id)
	}
}
