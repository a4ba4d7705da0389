package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Races N experts against one pending consultation and reports the outcome.
// Exactly one claim should return 200; every other expert should get a 409
// with code ALREADY_CLAIMED.

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("url", "http://localhost:8080", "server base url")
	experts := flag.Int("experts", 10, "number of competing experts")
	rounds := flag.Int("rounds", 5, "number of race rounds")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	farmerID := uuid.New()

	failures := 0
	for round := 1; round <= *rounds; round++ {
		consultationID, err := createRequest(client, *baseURL, farmerID, fmt.Sprintf("race round %d", round))
		if err != nil {
			log.Fatalf("round %d: create: %v", round, err)
		}

		winners, conflicts, others := race(client, *baseURL, consultationID, *experts)
		ok := winners == 1 && conflicts == *experts-1
		if !ok {
			failures++
		}
		fmt.Printf("round %d: winners=%d conflicts=%d other=%d %s\n",
			round, winners, conflicts, others, verdict(ok))
	}

	if failures > 0 {
		log.Fatalf("%d of %d rounds violated exactly-one-winner", failures, *rounds)
	}
	fmt.Printf("all %d rounds: exactly one winner\n", *rounds)
}

func verdict(ok bool) string {
	if ok {
		return "ok"
	}
	return "VIOLATION"
}

func createRequest(client *http.Client, baseURL string, farmerID uuid.UUID, topic string) (string, error) {
	body, _ := json.Marshal(map[string]interface{}{"topic": topic})
	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/consultations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", farmerID.String())
	req.Header.Set("X-User-Role", "farmer")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}

	var out struct {
		ConsultationID string `json:"consultationId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ConsultationID, nil
}

func race(client *http.Client, baseURL, consultationID string, experts int) (winners, conflicts, others int) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < experts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			expertID := uuid.New()
			<-start

			req, err := http.NewRequest(http.MethodPost,
				baseURL+"/v1/consultations/"+consultationID+"/claim", nil)
			if err != nil {
				return
			}
			req.Header.Set("X-User-Id", expertID.String())
			req.Header.Set("X-User-Role", "consultant")

			resp, err := client.Do(req)
			if err != nil {
				mu.Lock()
				others++
				mu.Unlock()
				return
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)

			mu.Lock()
			switch resp.StatusCode {
			case http.StatusOK:
				winners++
			case http.StatusConflict:
				conflicts++
			default:
				others++
			}
			mu.Unlock()
		}()
	}

	close(start)
	wg.Wait()
	return winners, conflicts, others
}
