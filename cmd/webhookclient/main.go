// Command webhookclient replays simulated provider deliveries against a running
// live transcript service: progressive partials followed by one final per utterance.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/service/ingest"
)

type utterance struct {
	speaker  string
	id       string
	partials []string
	final    string
}

var utterances = []utterance{
	{speaker: "Alice", id: "100", partials: []string{"I want", "I want to", "I want to cancel"}, final: "I want to cancel my subscription"},
	{speaker: "Bob", id: "200", partials: []string{"Yes", "Yes please"}, final: "Yes please go ahead"},
	{speaker: "Alice", id: "100", partials: []string{"Can you", "Can you help", "Can you help me with"}, final: "Can you help me with my account"},
	{speaker: "Bob", id: "200", partials: []string{"Thank you"}, final: "Thank you very much"},
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "service base URL")
	session := flag.String("session", "demo-session", "session (bot) id")
	secret := flag.String("secret", "", "webhook shared secret")
	delay := flag.Duration("delay", 150*time.Millisecond, "pause between deliveries")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	url := strings.TrimRight(*addr, "/") + "/webhooks/transcript"

	offset := 0.0
	for _, u := range utterances {
		for _, p := range u.partials {
			send(client, url, *secret, payload(models.EventTranscriptPartial, *session, u, p, offset))
			time.Sleep(*delay)
		}
		send(client, url, *secret, payload(models.EventTranscriptFinal, *session, u, u.final, offset))
		offset += 0.4*float64(len(strings.Fields(u.final))) + 1
		time.Sleep(*delay)
	}

	log.Printf("Replayed %d utterances into session %s", len(utterances), *session)
}

func payload(event, session string, u utterance, text string, start float64) models.WebhookPayload {
	fields := strings.Fields(text)
	words := make([]models.WebhookWord, 0, len(fields))
	for i, f := range fields {
		s := start + 0.4*float64(i)
		e := s + 0.35
		words = append(words, models.WebhookWord{
			Text:           f,
			StartTimestamp: &models.WebhookTimestamp{Relative: &s},
			EndTimestamp:   &models.WebhookTimestamp{Relative: &e},
		})
	}
	return models.WebhookPayload{
		Event: event,
		Data: models.WebhookData{
			Bot:       models.WebhookBot{ID: session},
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Data: models.WebhookTranscript{
				Words:       words,
				Participant: models.WebhookParticipant{ID: models.FlexibleID(u.id), Name: u.speaker},
			},
		},
	}
}

func send(client *http.Client, url, secret string, p models.WebhookPayload) {
	body, err := json.Marshal(p)
	if err != nil {
		log.Fatalf("failed to encode payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(ingest.SecretHeader, secret)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("failed to deliver webhook: %v", err)
	}
	defer resp.Body.Close()

	var ack ingest.Ack
	_ = json.NewDecoder(resp.Body).Decode(&ack)
	log.Printf("event=%s status=%d ack=%s", p.Event, resp.StatusCode, ack.Status)
}
