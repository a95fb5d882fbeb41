package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"stocksync/internal/model"
)

func main() {
	var count int
	var outputFile string
	flag.IntVar(&count, "count", 100, "number of order events to generate")
	flag.StringVar(&outputFile, "output", "inv.order-events.jsonl", "output file")
	flag.Parse()

	if err := generateEvents(count, outputFile); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
}

// Line items come out in the encodings the parser has to cope with: plain
// name, "x N" suffix, parenthesized count, bracketed variant tag.
func lineItem(r *rand.Rand, name string, variants []string) string {
	qty := 1 + r.Intn(4)
	switch r.Intn(4) {
	case 0:
		return name
	case 1:
		return fmt.Sprintf("%s x %d", name, qty)
	case 2:
		return fmt.Sprintf("%s (%d)", name, qty)
	default:
		v := variants[r.Intn(len(variants))]
		return fmt.Sprintf("%s [%s] x %d", name, v, qty)
	}
}

func generateEvents(count int, outputFile string) error {
	file, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	names := []string{"Widget", "Mug", "Shirt", "Poster", "Sticker"}
	variants := []string{"01", "02", "blue", "red"}

	baseTime := time.Now().UTC().Unix()
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	enc := json.NewEncoder(file)
	for i := 0; i < count; i++ {
		orderID := fmt.Sprintf("o%d", i+1)
		order := model.Order{"orderId": orderID, "customer": fmt.Sprintf("c%d", 1+r.Intn(20))}
		nItems := 1 + r.Intn(3)
		for j := 1; j <= nItems; j++ {
			name := names[r.Intn(len(names))]
			order[fmt.Sprintf("item%d", j)] = lineItem(r, name, variants)
		}
		event := model.EventPlaced
		if r.Intn(10) == 0 {
			event = model.EventCancelled
		}
		ev := model.OrderEvent{
			OrderID: orderID,
			Event:   event,
			Order:   order,
			TS:      baseTime + int64(i*10), // 10s intervals
		}
		if err := enc.Encode(&ev); err != nil {
			return fmt.Errorf("encode event %d: %w", i+1, err)
		}
	}

	log.Printf("generated %d order events to %s", count, outputFile)
	return nil
}
