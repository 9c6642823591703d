// Command genfixtures writes a JSON file of sample source documents for
// local development and demos. The output feeds `ingest seed --file`.
//
// Usage:
//
//	go run ./cmd/genfixtures -out testdata/sample_sources.json -locality Riverton
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

var baseDate = time.Date(2026, time.April, 10, 8, 0, 0, 0, time.UTC)

type sample struct {
	title string
	text  string
	age   time.Duration
}

var samples = []sample{
	{
		title: "Planned water supply interruption",
		text: "Due to scheduled maintenance of the water main, supply will be " +
			"interrupted on Main Street between Oak Street and Elm Street on " +
			"20.04.2026 from 08:00 to 17:00. Affected residents are advised to " +
			"store water in advance.",
		age: 0,
	},
	{
		title: "Road closure for resurfacing works",
		text: "Harbor Road will be closed to all traffic from 22.04.2026 06:00 " +
			"until 24.04.2026 20:00 for resurfacing. Bus lines 4 and 11 will be " +
			"diverted; the stops Harbor Road and Fish Market will not be served.",
		age: 24 * time.Hour,
	},
	{
		title: "Emergency gas network repair",
		text: "An emergency repair of the gas distribution network is under way " +
			"near Station Square 3. Gas supply to the surrounding blocks may be " +
			"interrupted without further notice until the evening of 11.04.2026.",
		age: 48 * time.Hour,
	},
	{
		title: "Annual spring fair",
		text: "The annual spring fair takes place in the central park this " +
			"weekend. Expect festive crowds, street food, and live music. " +
			"No utility services are affected.",
		age: 72 * time.Hour,
	},
}

func main() {
	out := flag.String("out", "", "output path for the seed JSON file")
	locality := flag.String("locality", "Riverton", "locality stamped on every document")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		log.Fatal("missing required flag: -out")
	}

	docs := make([]domain.SourceDocument, len(samples))
	for i, s := range samples {
		published := baseDate.Add(-s.age)
		docs[i] = domain.SourceDocument{
			URL:         fmt.Sprintf("https://notices.example.org/%s/%d", *locality, i+1),
			Title:       s.title,
			RawText:     s.text,
			SourceType:  "utility-notices",
			Locality:    *locality,
			PublishedAt: published,
			CrawledAt:   published.Add(5 * time.Minute),
		}
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		log.Fatalf("marshal fixtures: %v", err)
	}
	if err := os.WriteFile(*out, append(data, '\n'), 0o644); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("wrote %d source documents to %s\n", len(docs), *out)
}
