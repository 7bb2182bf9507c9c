package events

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

type countingSink struct {
	total int
}

func (s *countingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *countingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &countingSink{}
	hub := NewHub(Config{Buffer: 4, BatchSize: 1, FlushInterval: time.Second}, sink)

	job := harvest.Job{ID: "0190b6a4-0000-7000-8000-000000000001", Kind: harvest.KindEmailScrape, Status: harvest.JobStatusCompleted}
	hub.Emit(JobFinished(job, time.Second, nil, time.Unix(0, 0)))
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}
