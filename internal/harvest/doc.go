// Package harvest defines the job, lead, and collaborator types shared by the
// contact harvesting subsystems: the orchestrator, the crawl engine, the
// directory client, and every storage and transport adapter.
package harvest
