// Command ipotracker runs the IPO listing ingestion service.
//
// Architecture overview:
//   - Sources: the configured catalog is expanded every cycle into concrete report
//     pages, one per (year, market segment) for partitioned sources.
//   - Fetch: pages are rendered with headless Chrome (chromedp) so client-side
//     state is hydrated, or fetched statically with colly when configured.
//   - Extract and normalize: embedded __NEXT_DATA__ state is read first, with the
//     first HTML table as a fallback; text values become decimals and dates.
//   - Upsert: each page's records are merged into the listing store (memory,
//     SQLite, or Postgres) in one transaction; only changed fields are written
//     and change events go to Pub/Sub.
//   - Duty cycle: a single worker paces fetches 1-2s apart; after each cycle the
//     snapshot file is rewritten and the scheduler rests, backing off on failure.
//
// Quick checklist:
//   - Configure with a YAML file (--config) and IPOTRACKER_* env overrides, for
//     example IPOTRACKER_DATABASE_BACKEND=postgres and IPOTRACKER_DATABASE_DSN.
//   - Run continuously: ipotracker run --config config.yaml
//   - One pass for cron or debugging: ipotracker once --config config.yaml
package main

import "github.com/JakeFAU/realtime-ipo-tracker/cmd"

func main() {
	cmd.Execute()
}
