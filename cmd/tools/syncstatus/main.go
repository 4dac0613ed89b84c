package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/junseo/bidwatcher/internal/config"
	"github.com/junseo/bidwatcher/internal/db"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to config file")
	limit := flag.Int("limit", 30, "number of ledger entries to show")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	windows, err := db.NewStore(pool).ListWindows(ctx, *limit)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Window Start", "Window End", "Kind", "Notices", "Regions", "Licenses", "Synced At"})

	for _, w := range windows {
		kind := "hourly"
		if w.Daily() {
			kind = "daily"
		}
		t.AppendRow(table.Row{
			w.WindowStart, w.WindowEnd, kind,
			w.TotalNotices, w.TotalRegions, w.TotalLicenseLimits,
			w.SyncedAt.Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}
