package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"heartlink/backend/internal/app"
	"heartlink/backend/internal/config"
	"heartlink/backend/internal/maintenance"
	"heartlink/backend/internal/metrics"

	"github.com/joho/godotenv"
)

const usage = `Usage: admin <command> [args]

Commands:
  sweep [-force] [-dry-run]   run one maintenance sweep and print the result
  stats                       print request and room counts
  archive <room_id>           archive a room left in ended
  delete <room_id>            soft-delete an archived room`

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		fmt.Printf("Failed to open stores: %v\n", err)
		return 1
	}
	defer stores.Close()

	svc := app.NewServices(stores, cfg.Policy(), metrics.NewNop(), logger)

	command, args := os.Args[1], os.Args[2:]
	switch command {
	case "sweep":
		fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
		force := fs.Bool("force", false, "bypass the backlog-based probability")
		dryRun := fs.Bool("dry-run", false, "count candidates without changing anything")
		if err := fs.Parse(args); err != nil {
			return 1
		}

		res, err := svc.Scheduler.Sweep(ctx, maintenance.Options{Force: *force, DryRun: *dryRun})
		if err != nil {
			fmt.Printf("Sweep failed: %v\n", err)
			return 1
		}
		if err := printJSON(res); err != nil {
			fmt.Printf("Error writing output: %v\n", err)
			return 1
		}
		return printStats(ctx, svc)
	case "stats":
		return printStats(ctx, svc)
	case "archive":
		if len(args) != 1 {
			fmt.Println("Usage: admin archive <room_id>")
			return 1
		}
		if err := svc.Rooms.Archive(ctx, args[0]); err != nil {
			fmt.Printf("Error archiving room: %v\n", err)
			return 1
		}
		fmt.Printf("Room %s has been archived.\n", args[0])
	case "delete":
		if len(args) != 1 {
			fmt.Println("Usage: admin delete <room_id>")
			return 1
		}
		if err := svc.Rooms.SoftDelete(ctx, args[0]); err != nil {
			fmt.Printf("Error deleting room: %v\n", err)
			return 1
		}
		fmt.Printf("Room %s has been deleted.\n", args[0])
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		return 1
	}
	return 0
}

func printStats(ctx context.Context, svc *app.Services) int {
	reqs, err := svc.Registry.Stats(ctx)
	if err != nil {
		fmt.Printf("Error reading request stats: %v\n", err)
		return 1
	}
	rooms, err := svc.Rooms.Stats(ctx)
	if err != nil {
		fmt.Printf("Error reading room stats: %v\n", err)
		return 1
	}
	if err := printJSON(map[string]any{"requests": reqs, "rooms": rooms}); err != nil {
		fmt.Printf("Error writing output: %v\n", err)
		return 1
	}
	return 0
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
