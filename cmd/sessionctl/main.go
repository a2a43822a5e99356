// Command sessionctl is the operational CLI for the session registry:
// create, list, inspect, and tear down sessions against the warehouse.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/wessleyai/otelwarehouse/internal/config"
	"github.com/wessleyai/otelwarehouse/internal/eventbus"
	"github.com/wessleyai/otelwarehouse/internal/model"
	"github.com/wessleyai/otelwarehouse/internal/objectstore"
	"github.com/wessleyai/otelwarehouse/internal/registry"
	"github.com/wessleyai/otelwarehouse/internal/sessionbuilder"
	"github.com/wessleyai/otelwarehouse/internal/warehouse"
)

func main() {
	log := slog.Default()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	sub := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.LoadSession()
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	wh, err := warehouse.Open(cfg.ClickHouse)
	if err != nil {
		log.Error("warehouse connect failed", "error", err)
		os.Exit(1)
	}
	if err := wh.Migrate(context.Background()); err != nil {
		log.Error("warehouse migrate failed", "error", err)
		os.Exit(1)
	}

	// objects stays nil unless a bucket is configured and reachable; a typed
	// nil *objectstore.Store must never be handed to sessionbuilder.New as
	// the metadataSource arg, since that would wrap a non-nil interface
	// around a nil pointer and break the builder's b.Objects == nil check.
	var builder *sessionbuilder.Builder
	if cfg.S3.Bucket == "" {
		builder = sessionbuilder.New(wh, nil, cfg)
	} else {
		objects, objErr := objectstore.Open(context.Background(), cfg.S3)
		if objErr != nil {
			log.Warn("object store connect failed, continuing without metadata.json fallback", "error", objErr)
			builder = sessionbuilder.New(wh, nil, cfg)
		} else {
			builder = sessionbuilder.New(wh, objects, cfg)
		}
	}

	bus, err := eventbus.Connect(os.Getenv("NATS_URL"))
	if err != nil {
		log.Warn("event bus connect failed, continuing without it", "error", err)
		bus = nil
	}

	reg := registry.New(builder, cfg.MaxConcurrentBuilds, log, bus)

	switch sub {
	case "create":
		runCreate(reg, args)
	case "list":
		runList(reg, args)
	case "get":
		runGet(reg, args)
	case "delete":
		runDelete(reg, args)
	case "services":
		runServices(builder, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sessionctl <create|list|get|delete|services> [flags]")
}

func runCreate(reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	owner := fs.String("owner", "default", "session owner")
	services := fs.String("services", "", "comma-separated service names, empty means all")
	signals := fs.String("signals", "traces,logs,metrics", "comma-separated signal types")
	start := fs.String("start", "", "RFC3339 window start")
	end := fs.String("end", "", "RFC3339 window end")
	fs.Parse(args)

	req := model.SessionRequest{
		Services:    splitNonEmpty(*services),
		SignalTypes: parseSignals(*signals),
		Start:       parseTimeOrZero(*start),
		End:         parseTimeOrNow(*end),
	}

	desc, err := reg.Create(context.Background(), *owner, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create failed:", err)
		os.Exit(1)
	}
	printJSON(desc)
}

func runList(reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	owner := fs.String("owner", "default", "session owner")
	fs.Parse(args)
	printJSON(reg.List(*owner))
}

func runGet(reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	owner := fs.String("owner", "default", "session owner")
	id := fs.String("id", "", "session id")
	fs.Parse(args)

	desc, err := reg.Get(*id, *owner)
	if err != nil {
		fmt.Fprintln(os.Stderr, "get failed:", err)
		os.Exit(1)
	}
	printJSON(desc)
}

func runDelete(reg *registry.Registry, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	owner := fs.String("owner", "default", "session owner")
	id := fs.String("id", "", "session id")
	fs.Parse(args)

	if err := reg.Delete(*id, *owner); err != nil {
		fmt.Fprintln(os.Stderr, "delete failed:", err)
		os.Exit(1)
	}
	fmt.Println("deleted", *id)
}

func runServices(builder *sessionbuilder.Builder, args []string) {
	fs := flag.NewFlagSet("services", flag.ExitOnError)
	fs.Parse(args)

	names, err := builder.ListServices(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "services failed:", err)
		os.Exit(1)
	}
	printJSON(names)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func parseSignals(s string) []model.SignalType {
	var out []model.SignalType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, model.SignalType(part))
	}
	return out
}

func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Unix(0, 0).UTC()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return t
}

func parseTimeOrNow(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
