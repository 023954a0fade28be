// credential-store manages per-user credentials in the NATS key-value bucket
// that calendar-publisher reads {% credential NAME %} references from.
//
// Usage:
//
//	credential-store -config config.yaml put jane google_key @service-account.json
//	credential-store -config config.yaml get jane google_key
//	credential-store -config config.yaml delete jane google_key
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/venkytv/calendar-publisher/pkg/config"
	"github.com/venkytv/calendar-publisher/pkg/credentials"
	"github.com/venkytv/calendar-publisher/pkg/nats"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
	timeout    = flag.Duration("timeout", 10*time.Second, "Operation timeout")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(flag.Args(), logger); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, logger *slog.Logger) error {
	command, err := parseCommand(args)
	if err != nil {
		printUsage()
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.NATS.CredentialsBucket == "" {
		return fmt.Errorf("nats.credentials_bucket is not configured")
	}

	natsConfig := nats.DefaultConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.Name = "credential-store"
	conn, err := nats.Connect(natsConfig, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	store, err := credentials.EnsureKVStore(conn, cfg.NATS.CredentialsBucket, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	return command.execute(ctx, store, logger)
}

type command struct {
	action string
	owner  string
	name   string
	value  string
}

func parseCommand(args []string) (*command, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("expected an action, an owner and a credential name")
	}

	cmd := &command{action: args[0], owner: args[1], name: args[2]}
	switch cmd.action {
	case "put":
		if len(args) != 4 {
			return nil, fmt.Errorf("put requires a value")
		}
		value, err := readValue(args[3])
		if err != nil {
			return nil, err
		}
		cmd.value = value
	case "get", "delete":
		if len(args) != 3 {
			return nil, fmt.Errorf("%s takes no value", cmd.action)
		}
	default:
		return nil, fmt.Errorf("unknown action %q", cmd.action)
	}
	return cmd, nil
}

// readValue returns arg, or the contents of the file it names when it
// starts with @
func readValue(arg string) (string, error) {
	path, ok := strings.CutPrefix(arg, "@")
	if !ok {
		return arg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read credential value: %w", err)
	}
	return string(data), nil
}

func (c *command) execute(ctx context.Context, store *credentials.KVStore, logger *slog.Logger) error {
	switch c.action {
	case "put":
		revision, err := store.Put(ctx, c.owner, c.name, c.value)
		if err != nil {
			return err
		}
		logger.Info("Stored credential", "owner", c.owner, "name", c.name, "revision", revision)
	case "get":
		value, err := store.Lookup(ctx, c.owner, c.name)
		if err != nil {
			return err
		}
		fmt.Println(value)
	case "delete":
		if err := store.Remove(ctx, c.owner, c.name); err != nil {
			return err
		}
		logger.Info("Deleted credential", "owner", c.owner, "name", c.name)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [-config FILE] <put|get|delete> OWNER NAME [VALUE|@FILE]\n", os.Args[0])
	flag.PrintDefaults()
}
