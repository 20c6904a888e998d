package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mikey/llm-mail-sorter/internal/config"
	"github.com/mikey/llm-mail-sorter/internal/core"
	"github.com/mikey/llm-mail-sorter/internal/factory"
	"github.com/mikey/llm-mail-sorter/internal/logging"
	"go.uber.org/zap"
)

const usageText = `Usage: mail-state <command> [flags]

Commands:
  view    List processed message records
  clean   Delete records older than a cutoff
  reset   Delete all records
  help    Show this message

Run 'mail-state <command> -h' for command flags.
`

var errLimitReached = errors.New("limit reached")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "view":
		err = runView(os.Args[2:])
	case "clean":
		err = runClean(os.Args[2:])
	case "reset":
		err = runReset(os.Args[2:])
	case "help", "-h", "-help", "--help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore builds the fingerprint store the same way the daemon does
func openStore(configFile string, verbose bool) (core.FingerprintStore, *zap.Logger, error) {
	logger, err := logging.InitConsoleLogger(verbose, false)
	if err != nil {
		return nil, nil, err
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = config.NewFromFile(configFile)
	} else {
		cfg, err = config.New()
	}
	if err != nil {
		return nil, nil, err
	}

	store, err := factory.NewStoreFactory(cfg, logger).CreateFingerprintStore()
	if err != nil {
		return nil, nil, err
	}
	return store, logger, nil
}

func runView(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	account := fs.String("account", "", "Only show records for this account")
	stats := fs.Bool("stats", false, "Show per-category counts instead of records")
	limit := fs.Int("limit", 0, "Maximum number of records to show (0 = all)")
	configFile := fs.String("config", "", "Path to config file")
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	fs.Parse(args)

	store, logger, err := openStore(*configFile, *verbose)
	if err != nil {
		return err
	}
	defer store.Close()
	defer logger.Sync()

	ctx := context.Background()
	if *stats {
		counts, err := store.CategoryStats(ctx, *account)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		var total int64
		for _, name := range names {
			fmt.Printf("%-12s %d\n", name, counts[name])
			total += counts[name]
		}
		fmt.Printf("%-12s %d\n", "total", total)
		return nil
	}

	shown := 0
	err = store.List(ctx, *account, func(rec *core.ProcessedRecord) error {
		if *limit > 0 && shown >= *limit {
			return errLimitReached
		}
		shown++
		fmt.Printf("%s  %-10s %-12s %-30s %s\n",
			rec.ProcessedAt.Format(time.RFC3339),
			rec.Account,
			rec.Category,
			rec.Sender,
			rec.Subject,
		)
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return err
	}
	if shown == 0 {
		fmt.Println("No records found")
	}
	return nil
}

func runClean(args []string) error {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	maxAgeDays := fs.Int("max-age-days", 30, "Delete records older than this many days")
	account := fs.String("account", "", "Only delete records for this account")
	configFile := fs.String("config", "", "Path to config file")
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	fs.Parse(args)

	store, logger, err := openStore(*configFile, *verbose)
	if err != nil {
		return err
	}
	defer store.Close()
	defer logger.Sync()

	deleted, err := store.Prune(context.Background(), time.Duration(*maxAgeDays)*24*time.Hour, *account)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d records\n", deleted)
	return nil
}

func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	account := fs.String("account", "", "Only delete records for this account")
	force := fs.Bool("force", false, "Confirm deleting the records")
	configFile := fs.String("config", "", "Path to config file")
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	fs.Parse(args)

	if !*force {
		fmt.Fprintln(os.Stderr, "reset deletes processed-message records; re-run with -force to confirm")
		os.Exit(2)
	}

	store, logger, err := openStore(*configFile, *verbose)
	if err != nil {
		return err
	}
	defer store.Close()
	defer logger.Sync()

	deleted, err := store.Reset(context.Background(), *account)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d records\n", deleted)
	return nil
}
