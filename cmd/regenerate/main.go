// Command regenerate converts documents that have no preview images, or every
// document with -all, synchronously and prints one line per document.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"

	config "github.com/drummonds/pdfcarousel/config"
	database "github.com/drummonds/pdfcarousel/database"
	engine "github.com/drummonds/pdfcarousel/engine"
	"github.com/drummonds/pdfcarousel/engine/pdfrenderer"
	"github.com/drummonds/pdfcarousel/engine/storage"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
	pdfrenderer.Logger = Logger
	storage.Logger = Logger
}

func main() {
	all := flag.Bool("all", false, "re-convert every document, not only those without images")
	flag.Parse()

	serverConfig, logger := config.SetupServer()
	injectGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := database.OpenRepository(serverConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	failed, err := run(ctx, serverConfig, db, *all)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// run converts the selected documents one at a time and returns how many ended failed
func run(ctx context.Context, serverConfig config.ServerConfig, db database.Repository, all bool) (int, error) {
	store, err := storage.New(ctx, serverConfig)
	if err != nil {
		return 0, fmt.Errorf("storage: %w", err)
	}
	orchestrator, converter, err := engine.NewOrchestrator(serverConfig, db, store)
	if err != nil {
		return 0, err
	}
	defer converter.Close()
	queue := engine.NewConversionQueue(serverConfig, orchestrator, db)

	var docs []database.Document
	if all {
		docs, err = db.ListAllDocuments()
	} else {
		docs, err = db.ListDocumentsWithoutImages()
	}
	if err != nil {
		return 0, fmt.Errorf("listing documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Println("Nothing to convert")
		return 0, nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tIMAGES")
	failed := 0
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		id := doc.ID.String()
		status, err := queue.RunNow(ctx, id)
		images := 0
		if updated, getErr := db.GetDocument(id); getErr == nil {
			images = len(updated.ImagePaths)
		}
		if err != nil || status != database.ConversionCompleted {
			failed++
		}
		if err != nil {
			fmt.Fprintf(w, "%s\t%s\t%s (%v)\t%d\n", id, doc.Title, database.ConversionFailed, err, images)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", id, doc.Title, status, images)
	}
	w.Flush()
	fmt.Printf("\n%d converted, %d failed\n", len(docs)-failed, failed)
	return failed, nil
}
