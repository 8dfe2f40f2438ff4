package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"vector-search/internal/chromemdb"
	"vector-search/internal/config"
	"vector-search/internal/export"
	"vector-search/internal/helper"
	"vector-search/internal/parser"
	"vector-search/internal/rag"
	"vector-search/internal/server"
)

var (
	ingestDryRun bool
	ingestReset  bool
	searchTopK   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Extract, chunk, embed and store documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find the stored items closest to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var addCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Store a raw query as an item",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print index statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var exportCmd = &cobra.Command{
	Use:   "export <out.xlsx>",
	Short: "Dump every item to a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Encrypted export and import of the chromem collection",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the collection to an encrypted snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runSnapshot(cmd, args, true) },
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load the collection from an encrypted snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runSnapshot(cmd, args, false) },
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "print chunks without embedding or storing them")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "empty the index before ingesting")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5, "number of results")

	snapshotCmd.AddCommand(snapshotExportCmd, snapshotImportCmd)
	rootCmd.AddCommand(serveCmd, ingestCmd, searchCmd, addCmd, statsCmd, exportCmd, snapshotCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.pipeline, a.cfg.Server, log.Logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if ingestDryRun {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := rag.NewPipeline(nil, nil, newChunker(cfg), pipelineOptions(cfg), log.Logger)
		for _, path := range args {
			if err := dryRun(cmd, p, path); err != nil {
				return err
			}
		}
		return nil
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if ingestReset {
		if err := a.pipeline.Reset(ctx); err != nil {
			return fmt.Errorf("error resetting index: %w", err)
		}
	}

	var failed int
	for _, path := range args {
		if !parser.Supported(path) {
			log.Warn().Str("file", path).Msg("Skipping unsupported file")
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("error reading %s: %w", path, err)
		}

		report, err := a.pipeline.Ingest(ctx, data, filepath.Base(path))
		helper.PrettyPrint(report)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Ingestion failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(args))
	}
	return nil
}

func dryRun(cmd *cobra.Command, p *rag.Pipeline, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	name := filepath.Base(path)
	chunks, dropped, pages, err := p.Chunks(data, name)
	if err != nil {
		return err
	}

	cmd.Printf("%s: %d pages, %d chunks, %d dropped below minimum\n", name, pages, len(chunks), dropped.Chunks)
	for _, c := range chunks {
		id := helper.ChunkID(c.SourceFilename, c.PageNumber, c.Index)
		cmd.Printf("\n[%s] %d chars\n%s\n", id, c.Size, helper.Preview(c.Text, 200))
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	matches, err := a.pipeline.Search(ctx, strings.Join(args, " "), searchTopK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	cmd.Print(helper.FormatMatches(matches))
	if len(matches) == 0 {
		cmd.Println()
	}
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.pipeline.AddQuery(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	cmd.Printf("Query added with id %s\n", id)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.pipeline.Stats(ctx)
	if err != nil {
		return err
	}
	helper.PrettyPrint(stats)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.pipeline.Items(ctx)
	if err != nil {
		return err
	}

	out := args[0]
	if dir := filepath.Dir(out); dir != "." {
		if err := helper.CreateFolder(dir); err != nil {
			return err
		}
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", out, err)
	}
	defer f.Close()

	if err := export.WriteXLSX(f, items); err != nil {
		return err
	}
	cmd.Printf("Exported %d items to %s\n", len(items), out)
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string, write bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Backend != config.BackendChromem {
		return errors.New("snapshots are only available for the chromem backend")
	}

	m, err := chromemdb.NewVectorDBManager(chromemdb.Options{
		Path:          cfg.Store.Chromem.Path,
		InMemory:      cfg.Store.Chromem.InMemory,
		Compress:      cfg.Store.Chromem.Compress,
		EncryptionKey: cfg.Store.Chromem.EncryptionKey,
		Collection:    cfg.Store.IndexName,
		Dimension:     cfg.Store.Dimension,
		Timeout:       cfg.Store.Timeout(),
	}, log.Logger)
	if err != nil {
		return err
	}
	if err := m.Bootstrap(cmd.Context()); err != nil {
		return err
	}

	var path string
	if len(args) == 1 {
		path = args[0]
	}
	if write {
		if err := m.Export(path); err != nil {
			return err
		}
		cmd.Println("Snapshot written")
		return nil
	}
	if err := m.Import(cmd.Context(), path); err != nil {
		return err
	}
	cmd.Println("Snapshot imported")
	return nil
}
