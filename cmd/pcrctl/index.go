package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/embeddings"
	"github.com/fyrsmithlabs/pcrsearch/internal/indexer"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/vectorstore"
)

var (
	indexPDFDir  string
	indexCatalog string
	indexReset   bool
	indexWatch   bool
)

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexPDFDir, "pdf-dir", "", "directory of downloaded PCR PDFs (default from config)")
	indexCmd.Flags().StringVar(&indexCatalog, "catalog", "", "catalog JSON with fids (default from config)")
	indexCmd.Flags().BoolVar(&indexReset, "reset", false, "delete the collection before indexing")
	indexCmd.Flags().BoolVar(&indexWatch, "watch", false, "keep running and index PDFs added to the directory")
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the vector index from PCR PDFs",
	Long: `Extract text from every {fid}-{name}.pdf in the PDF directory, split it
into overlapping chunks and write the chunks with their catalog metadata to
the configured vector store.

Files without a fid in their name or without a catalog entry are skipped.

Examples:
  pcrctl index --pdf-dir ./pcr_pdfs --catalog ./pcr_list.json
  pcrctl index --reset
  pcrctl index --watch`,
	RunE: runIndex,
}

func loadCatalogFile(path string) ([]pcr.CatalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return pcr.LoadCatalog(f)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadLocal()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pdfDir := indexPDFDir
	if pdfDir == "" {
		pdfDir = cfg.Indexer.PDFDir
	}
	catalogPath := indexCatalog
	if catalogPath == "" {
		catalogPath = cfg.Indexer.CatalogFile
	}

	entries, err := loadCatalogFile(catalogPath)
	if err != nil {
		return err
	}
	catalog := pcr.IndexByFID(entries)
	if len(catalog) == 0 {
		return fmt.Errorf("catalog %s has no entries with a fid; run pcrctl assign-fids first", catalogPath)
	}

	z := logger.Underlying()
	embedder, err := embeddings.NewProvider(cfg.Embeddings, z)
	if err != nil {
		return fmt.Errorf("failed to create embeddings provider: %w", err)
	}
	defer embedder.Close()

	store, err := vectorstore.NewStore(cfg.VectorStore, embedder, z)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer store.Close()

	if indexReset {
		if err := store.DeleteCollection(ctx); err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return fmt.Errorf("failed to reset collection: %w", err)
		}
		logger.Info(ctx, "collection reset", zap.String("collection", cfg.VectorStore.Collection))
	}

	ix := indexer.New(store, cfg.Indexer, indexer.WithLogger(logger))
	stats, err := ix.Run(ctx, pdfDir, catalog)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	printStats(cmd, stats)

	if !indexWatch {
		return nil
	}
	cmd.Printf("Watching %s for new PDFs (Ctrl-C to stop)\n", pdfDir)
	return ix.Watch(ctx, pdfDir, catalog, indexer.DefaultDebounce, func(s indexer.Stats) {
		printStats(cmd, s)
	})
}

func printStats(cmd *cobra.Command, stats indexer.Stats) {
	cmd.Printf("Indexed %d files (%d skipped): %d chunks in %d batches", stats.Files, stats.Skipped, stats.Chunks, stats.Batches)
	if stats.FailedBatches > 0 {
		cmd.Printf(", %d batches failed", stats.FailedBatches)
	}
	cmd.Println()
}
