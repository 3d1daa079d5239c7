package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/ingest"
	"github.com/sandk0/fancai-vibe-hackathon-sub002/internal/types"
)

var (
	ingestFile   string
	ingestOwner  string
	ingestFormat string
	ingestTitle  string
	ingestAuthor string
	ingestTier   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Parse an EPUB or FB2 file into a book with chapters",
	Long: `Parse an uploaded book file and create its Book and Chapter records.
The format is taken from the file extension unless --format is given. The
book is not queued for description parsing; use enqueue for that.

Examples:
  orchestrator ingest --file book.epub --owner a1f2...
  orchestrator ingest --file book.fb2 --owner a1f2... --title "Override"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format := types.BookFormat(ingestFormat)
		if format == "" {
			ext := strings.TrimPrefix(filepath.Ext(ingestFile), ".")
			format = types.BookFormat(strings.ToLower(ext))
		}
		if !format.Valid() {
			return fmt.Errorf("%w: unsupported format %q", errBadConfig, format)
		}

		data, err := os.ReadFile(ingestFile)
		if err != nil {
			return err
		}

		svcs, cleanup, err := setupServices(ctx, true)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := svcs.Ingester.Ingest(ctx, ingest.Request{
			OwnerID:  ingestOwner,
			Tier:     ingestTier,
			Format:   format,
			Data:     data,
			FilePath: ingestFile,
			Title:    ingestTitle,
			Author:   ingestAuthor,
		})
		if err != nil {
			return err
		}

		fmt.Printf("book ingested\n")
		fmt.Printf("  Book:     %s\n", res.Book.ID)
		fmt.Printf("  Title:    %s\n", res.Book.Title)
		fmt.Printf("  Genre:    %s\n", res.Book.Genre)
		fmt.Printf("  Chapters: %d (%d service pages)\n", res.ChapterCount, res.ServicePages)
		fmt.Printf("  Words:    %d\n", res.WordCount)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "book file path (required)")
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "", "owner user id (required)")
	ingestCmd.Flags().StringVar(&ingestFormat, "format", "", "file format: epub or fb2 (default: from extension)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "title override")
	ingestCmd.Flags().StringVar(&ingestAuthor, "author", "", "author override")
	ingestCmd.Flags().StringVar(&ingestTier, "tier", "free", "owner's subscription tier: free, plus or premium")
	ingestCmd.MarkFlagRequired("file")
	ingestCmd.MarkFlagRequired("owner")

	rootCmd.AddCommand(ingestCmd)
}
