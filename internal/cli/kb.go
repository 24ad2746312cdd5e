package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/spf13/cobra"

	"github.com/dyike/CortexAdvisor/internal/dataflows"
	"github.com/dyike/CortexAdvisor/internal/retrieval"
	"github.com/dyike/CortexAdvisor/models"
)

// Characters of document text fed to the embedder.
const embedTextLimit = 8000

func newKBCmd(e *env) *cobra.Command {
	kbCmd := &cobra.Command{
		Use:   "kb",
		Short: "Knowledge base management",
	}
	kbCmd.AddCommand(newKBAddCmd(e))
	kbCmd.AddCommand(newKBSearchCmd(e))
	return kbCmd
}

func newKBAddCmd(e *env) *cobra.Command {
	var title, source, category, file string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Embed a document and add it to the knowledge base",
		Long: `Read a text, markdown or HTML document, embed it and store it.
Example: cortexadvisor kb add --title "Q3 outlook" --source bank-research --file q3.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readDocument(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			store, cfg, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			doc := &models.Document{
				Title:    title,
				Content:  content,
				Source:   source,
				Category: category,
			}
			if err := addDocument(cmd.Context(), dataflows.NewHTTPEmbedder(&cfg), store, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d dims)\n", completedStyle.Render("added"), doc.ID, len(doc.Embedding))
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Document title")
	cmd.Flags().StringVar(&source, "source", "", "Where the document came from")
	cmd.Flags().StringVar(&category, "category", "", "Free-form category, e.g. research or news")
	cmd.Flags().StringVar(&file, "file", "", "Path to the document, or - for stdin")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newKBSearchCmd(e *env) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search [QUERY]",
		Short: "Rank knowledge base documents against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := e.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			retr := retrieval.NewEngine(dataflows.NewHTTPEmbedder(&cfg), store)
			hits, err := retr.Retrieve(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatHits(hits))
			return nil
		},
	}
	cmd.Flags().IntVar(&k, "k", 5, "Number of documents to return")
	return cmd
}

type documentWriter interface {
	InsertDocument(ctx context.Context, doc *models.Document) error
}

func addDocument(ctx context.Context, embedder embedding.Embedder, store documentWriter, doc *models.Document) error {
	if strings.TrimSpace(doc.Title) == "" {
		return fmt.Errorf("document title is required")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("document %q is empty", doc.Title)
	}
	text := doc.Title + "\n\n" + dataflows.Summarize(doc.Content, embedTextLimit)
	vectors, err := embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return fmt.Errorf("embed document: provider returned no vector")
	}
	doc.Embedding = vectors[0]
	return store.InsertDocument(ctx, doc)
}

func readDocument(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return string(data), nil
}
