package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Register and index local documents",
	Long:  `Loads each PDF, DOCX or HTML file, chunks it and adds the chunks to the vector index. A file that fails is rolled back and the rest continue.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List registered documents, newest first",
	Args:  cobra.NoArgs,
	RunE:  runDocuments,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [file-id]",
	Short: "Remove a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		name := filepath.Base(path)
		id, err := a.documents.Ingest(ctx, path, name)
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s indexed as file_id %d (%d chunks)\n", name, id, a.index.CountByFileID(id))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

func runDocuments(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.documents.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No documents.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tUPLOADED\tCHUNKS")
	for _, d := range docs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", d.ID, d.Filename, d.UploadTimestamp.Format("2006-01-02 15:04:05"), a.index.CountByFileID(d.ID))
	}
	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	fileID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || fileID <= 0 {
		return fmt.Errorf("invalid file id %q", args[0])
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.documents.DeleteDocument(ctx, fileID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %d (%d chunks removed)\n", fileID, removed)
	return nil
}
