package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/soctriage/internal/rag"
)

func newIngestCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the playbook collection from a corpus directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.settings()
			if err != nil {
				return err
			}
			embedder, index, err := c.open(s)
			if err != nil {
				return err
			}
			defer func() { _ = index.Close() }()

			corpus := c.v.GetString("corpus-dir")
			rep, err := rag.NewIngestor(embedder, index, c.logger).Ingest(cmd.Context(), corpus, s.Collection)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintln(out, "ingestion complete")
			label := color.New(color.Bold)
			for _, row := range [][2]string{
				{"loaded docs:", strconv.Itoa(rep.DocumentsRead)},
				{"indexed chunks:", strconv.Itoa(rep.ChunksIndexed)},
				{"index:", index.Path()},
				{"collection:", rep.Collection},
				{"run id:", rep.RunID},
				{"embedding model:", rep.EmbeddingModel},
			} {
				label.Fprintf(out, "%-17s", row[0])
				fmt.Fprintln(out, row[1])
			}
			if rep.DocumentsRead == 0 {
				color.New(color.FgYellow).Fprintf(out, "warning: no documents found under %s\n", corpus)
			}
			return nil
		},
	}
	cmd.Flags().String("corpus-dir", "data/playbooks", "directory of markdown playbooks and policies")
	return cmd
}
