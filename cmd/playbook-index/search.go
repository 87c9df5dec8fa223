package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/soctriage/internal/incident"
	"github.com/linnemanlabs/soctriage/internal/rag"
)

const previewLen = 240

func newSearchCmd(c *cli) *cobra.Command {
	var (
		k        int
		category string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Print the playbook chunks closest to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			var cat incident.Category
			if category != "" {
				var err error
				if cat, err = incident.ParseCategory(category); err != nil {
					return err
				}
			}
			if k < 1 || k > 20 {
				return fmt.Errorf("invalid --k %d (must be 1..20)", k)
			}

			s, err := c.settings()
			if err != nil {
				return err
			}
			embedder, index, err := c.open(s)
			if err != nil {
				return err
			}
			defer func() { _ = index.Close() }()

			hits, err := rag.NewRetriever(embedder, index, s.Collection, c.logger).Retrieve(cmd.Context(), query, k, cat)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				color.New(color.FgYellow).Fprintln(out, "no hits")
				return nil
			}
			head := color.New(color.FgCyan, color.Bold)
			for i, h := range hits {
				head.Fprintf(out, "%d. %s", i+1, h.DocID)
				if h.ChunkID != "" {
					head.Fprintf(out, "#%s", h.ChunkID)
				}
				fmt.Fprintf(out, "  score=%.4f", h.Score)
				if hc := h.Metadata.String(rag.KeyCategory); hc != "" {
					fmt.Fprintf(out, "  category=%s", hc)
				}
				fmt.Fprintf(out, "\n   %s\n", preview(h.Text))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", rag.DefaultTopK, "number of hits (1..20)")
	cmd.Flags().StringVar(&category, "category", "", "restrict hits to one incident category")
	return cmd
}

// preview flattens whitespace and shortens text for one terminal line.
func preview(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(s) <= previewLen {
		return s
	}
	return string([]rune(s)[:previewLen]) + "…"
}
