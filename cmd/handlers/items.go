package handlers

import (
	"fmt"
	"os"
	"text/tabwriter"

	"curator/internal/core"

	"github.com/spf13/cobra"
)

// NewItemsCmd creates the item administration command
func NewItemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Inspect tracked content items",
		Long: `Inspect the items tracked in the metadata store and their progress
through the pipeline stages.`,
	}

	cmd.AddCommand(newItemsListCmd())
	cmd.AddCommand(newItemsShowCmd())

	return cmd
}

func newItemsListCmd() *cobra.Command {
	var (
		sourceURL string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items and their stage progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItemsList(sourceURL, limit)
		},
	}

	cmd.Flags().StringVar(&sourceURL, "source-url", "", "Only items from this feed")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum items to list (0 for all)")

	return cmd
}

func newItemsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <guid>",
		Short: "Show the full record of one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItemsShow(args[0])
		},
	}
}

func runItemsList(sourceURL string, limit int) error {
	st, _, err := openStores()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	items, err := st.Scan(core.ItemFilter{SourceURL: sourceURL, Limit: limit})
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}
	if len(items) == 0 {
		fmt.Println("No items found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "GUID\tTitle\tStage\tPaywall\tWorth\tPublished\n")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			it.GUID, truncate(it.Title, 40), stageOf(it), it.IsPaywall, it.ToBeSummarized, it.PublishedDate)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d items\n", len(items))
	return nil
}

func runItemsShow(guid string) error {
	st, blobs, err := openStores()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	item, err := st.Get(guid)
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}
	if item == nil {
		return fmt.Errorf("no item with guid %s", guid)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "GUID:\t%s\n", item.GUID)
	fmt.Fprintf(w, "Link:\t%s\n", item.Link)
	fmt.Fprintf(w, "Title:\t%s\n", item.Title)
	fmt.Fprintf(w, "Source:\t%s\n", item.SourceURL)
	fmt.Fprintf(w, "Published:\t%s\n", item.PublishedDate)
	fmt.Fprintf(w, "Fetched:\t%s\n", item.FetchDate)
	fmt.Fprintf(w, "Stage:\t%s\n", stageOf(item))
	fmt.Fprintf(w, "Paywall:\t%s\n", item.IsPaywall)
	fmt.Fprintf(w, "Worth summarizing:\t%s\n", item.ToBeSummarized)
	fmt.Fprintf(w, "Newsletters:\t%v\n", item.Newsletters)
	fmt.Fprintf(w, "Last updated:\t%s\n", item.LastUpdated)
	fmt.Fprintln(w)

	for _, ref := range []struct {
		label string
		key   string
	}{
		{"HTML", item.HTMLPath},
		{"Markdown", item.MDPath},
		{"Summary", item.SummaryPath},
		{"Short summary", item.ShortSummaryPath},
	} {
		if ref.key == "" {
			fmt.Fprintf(w, "%s:\t(none)\n", ref.label)
			continue
		}
		present, err := blobs.Exists(ref.key)
		status := "present"
		if err != nil || !present {
			status = "MISSING BLOB"
		}
		fmt.Fprintf(w, "%s:\t%s (%s)\n", ref.label, ref.key, status)
	}
	return w.Flush()
}

// stageOf names the furthest stage an item has completed.
func stageOf(it *core.ContentItem) string {
	switch {
	case it.IsDistributed():
		return "distributed"
	case it.IsSummarized():
		return "summarized"
	case it.IsProcessed():
		return "processed"
	case it.IsFetched():
		return "fetched"
	default:
		return "new"
	}
}

// truncate shortens s to at most n runes, so multibyte titles are never
// cut mid-character.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
