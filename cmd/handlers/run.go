package handlers

import (
	"context"
	"errors"
	"fmt"

	"curator/internal/classify"
	"curator/internal/core"
	"curator/internal/curator"
	"curator/internal/email"
	"curator/internal/feeds"
	"curator/internal/fetch"
	"curator/internal/llm"
	"curator/internal/logger"
	"curator/internal/pipeline"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type runFlags struct {
	fetch      bool
	process    bool
	summarize  bool
	curate     bool
	distribute bool
	all        bool

	overwrite   bool
	id          string
	feedURL     string
	maxItems    int
	limit       int
	mostRecent  int
	nDays       int
	summaryType string
	subject     string
}

// NewRunCmd creates the pipeline run command
func NewRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one or more pipeline stages",
		Long: `Run selected pipeline stages in order: fetch, process, summarize,
curate, distribute. Within one invocation the output of each stage feeds the
next, so "run --fetch --process" converts exactly the items it just fetched.

Stage failures on individual items are logged and skipped; the failed items
stay eligible for the next run. Only unreachable storage aborts the run.

Examples:
  curator run --all
  curator run --fetch --process --max-items 10
  curator run --summarize --id dGhpc2lzZ3U
  curator run --curate --most-recent 5 --summary-type brief
  curator run --distribute`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.fetch, "fetch", false, "Fetch feed entries and raw article HTML")
	cmd.Flags().BoolVar(&flags.process, "process", false, "Convert fetched HTML to markdown and classify it")
	cmd.Flags().BoolVar(&flags.summarize, "summarize", false, "Generate summaries for worth-summarizing items")
	cmd.Flags().BoolVar(&flags.curate, "curate", false, "Assemble a newsletter from summarized items")
	cmd.Flags().BoolVar(&flags.distribute, "distribute", false, "Email the latest newsletter")
	cmd.Flags().BoolVar(&flags.all, "all", false, "Run every stage")
	cmd.Flags().BoolVar(&flags.overwrite, "overwrite", false, "Redo work whose output already exists")
	cmd.Flags().StringVar(&flags.id, "id", "", "Restrict the run to a single item guid")
	cmd.Flags().StringVar(&flags.feedURL, "feed-url", "", "Fetch from this feed only, instead of the configured feed file")
	cmd.Flags().IntVar(&flags.maxItems, "max-items", 0, "Per-feed entry cap during fetch (default from config)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "Item cap for process and summarize (default from config)")
	cmd.Flags().IntVar(&flags.mostRecent, "most-recent", 0, "Curate the N most recently published items")
	cmd.Flags().IntVar(&flags.nDays, "n-days", 0, "Curate items published in the last N days")
	cmd.Flags().StringVar(&flags.summaryType, "summary-type", "", "Summary variant for curate/distribute: standard or brief")
	cmd.Flags().StringVar(&flags.subject, "subject", "", "Subject line for the distributed email")

	return cmd
}

func runPipeline(ctx context.Context, flags runFlags) error {
	if flags.all {
		flags.fetch, flags.process, flags.summarize, flags.curate, flags.distribute = true, true, true, true, true
	}
	if !flags.fetch && !flags.process && !flags.summarize && !flags.curate && !flags.distribute {
		return fmt.Errorf("no stage selected: pass one or more of --fetch --process --summarize --curate --distribute, or --all")
	}

	summaryTypeName := flags.summaryType
	if summaryTypeName == "" {
		summaryTypeName = cfg.Curator.SummaryType
	}
	summaryType, err := core.ParseSummaryType(summaryTypeName)
	if err != nil {
		return err
	}

	st, blobs, err := openStores()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var summarizer pipeline.Summarizer
	if flags.summarize {
		client, err := llm.NewClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return err
		}
		summarizer = client
	}

	var mailer pipeline.MailSender
	if flags.distribute {
		if cfg.Email.SMTPHost == "" || cfg.Email.From == "" {
			return fmt.Errorf("email delivery requires email.smtp_host and email.from (or SMTP_HOST / SMTP_FROM)")
		}
		mailer = email.NewSender(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.From, cfg.Email.Password)
	}

	// A run id on every log line distinguishes overlapping invocations.
	log := logger.Get().With("run_id", uuid.NewString())

	p := pipeline.New(
		st,
		blobs,
		feeds.NewManager(),
		fetch.NewClient(),
		summarizer,
		classify.New(classifierConfig(cfg.Classifier)),
		mailer,
		log,
	)

	opts := pipeline.Options{
		Overwrite: flags.overwrite,
		ID:        flags.id,
		MaxItems:  flags.maxItems,
		Limit:     flags.limit,
	}
	if opts.MaxItems == 0 {
		opts.MaxItems = cfg.Feeds.MaxItems
	}
	if opts.Limit == 0 {
		opts.Limit = cfg.Feeds.ProcessLimit
	}

	// Within one invocation, each stage hands its items to the next; a stage
	// run on its own queries the gate for eligible items instead.
	var worklist []*core.ContentItem

	if flags.fetch {
		urls, err := feedURLs(flags.feedURL)
		if err != nil {
			return err
		}
		worklist, _ = p.Fetch(urls, opts)
	}

	if flags.process {
		items, _, err := p.Process(worklist, opts)
		if err != nil {
			logger.Error("process stage failed", err)
			items = nil
		}
		worklist = items
	}

	if flags.summarize {
		items, _, err := p.Summarize(ctx, worklist, nil, opts)
		if err != nil {
			logger.Error("summarize stage failed", err)
			items = nil
		}
		worklist = items
	}

	if flags.curate {
		sel := curator.Selection{MostRecent: flags.mostRecent, NDays: flags.nDays}
		if sel.MostRecent == 0 && sel.NDays == 0 {
			sel.MostRecent = cfg.Curator.MostRecent
			sel.NDays = cfg.Curator.NDays
		}
		result, err := p.Curate(sel, summaryType, opts)
		if err != nil {
			if errors.Is(err, curator.ErrInvalidSelection) {
				return err
			}
			logger.Error("curate stage failed", err)
		} else if result.NewsletterID != "" {
			fmt.Printf("Newsletter %s created with %d items\n", result.NewsletterID, len(result.GUIDs))
		}
	}

	if flags.distribute {
		subject := flags.subject
		if subject == "" {
			subject = fmt.Sprintf("Content Update: latest_%s.md", summaryType)
		}
		subject = cfg.Email.SubjectPrefix + subject
		if err := p.Distribute(summaryType, cfg.Email.Recipients, subject); err != nil {
			logger.Error("distribute stage failed", err)
		}
	}

	return nil
}

// feedURLs resolves the fetch sources: a single --feed-url, or the
// configured feed list file.
func feedURLs(override string) ([]string, error) {
	if override != "" {
		return []string{override}, nil
	}
	urls, err := feeds.ReadFeedURLs(cfg.Feeds.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed list: %w", err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no feed URLs in %s", cfg.Feeds.File)
	}
	return urls, nil
}
