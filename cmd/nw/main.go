package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"newswave/internal/app"
	"newswave/internal/config"
	"newswave/internal/identity"
	"newswave/internal/nw"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an NWApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Publish", "List").
func newApp(ctx context.Context, operation string) (*app.NWApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewNWApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "nw",
	Short:        "Publish and read verified news on an append-only ledger",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		fmt.Printf("Run `nw identity new` to create a signing key at %s\n", cfg.Identity.KeyFile)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Ledger:   %s\n", cfg.Ledger.Type)
		fmt.Printf("Store:    %s\n", cfg.Store.Type)
		fmt.Printf("Verifier: %s\n", cfg.Verifier.Type)
		fmt.Printf("Identity: %s\n", cfg.Identity.Type)
		fmt.Printf("Pending:  %s\n", cfg.Pending.Type)
		fmt.Printf("Listen:   %s\n", cfg.Server.Listen)
		return nil
	},
}

// identity command
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the signing identity",
}

var identityNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a signing key",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		path := defaults.KeyFile
		if cfg, err := config.ReadFromFile(defaults.ConfigPath); err == nil && cfg.Identity.KeyFile != "" {
			path = cfg.Identity.KeyFile
		}

		address, err := identity.GenerateKeyFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("Key written to %s\n", path)
		fmt.Printf("Address: %s\n", address)
		return nil
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the bound address",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ShowIdentity")
		if err != nil {
			return err
		}
		defer a.Close()

		address := a.Address(cmd.Context())
		if address == "" {
			return fmt.Errorf("no identity bound")
		}
		fmt.Println(address)
		return nil
	},
}

// publish command
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Verify, store and record an article",
	Long: "Verify, store and record an article. The body is read from --file, " +
		"or from stdin when stdin is not a terminal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		file, _ := cmd.Flags().GetString("file")

		content, err := readContent(file)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Publish")
		if err != nil {
			return err
		}
		defer a.Close()

		receipt, err := a.Publish(cmd.Context(), nw.Draft{Title: title, Content: content})
		if err != nil {
			reportPublishError(err)
			return err
		}

		fmt.Printf("Published #%d\n", receipt.SequenceIndex)
		fmt.Printf("Ref:    %s\n", receipt.ContentRef)
		fmt.Printf("Author: %s\n", receipt.Author)
		if receipt.Score != nil {
			fmt.Printf("Score:  %.2f (%s)\n", *receipt.Score, nw.Classify(*receipt.Score))
		}
		return nil
	},
}

// readContent reads the article body from path, or from stdin when path is
// empty and stdin is redirected.
func readContent(path string) (string, error) {
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(b), nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no content: pass --file or pipe the body on stdin")
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(b), nil
}

func reportPublishError(err error) {
	pe, ok := nw.AsPublishError(err)
	if !ok {
		return
	}
	fmt.Fprintf(os.Stderr, "Failed at stage: %s\n", pe.Stage)
	if pe.Orphaned() {
		fmt.Fprintf(os.Stderr, "Content is stored as %s but not recorded (%s).\n", pe.ContentRef, pe.LedgerWrite)
		fmt.Fprintln(os.Stderr, "It was queued; run `nw pending retry` once the ledger is reachable.")
		if pe.LedgerWrite == nw.LedgerWriteUnknown {
			fmt.Fprintln(os.Stderr, "Check `nw list` first: retrying an append that landed publishes a duplicate.")
		}
	}
}

// record command
var recordCmd = &cobra.Command{
	Use:   "record REF",
	Short: "Record already stored content on the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")

		a, err := newApp(cmd.Context(), "RecordOnly")
		if err != nil {
			return err
		}
		defer a.Close()

		receipt, err := a.RecordOnly(cmd.Context(), args[0], title)
		if err != nil {
			reportPublishError(err)
			return err
		}
		fmt.Printf("Recorded #%d  %s\n", receipt.SequenceIndex, receipt.ContentRef)
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List published news, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")

		a, err := newApp(cmd.Context(), "List")
		if err != nil {
			return err
		}
		defer a.Close()

		listing, err := a.List(cmd.Context())
		if err != nil {
			return err
		}

		items := listing.Items
		switch filter {
		case "all":
		case string(nw.Verified), string(nw.Questionable):
			items = listing.Filter(nw.Classification(filter))
		default:
			return fmt.Errorf("unknown filter %q: use all, verified or questionable", filter)
		}

		if len(items) == 0 {
			fmt.Println("No news published.")
		}
		for _, item := range items {
			marker := ""
			switch {
			case !item.ContentAvailable:
				marker = "  [content unavailable]"
			case item.AuthorMismatch:
				marker = "  [author mismatch]"
			}
			fmt.Printf("#%-4d %-12s %.2f  %s  %s  by %s%s\n",
				item.SequenceIndex,
				item.Classification(),
				item.VerificationScore,
				time.UnixMilli(item.RecordedAt).Format("2006-01-02 15:04:05"),
				item.Title,
				item.Author,
				marker,
			)
		}
		for _, sk := range listing.Skipped {
			fmt.Fprintf(os.Stderr, "skipped #%d: %v\n", sk.Index, sk.Err)
		}
		return nil
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show REF",
	Short: "Show one article",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Show")
		if err != nil {
			return err
		}
		defer a.Close()

		article, err := a.Show(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		b := article.Blob
		fmt.Printf("%s\n%s\n\n", b.Title, strings.Repeat("=", len(b.Title)))
		fmt.Printf("Author: %s\n", b.Author)
		fmt.Printf("Date:   %s\n", time.UnixMilli(b.Timestamp).Format("2006-01-02 15:04:05"))
		fmt.Printf("Score:  %.2f (%s)\n\n", article.Score(), nw.Classify(article.Score()))
		fmt.Println(b.Content)
		return nil
	},
}

// pending command
var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Manage stored but unrecorded publications",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued publications",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "PendingList")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.PendingList()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Nothing pending.")
			return nil
		}
		for _, e := range entries {
			flag := ""
			if e.Uncertain {
				flag = "  [may already be recorded]"
			}
			fmt.Printf("%s  %s  %-40s  attempts:%d%s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.ContentRef,
				e.Title,
				e.Attempts,
				flag,
			)
			if e.LastError != "" {
				fmt.Printf("    last error: %s\n", e.LastError)
			}
		}
		return nil
	},
}

var pendingRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Record every queued publication",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "PendingRetry")
		if err != nil {
			return err
		}
		defer a.Close()

		outcomes, err := a.PendingRetry(cmd.Context())
		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				fmt.Printf("FAIL  %s  %v\n", o.Entry.ContentRef, o.Err)
				continue
			}
			if o.AlreadyRecorded {
				fmt.Printf("SKIP  %s  already on the ledger\n", o.Entry.ContentRef)
				continue
			}
			fmt.Printf("OK    %s\n", o.Entry.ContentRef)
		}
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d publication(s) still pending", failed, len(outcomes))
		}
		fmt.Printf("Recorded %d publication(s)\n", len(outcomes))
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and content gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// watch command
// ledger command
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the local ledger",
}

var ledgerBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a snapshot of the SQLite ledger to DEST",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "LedgerBackup")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupLedger(args[0]); err != nil {
			return err
		}
		fmt.Printf("Ledger written to %s\n", args[0])
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print ledger appends as they happen",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Watch(ctx, func(ev nw.LedgerEvent) {
			r := ev.Record
			fmt.Printf("#%d  %s  %s  %s  by %s\n",
				r.SequenceIndex,
				time.UnixMilli(r.RecordedAtMillis()).Format("2006-01-02 15:04:05"),
				r.ContentRef,
				r.Title,
				r.Author,
			)
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// identity subcommands
	identityCmd.AddCommand(identityNewCmd)
	identityCmd.AddCommand(identityShowCmd)

	// pending subcommands
	pendingCmd.AddCommand(pendingListCmd)
	pendingCmd.AddCommand(pendingRetryCmd)

	ledgerCmd.AddCommand(ledgerBackupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().StringP("title", "t", "", "Article title")
	publishCmd.Flags().StringP("file", "f", "", "Read the article body from this file")
	_ = publishCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringP("title", "t", "", "Title to record")
	_ = recordCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringP("filter", "F", "all", "all, verified or questionable")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}
