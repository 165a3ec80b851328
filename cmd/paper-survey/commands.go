package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/sweetpotato0/paper-survey/archive"
	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/extract"
	"github.com/sweetpotato0/paper-survey/report"
	"github.com/sweetpotato0/paper-survey/workflow"
)

const previewChars = 1500

func chatCMD(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive session, one workflow run per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			in := bufio.NewReader(cmd.InOrStdin())

			a, err := newApp(ctx, c.cfg, in, out)
			if err != nil {
				return err
			}
			defer a.Close()
			engine := a.engine(stateEcho(out))

			fmt.Fprintln(out, "Ask a research question, or type exit to quit.")
			for {
				fmt.Fprint(out, "\n> ")
				line, err := in.ReadString('\n')
				line = strings.TrimSpace(line)
				if line != "" && !isExit(line) {
					a.library.Reset()
					outcome, runErr := engine.Run(ctx, line)
					printOutcome(out, outcome)
					if runErr != nil {
						fmt.Fprintln(out, "run failed:", runErr)
					}
				}
				if isExit(line) || errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				if err != nil {
					return err
				}
			}
		},
	}
}

func isExit(line string) bool {
	switch strings.ToLower(line) {
	case "exit", "quit", ":q":
		return true
	}
	return false
}

func askCMD(c *cli) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Run the workflow once for a single request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			var human *bufio.Reader
			if interactive {
				human = bufio.NewReader(cmd.InOrStdin())
			}
			a, err := newApp(ctx, c.cfg, human, out)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.engine(stateEcho(out)).Run(ctx, strings.Join(args, " "))
			printOutcome(out, outcome)
			return err
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "let the assistant ask follow-up questions on stdin")
	return cmd
}

func fetchCMD(c *cli) *cobra.Command {
	var saveDir string
	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Download documents concurrently and extract their text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg.Fetch
			if saveDir != "" {
				cfg.SaveDir = saveDir
			}
			res, err := newFetcher(cfg).FetchAll(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range res.Documents {
				fmt.Fprintf(out, "ok    %s -> %s (%d bytes, %d attempts)\n", d.URL, d.Path, d.Bytes, d.Attempts)
			}
			for _, f := range res.Failures {
				fmt.Fprintf(out, "fail  %s: %v\n", f.URL, f.Err)
			}
			fmt.Fprintf(out, "\nDownloaded %d of %d documents into %s\n", res.Succeeded, len(args), cfg.SaveDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "directory for downloaded files (overrides config)")
	return cmd
}

func reportCMD(c *cli) *cobra.Command {
	var docsDir string
	cmd := &cobra.Command{
		Use:   "report <topic>",
		Short: "Generate a survey from local documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			docs, err := loadDocuments(ctx, docsDir)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("%w: no readable documents in %s", apperr.ErrInvalidInput, docsDir)
			}
			a, err := newApp(ctx, c.cfg, nil, out)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.generator().Generate(ctx, strings.Join(args, " "), docs)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, rep.Markdown)
			if a.archive != nil {
				id, err := a.archive.Save(ctx, rep)
				if err != nil {
					return fmt.Errorf("archive report: %w", err)
				}
				fmt.Fprintf(out, "\nSaved report %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&docsDir, "docs", "papers", "directory of PDF, HTML or text files")
	return cmd
}

func reportsCMD(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Browse archived reports",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openArchive(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer store.Close()
			records, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print an archived report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openArchive(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer store.Close()
			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.Markdown)
			return nil
		},
	}
	cmd.AddCommand(list, show)
	return cmd
}

func openArchive(ctx context.Context, c *cli) (archive.Store, error) {
	store, err := archive.Open(ctx, c.cfg.Archive)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("archive is disabled (archive.backend=none)")
	}
	return store, nil
}

func printRecords(w io.Writer, records []archive.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No archived reports.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGENERATED\tDOCS\tTITLE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.GeneratedAt.Format("2006-01-02 15:04"), r.Stats.DocumentsAnalyzed, r.Title)
	}
	tw.Flush()
}

// loadDocuments extracts every readable file directly under dir, in name order.
func loadDocuments(ctx context.Context, dir string) ([]report.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var docs []report.Document
	ex := extract.Default{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		text, err := ex.Extract(ctx, data, "", path)
		if err != nil {
			// Unreadable files are skipped; the generator copes with fewer documents.
			continue
		}
		title := text.Title
		if title == "" {
			title = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		docs = append(docs, report.Document{Title: title, Source: path, Text: text.Body})
	}
	return docs, nil
}

func stateEcho(w io.Writer) workflow.Observer {
	return func(state workflow.State, _ *workflow.ConversationState) {
		fmt.Fprintf(w, "[%s]\n", state)
	}
}

func printOutcome(w io.Writer, o *workflow.Outcome) {
	if o == nil {
		return
	}
	if o.Answer != "" {
		fmt.Fprintf(w, "\n%s\n", preview(o.Answer, previewChars))
	}
	states := make([]string, len(o.Visited))
	for i, s := range o.Visited {
		states[i] = string(s)
	}
	fmt.Fprintf(w, "\nRun %s: %s\n", shortID(o.RunID), strings.Join(states, " -> "))
	fmt.Fprintf(w, "Tool calls: %d (failed: %d)\n", o.ToolCalls, o.ToolFailures)
	if o.Report != nil {
		st := o.Report.Stats
		fmt.Fprintf(w, "Report: %d documents, %d sections (%d failed)\n", st.DocumentsAnalyzed, st.SectionsProduced, st.SectionsFailed)
	}
	if o.ArchiveID != "" {
		fmt.Fprintf(w, "Saved report %s\n", o.ArchiveID)
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n..."
}

func shortID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id[:8]
	}
	return id
}
