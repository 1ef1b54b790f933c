package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/bartleby/internal/instruction"
	"github.com/MikeSquared-Agency/bartleby/internal/intent"
)

// Config holds the replay run configuration.
type Config struct {
	Dir        string // directory walked for *.jsonl history exports
	SingleFile string // replay a single export file only
	Since      time.Time
	Until      time.Time
	DryRun     bool   // parse and render but record no outcomes
	StatePath  string // override the state file location
}

// OutcomeRecorder feeds render outcomes into the template reliability stats.
// *policy.Tracker satisfies it.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, templateKey string, success bool)
}

// Runner replays exported command history through extraction and rendering
// offline. The connector is never called; the point is to see how the
// current template table holds up against real historical queries before a
// change ships.
type Runner struct {
	cfg       Config
	extractor *intent.Extractor
	renderer  *instruction.Renderer
	scores    OutcomeRecorder // may be nil
	logger    *slog.Logger
}

// NewRunner creates a replay runner.
func NewRunner(cfg Config, ext *intent.Extractor, rend *instruction.Renderer, scores OutcomeRecorder, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		extractor: ext,
		renderer:  rend,
		scores:    scores,
		logger:    logger,
	}
}

// Run executes the replay.
func (r *Runner) Run(ctx context.Context) error {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		return fmt.Errorf("discover files: %w", err)
	}

	r.logger.Info("export files discovered", "files", len(files))

	dedup := NewDeduper()
	rendered := make(map[string]int)
	failures := make(map[string]int)

	var filesReplayed, commands, dupes, confusions, renderFailures int

	for _, path := range files {
		select {
		case <-ctx.Done():
			r.logger.Info("replay interrupted, saving state")
			_ = state.Save()
			return ctx.Err()
		default:
		}

		if state.IsProcessed(path) {
			continue
		}

		cmds, err := ParseExportFile(path)
		if err != nil {
			r.logger.Warn("failed to parse export file", "path", path, "error", err)
			state.AddError(fmt.Sprintf("parse %s: %v", path, err))
			continue
		}

		r.logger.Info("replaying file", "path", path, "commands", len(cmds))

		for _, cmd := range cmds {
			if !r.inDateRange(cmd) {
				continue
			}
			if dedup.Seen(cmd) {
				dupes++
				continue
			}

			commands++
			state.CommandsReplayed++

			qi, err := r.extractor.Extract(ctx, cmd.Text)
			if err != nil {
				var confusion *intent.ConfusionSignal
				if errors.As(err, &confusion) {
					confusions++
					state.Confusions++
					continue
				}
				r.logger.Error("extraction failed", "command", cmd.Text, "error", err)
				state.AddError(fmt.Sprintf("extract %q: %v", cmd.Text, err))
				continue
			}

			instr, err := r.renderer.Render(qi)
			if err != nil {
				renderFailures++
				state.RenderFailures++
				failures[failureBucket(qi)]++
				r.logger.Warn("render failed", "command", cmd.Text, "error", err)
				continue
			}

			rendered[instr.TemplateKey]++
			state.Rendered++
			if !r.cfg.DryRun && r.scores != nil {
				r.scores.RecordOutcome(ctx, instr.TemplateKey, true)
			}
		}

		filesReplayed++
		state.MarkProcessed(path)
		if err := state.Save(); err != nil {
			r.logger.Warn("failed to save state", "error", err)
		}
	}

	_ = state.Save()

	r.logger.Info("replay complete",
		"files", filesReplayed,
		"commands", commands,
		"rendered", sumCounts(rendered),
		"confusions", confusions,
		"render_failures", renderFailures,
		"duplicates_skipped", dupes,
		"dry_run", r.cfg.DryRun,
	)

	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Files replayed: %d\n", filesReplayed)
	fmt.Printf("Commands replayed: %d\n", commands)
	fmt.Printf("Rendered: %d\n", sumCounts(rendered))
	fmt.Printf("Confusions: %d\n", confusions)
	fmt.Printf("Render failures: %d\n", renderFailures)
	fmt.Printf("Duplicates skipped: %d\n", dupes)
	if report := TallyReport(rendered, failures); report != "" {
		fmt.Print(report)
	}
	if r.cfg.DryRun {
		fmt.Printf("Mode: DRY RUN (no outcomes recorded)\n")
	}
	fmt.Printf("State file: %s\n", state.Path())

	return nil
}

// TallyReport formats per-template render counts and the intent buckets no
// template could serve, sorted by key.
func TallyReport(rendered, failures map[string]int) string {
	var sb strings.Builder

	if len(rendered) > 0 {
		sb.WriteString("\nRendered by template:\n")
		for _, k := range sortedKeys(rendered) {
			fmt.Fprintf(&sb, "  %s: %d\n", k, rendered[k])
		}
	}
	if len(failures) > 0 {
		sb.WriteString("\nNo template for:\n")
		for _, k := range sortedKeys(failures) {
			fmt.Fprintf(&sb, "  %s: %d\n", k, failures[k])
		}
	}

	return sb.String()
}

func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("export file not found: %s", path)
		}
		return []string{path}, nil
	}

	dir := expandHome(r.cfg.Dir)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("export dir not found: %s", dir)
	}

	var files []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip errors
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("error walking export dir", "dir", dir, "error", err)
	}

	sort.Strings(files)
	return files, nil
}

// inDateRange checks the command timestamp against the configured since and
// until bounds. Commands without a timestamp pass only when no range is set.
func (r *Runner) inDateRange(cmd HistoryCommand) bool {
	if r.cfg.Since.IsZero() && r.cfg.Until.IsZero() {
		return true
	}
	if cmd.At.IsZero() {
		return false
	}
	if !r.cfg.Since.IsZero() && cmd.At.Before(r.cfg.Since) {
		return false
	}
	if !r.cfg.Until.IsZero() && cmd.At.After(r.cfg.Until) {
		return false
	}
	return true
}

// failureBucket groups unrenderable intents so the summary can point at the
// missing template family rather than individual commands.
func failureBucket(qi *intent.QueryIntent) string {
	return fmt.Sprintf("%s/%s", qi.Operator, qi.Cardinality)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
