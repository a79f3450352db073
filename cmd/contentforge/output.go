package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/TobiSchelling/ContentForge/internal/database"
	"github.com/TobiSchelling/ContentForge/internal/diagnose"
	"github.com/TobiSchelling/ContentForge/internal/progress"
	"github.com/TobiSchelling/ContentForge/internal/resume"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var classLabels = map[diagnose.Class]string{
	diagnose.ClassPlanned:   "planned",
	diagnose.ClassStuck:     "stuck",
	diagnose.ClassInFlight:  "in flight",
	diagnose.ClassGenerated: "generated",
	diagnose.ClassCorrupted: "corrupted",
	diagnose.ClassPublished: "published",
}

func classColor(c diagnose.Class) func(a ...interface{}) string {
	switch c {
	case diagnose.ClassCorrupted:
		return red
	case diagnose.ClassStuck:
		return yellow
	case diagnose.ClassGenerated, diagnose.ClassPublished:
		return green
	default:
		return faint
	}
}

func printDiagnosis(d *diagnose.Diagnosis) {
	fmt.Printf("%s [%d]: %d of %d articles\n\n", bold(d.StrategyName), d.StrategyID, d.Total, d.Target)
	for _, c := range diagnose.Classes {
		n := d.Count(c)
		if n == 0 {
			continue
		}
		fmt.Printf("  %-10s %s\n", classLabels[c], classColor(c)(n))
	}
	if d.LowQuality > 0 {
		fmt.Printf("  %-10s %s\n", "low quality", yellow(d.LowQuality))
	}

	var problems []diagnose.Finding
	for _, f := range d.Findings {
		if f.Class == diagnose.ClassCorrupted || f.Class == diagnose.ClassStuck || f.LowQuality {
			problems = append(problems, f)
		}
	}
	if len(problems) > 0 {
		fmt.Println("\nNeeds attention:")
		for _, f := range problems {
			label := classLabels[f.Class]
			if f.LowQuality && f.Class == diagnose.ClassGenerated {
				label = "low quality"
			}
			detail := ""
			if len(f.Issues) > 0 {
				detail = " " + faint("("+strings.Join(f.Issues, ", ")+")")
			}
			fmt.Printf("  [%d] %s  %s%s\n", f.ArticleID, f.Title, classColor(f.Class)(label), detail)
		}
	}

	fmt.Println("\nRecommended:")
	for _, a := range d.Actions {
		fmt.Printf("  - %s\n", a)
	}
}

func printQueue(q *resume.Queue) {
	fmt.Printf("\nQueue: %d article(s)\n", q.Len())
	for i, it := range q.Items {
		reset := ""
		if it.ResetFirst {
			reset = faint(" (reset first)")
		}
		fmt.Printf("  %3d. [%d] %s  %s%s\n", i+1, it.ArticleID, it.Title, yellow(it.Reason), reset)
	}
}

// consoleEmitter prints a run's events as they arrive.
func consoleEmitter() progress.Emitter {
	return progress.Func(func(e progress.Event) {
		printEvent("", e)
	})
}

// batchEmitter prefixes each line with the strategy so interleaved runs stay
// readable.
func batchEmitter(s database.Strategy) progress.Emitter {
	prefix := faint(fmt.Sprintf("[%s] ", s.Name))
	return progress.Func(func(e progress.Event) {
		printEvent(prefix, e)
	})
}

var printMu sync.Mutex

func printEvent(prefix string, e progress.Event) {
	printMu.Lock()
	defer printMu.Unlock()

	switch e.Type {
	case progress.TypeProgress:
		if e.Title != "" {
			fmt.Printf("%s%5.1f%%  %s: %s\n", prefix, e.Percent, e.Step, e.Title)
		} else {
			fmt.Printf("%s%5.1f%%  %s\n", prefix, e.Percent, e.Step)
		}
	case progress.TypeItemError:
		fmt.Printf("%s        %s %s: %s\n", prefix, red("error"), e.Title, e.Message)
	case progress.TypeWarning:
		fmt.Printf("%s        %s %s\n", prefix, yellow("warning"), e.Message)
	case progress.TypeComplete:
		if e.Summary != nil {
			fmt.Printf("%s%s %s\n", prefix, green("done"), summaryLine(e.Summary))
		}
	case progress.TypeFatal:
		fmt.Printf("%s%s %s\n", prefix, red("aborted"), e.Message)
	}
}

func summaryLine(s *progress.Summary) string {
	line := fmt.Sprintf("%d queued, %d generated, %d regenerated, %d skipped, %d failed",
		s.Queued, s.Generated, s.Regenerated, s.Skipped, s.Failed)
	if s.Cancelled {
		line += yellow(" (cancelled)")
	}
	return line
}

// summaryErr turns item failures into a non-zero exit status.
func summaryErr(s *progress.Summary) error {
	if s.Failed > 0 {
		return fmt.Errorf("%d article(s) failed to generate", s.Failed)
	}
	return nil
}

func printRun(r database.RunRecord) {
	state := green("finished")
	switch {
	case r.FinishedAt == nil:
		state = yellow("running")
	case r.Cancelled:
		state = yellow("cancelled")
	case r.Failed > 0:
		state = red("finished with failures")
	}
	fmt.Printf("%s  %s  %s\n", r.StartedAt.Local().Format("2006-01-02 15:04"), faint(r.ID), state)
	fmt.Printf("    %d queued, %d generated, %d regenerated, %d skipped, %d failed\n",
		r.Queued, r.Generated, r.Regenerated, r.Skipped, r.Failed)
	for _, e := range r.Errors {
		fmt.Printf("    %s %s\n", red("-"), e)
	}
}
