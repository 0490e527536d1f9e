package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/odyssey-erp/odyssey-admin/internal/audit"
	"github.com/odyssey-erp/odyssey-admin/jobs"
)

// AuditCLI inspects the audit redelivery queue.
type AuditCLI struct {
	jobs   *JobsCLI
	stdout io.Writer
	stderr io.Writer
}

// NewAuditCLI constructs the helper.
func NewAuditCLI(base *JobsCLI, stdout, stderr io.Writer) *AuditCLI {
	return &AuditCLI{jobs: base, stdout: stdout, stderr: stderr}
}

// DeferredEntry is a queued audit entry as reported by the CLI.
type DeferredEntry struct {
	TaskID   string      `json:"task_id"`
	State    string      `json:"state"`
	Retried  int         `json:"retried"`
	MaxRetry int         `json:"max_retry"`
	LastErr  string      `json:"last_error,omitempty"`
	Entry    audit.Entry `json:"entry"`
}

// Run executes `audit <stats|list|requeue>` and returns the process exit code.
func (c *AuditCLI) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		c.usage()
		return 2
	}
	switch args[0] {
	case "stats":
		return c.stats(ctx, args[1:])
	case "list":
		return c.list(ctx, args[1:])
	case "requeue":
		return c.requeue(ctx, args[1:])
	default:
		c.usage()
		return 2
	}
}

func (c *AuditCLI) stats(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("audit stats", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	stats, err := c.jobs.InspectQueue(ctx, jobs.QueueAudit)
	if err != nil {
		fmt.Fprintf(c.stderr, "audit stats: %v\n", err)
		return 1
	}
	if *asJSON {
		return c.writeJSON(stats)
	}
	fmt.Fprintf(c.stdout, "queue=%s pending=%d active=%d retry=%d archived=%d processed=%d failed=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Retry, stats.Archived, stats.Processed, stats.Failed)
	return 0
}

func (c *AuditCLI) list(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("audit list", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	state := fs.String("state", "retry", "task state: pending, retry or archived")
	size := fs.Int("size", 20, "page size")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tasks, err := c.jobs.ListTasks(ctx, jobs.QueueAudit, *state, *size)
	if err != nil {
		fmt.Fprintf(c.stderr, "audit list: %v\n", err)
		return 1
	}
	entries := make([]DeferredEntry, 0, len(tasks))
	for _, t := range tasks {
		d := DeferredEntry{TaskID: t.ID, State: t.State.String(), Retried: t.Retried, MaxRetry: t.MaxRetry, LastErr: t.LastErr}
		if err := json.Unmarshal(t.Payload, &d.Entry); err != nil {
			fmt.Fprintf(c.stderr, "audit list: task %s: undecodable payload: %v\n", t.ID, err)
			continue
		}
		entries = append(entries, d)
	}
	if *asJSON {
		return c.writeJSON(entries)
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATE\tRETRIED\tTYPE\tSOURCE\tACTOR\tMESSAGE")
	for _, d := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\n",
			d.TaskID, d.State, d.Retried, d.MaxRetry, d.Entry.Type, d.Entry.Source, d.Entry.UserID, d.Entry.Message)
	}
	_ = tw.Flush()
	return 0
}

func (c *AuditCLI) requeue(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(c.stderr, "usage: audit requeue <task-id>")
		return 2
	}
	if err := c.jobs.Requeue(ctx, jobs.QueueAudit, args[0]); err != nil {
		fmt.Fprintf(c.stderr, "audit requeue: %v\n", err)
		return 1
	}
	fmt.Fprintf(c.stdout, "requeued %s\n", args[0])
	return 0
}

func (c *AuditCLI) writeJSON(v any) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(c.stderr, "encode json: %v\n", err)
		return 1
	}
	return 0
}

func (c *AuditCLI) usage() {
	fmt.Fprintln(c.stderr, "usage: odyssey audit <stats|list|requeue> [flags]")
}
