// Command rustflow compiles and runs one workflow document synchronously,
// printing its job result as JSON and exiting non-zero on failure,
// matching the teacher's one-binary-per-concern cmd/services layout but
// for a single offline run instead of a long-lived HTTP service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/coryv/rustflow/internal/compiler"
	"github.com/coryv/rustflow/internal/graphdef"
	_ "github.com/coryv/rustflow/internal/nodes"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/platform/config"
	"github.com/coryv/rustflow/internal/platform/logger"
	"github.com/coryv/rustflow/internal/scheduler"
)

func main() {
	workflowPath := flag.String("workflow", "", "path to a workflow YAML document")
	flag.Parse()

	log := logger.New(config.LoggerConfig{Level: "info", Format: "json", OutputPath: "stdout"})

	if *workflowPath == "" {
		log.Fatal("rustflow: -workflow is required")
	}

	doc, err := os.ReadFile(*workflowPath)
	if err != nil {
		log.Fatal("rustflow: read workflow document", "error", err)
	}

	def, err := graphdef.Parse(doc)
	if err != nil {
		log.Fatal("rustflow: parse workflow document", "error", err)
	}

	graph, err := compiler.Compile(def, compiler.Options{Registry: noderuntime.Global})
	if err != nil {
		log.Fatal("rustflow: compile workflow", "error", err)
	}
	for _, warning := range graph.Warnings {
		log.Warn("rustflow: compile warning", "detail", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := scheduler.NewBus()
	defer bus.Close()

	job := &scheduler.Job{
		ID:     uuid.New().String(),
		Graph:  graph,
		Bus:    bus,
		Logger: log,
	}

	result := scheduler.Run(ctx, job)

	out, err := json.MarshalIndent(summarize(result), "", "  ")
	if err != nil {
		log.Fatal("rustflow: marshal result", "error", err)
	}
	fmt.Println(string(out))

	if result.Status != scheduler.StatusCompleted {
		os.Exit(1)
	}
}

type nodeOutcomeView struct {
	NodeID     string `json:"nodeId"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

type resultView struct {
	JobID    string            `json:"jobId"`
	Status   string            `json:"status"`
	Outcomes []nodeOutcomeView `json:"outcomes"`
}

func summarize(r *scheduler.Result) resultView {
	view := resultView{JobID: r.JobID, Status: string(r.Status)}
	for _, o := range r.Outcomes {
		nov := nodeOutcomeView{NodeID: o.NodeID, DurationMs: o.Duration.Milliseconds()}
		if o.Err != nil {
			nov.Error = o.Err.Error()
		}
		view.Outcomes = append(view.Outcomes, nov)
	}
	return view
}
