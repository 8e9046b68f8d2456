package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"estate_harvester/models"
	"estate_harvester/pipeline"
)

var (
	statusRuns  int
	statusRunID string
)

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 10, "number of recent runs to list")
	statusCmd.Flags().StringVar(&statusRunID, "run", "", "print the ledger log of one run instead")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [--runs <n>] [--run <id>]",
	Short: "Prints harvesting progress and the most recent runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusRunID != "" {
			logs, err := orchestrator.RunLogs(statusRunID)
			if err != nil {
				return err
			}
			renderRunLogs(os.Stdout, logs)
			return nil
		}

		st, err := orchestrator.Status(statusRuns)
		if err != nil {
			return err
		}
		vpnStatus, vpnOn := orchestrator.VPNStatus(cmd.Context())

		renderProgress(os.Stdout, st, vpnStatus, vpnOn)
		renderRuns(os.Stdout, st.Runs)
		return nil
	},
}

func renderProgress(w io.Writer, st *pipeline.Status, vpnStatus string, vpnOn bool) {
	next := "none"
	if st.HasCheckpoint {
		next = fmt.Sprint(st.Checkpoint)
	}

	p := table.NewWriter()
	p.SetOutputMirror(w)
	p.AppendRows([]table.Row{
		{"Unit table", st.Table},
		{"Rows", st.Rows},
		{"Checkpoint", next},
		{"Batch files", st.Batches},
	})
	if vpnOn {
		p.AppendRow(table.Row{"VPN", vpnStatus})
	}
	p.SetStyle(table.StyleRounded)
	p.Render()
}

func renderRuns(w io.Writer, runs []models.HarvestRun) {
	if len(runs) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Started", "Status", "Start", "Next", "Records", "Batch", "Error"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Status,
			r.StartIndex,
			r.NextIndex,
			r.Records,
			r.BatchPath,
			r.Error,
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func renderRunLogs(w io.Writer, logs []models.HarvestLog) {
	if len(logs) == 0 {
		fmt.Fprintln(w, "no log lines for this run")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Time", "Level", "Source", "Message"})
	for _, l := range logs {
		t.AppendRow(table.Row{
			l.Timestamp.Format("2006-01-02 15:04:05"),
			l.Level,
			l.Source,
			l.Message,
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
