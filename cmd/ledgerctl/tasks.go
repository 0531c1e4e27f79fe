package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/scheduler"
)

var flagLimit int

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and toggle scheduled tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		tasks, err := rt.services.Tasks.ListTasks(cmd.Context())
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), tasks)
		}
		printTasks(cmd.OutOrStdout(), tasks)
		return nil
	},
}

var tasksEnableCmd = &cobra.Command{
	Use:   "enable <code>",
	Short: "Enable a task; resets its attempt count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskEnabled(cmd, args[0], true)
	},
}

var tasksDisableCmd = &cobra.Command{
	Use:   "disable <code>",
	Short: "Disable a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskEnabled(cmd, args[0], false)
	},
}

var tasksRunsCmd = &cobra.Command{
	Use:   "runs <code>",
	Short: "Show the most recent runs of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		runs, err := rt.services.Tasks.ListRuns(cmd.Context(), args[0], flagLimit)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), runs)
		}
		printTaskRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	tasksRunsCmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum runs to show")
	tasksCmd.AddCommand(tasksListCmd, tasksEnableCmd, tasksDisableCmd, tasksRunsCmd)
}

func setTaskEnabled(cmd *cobra.Command, code string, enabled bool) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()
	task, err := rt.services.Tasks.SetEnabled(cmd.Context(), code, enabled)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), task)
	}
	printTasks(cmd.OutOrStdout(), []scheduler.Task{task})
	return nil
}

func printTasks(out io.Writer, tasks []scheduler.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tENABLED\tSCHEDULE\tNEXT RUN\tLAST RUN\tATTEMPTS")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t%d/%d\n",
			t.Code, t.IsEnabled, describeSchedule(t.Schedule),
			t.NextRunAt.UTC().Format(time.RFC3339), formatOptionalTime(t.LastRunAt),
			t.AttemptCount, t.MaxAttempts)
	}
	_ = w.Flush()
}

func printTaskRuns(out io.Writer, runs []scheduler.TaskRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tFINISHED\tMESSAGE\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.StartedAt.UTC().Format(time.RFC3339), formatOptionalTime(r.FinishedAt),
			deref(r.Message), deref(r.Error))
	}
	_ = w.Flush()
}

func describeSchedule(s scheduler.Schedule) string {
	switch s.Type {
	case scheduler.ScheduleInterval:
		return "every " + (time.Duration(s.IntervalSeconds) * time.Second).String()
	case scheduler.ScheduleDailyUTC:
		return fmt.Sprintf("daily %02d:%02d UTC", s.DailyHourUTC, s.DailyMinuteUTC)
	}
	return string(s.Type)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
