package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/cefrquest/internal/llm"
	"github.com/abhisek/cefrquest/internal/store"
)

var graderCmd = &cobra.Command{
	Use:   "grader",
	Short: "Inspect recorded grading requests",
}

var graderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent grading requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		backend, _ := cmd.Flags().GetString("backend")

		e, err := openEnv(cmd, envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()
		events := e.store.EventRepo()

		list, err := events.QueryGradingEvents(cmd.Context(), store.QueryOpts{Limit: limit})
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No grading requests recorded.")
			return nil
		}

		fmt.Printf("%-6s  %-19s  %-16s  %-24s  %-6s  %-6s  %-7s  %s\n",
			"Seq", "Timestamp", "Backend", "Model", "In", "Out", "Ms", "OK")
		fmt.Println(strings.Repeat("─", 104))
		for _, e := range list {
			if backend != "" && !strings.HasPrefix(e.Backend, backend) {
				continue
			}
			ok := "✓"
			if !e.Success {
				ok = "✗"
			}
			fmt.Printf("%-6d  %-19s  %-16s  %-24s  %-6d  %-6d  %-7d  %s\n",
				e.Sequence,
				e.Timestamp.Local().Format("2006-01-02 15:04:05"),
				truncate(e.Backend, 16),
				truncate(e.Model, 24),
				e.InputTokens,
				e.OutputTokens,
				e.LatencyMs,
				ok,
			)
		}
		return nil
	},
}

var graderViewCmd = &cobra.Command{
	Use:   "view <seq>",
	Short: "View the full request and response of a grading call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid sequence %q: %w", args[0], err)
		}

		e, err := openEnv(cmd, envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()
		events := e.store.EventRepo()

		ev, err := events.GetGradingEvent(cmd.Context(), seq)
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		if ev == nil {
			return fmt.Errorf("event %d not found", seq)
		}

		sep := strings.Repeat("─", 60)
		fmt.Printf("Seq:       %d\n", ev.Sequence)
		fmt.Printf("Time:      %s\n", ev.Timestamp.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Backend:   %s\n", ev.Backend)
		if ev.Model != "" {
			fmt.Printf("Model:     %s\n", ev.Model)
		}
		if ev.TaskID != "" {
			fmt.Printf("Task:      %s\n", ev.TaskID)
		}
		fmt.Printf("Tokens:    %d in / %d out\n", ev.InputTokens, ev.OutputTokens)
		fmt.Printf("Latency:   %dms\n", ev.LatencyMs)
		fmt.Printf("Success:   %v\n", ev.Success)
		if ev.ErrorMessage != "" {
			fmt.Printf("Error:     %s\n", ev.ErrorMessage)
		}

		for _, part := range []struct{ title, body string }{
			{"REQUEST", ev.RequestBody},
			{"RESPONSE", ev.ResponseBody},
		} {
			fmt.Println(sep)
			fmt.Println(part.title)
			fmt.Println(sep)
			if part.body == "" {
				fmt.Println("(not captured)")
				continue
			}
			fmt.Println(part.body)
		}
		return nil
	},
}

var graderStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show grading volume, failures and estimated LLM cost",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd, envOptions{})
		if err != nil {
			return err
		}
		defer e.Close()
		events := e.store.EventRepo()

		list, err := events.QueryGradingEvents(cmd.Context(), store.QueryOpts{})
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No grading requests recorded yet.")
			return nil
		}

		type usage struct {
			calls, failed, in, out int
			latency                int64
		}
		byModel := make(map[string]*usage)
		for _, e := range list {
			key := e.Backend
			if e.Model != "" {
				key = e.Model
			}
			u := byModel[key]
			if u == nil {
				u = &usage{}
				byModel[key] = u
			}
			u.calls++
			if !e.Success {
				u.failed++
			}
			u.in += e.InputTokens
			u.out += e.OutputTokens
			u.latency += e.LatencyMs
		}
		keys := make([]string, 0, len(byModel))
		for k := range byModel {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Printf("%-32s  %6s  %6s  %10s  %10s  %8s  %10s\n",
			"Backend / model", "Calls", "Failed", "Input", "Output", "Avg Ms", "Cost")
		fmt.Println(strings.Repeat("─", 96))

		var total float64
		var unknown []string
		for _, k := range keys {
			u := byModel[k]
			cost := "-"
			if c := llm.LookupCost(k); c != nil {
				v := c.Cost(u.in, u.out)
				total += v
				cost = formatCost(v)
			} else if u.in+u.out > 0 {
				unknown = append(unknown, k)
				cost = "?"
			}
			fmt.Printf("%-32s  %6d  %6d  %10d  %10d  %8d  %10s\n",
				truncate(k, 32), u.calls, u.failed, u.in, u.out, u.latency/int64(u.calls), cost)
		}
		fmt.Println(strings.Repeat("─", 96))
		fmt.Printf("%-32s  %6d  %6s  %10s  %10s  %8s  %10s\n", "TOTAL", len(list), "", "", "", "", formatCost(total))
		if len(unknown) > 0 {
			fmt.Printf("\nPricing unavailable for: %s\n", strings.Join(unknown, ", "))
		}
		return nil
	},
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

func init() {
	graderListCmd.Flags().Int("limit", 30, "Maximum number of events to show")
	graderListCmd.Flags().String("backend", "", "Only show events from this backend (prefix match)")

	graderCmd.AddCommand(graderListCmd)
	graderCmd.AddCommand(graderViewCmd)
	graderCmd.AddCommand(graderStatsCmd)
}
