package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jswell/mindq/internal/config"
)

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Capture a thought",
	Long: `Capture a free-form thought into the inbox.

Examples:
  mindq add "need to call the dentist tomorrow"
  mindq add --tags work,urgent "ship the release notes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		tagsStr, _ := cmd.Flags().GetString("tags")

		var tags []string
		if tagsStr != "" {
			tags = strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"text": text}
		if tags != nil {
			req["tags"] = tags
		}

		resp, err := client.post(cmd.Context(), "/thoughts", req)
		if err != nil {
			return err
		}

		var result struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Captured thought %s", result.ID)
		return nil
	},
}

func init() {
	addCmd.Flags().String("tags", "", "comma-separated tags")
}

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process <thought-id> [thought-id...]",
	Short: "Run the AI classifier over captured thoughts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			resp, err := client.post(cmd.Context(), "/thoughts/"+args[0]+"/process", map[string]any{})
			if err != nil {
				return err
			}
			var result struct {
				QueueItemID string `json:"queue_item_id"`
				Status      string `json:"status"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Queued for approval: %s", result.QueueItemID)
			return nil
		}

		printStep("Processing %d thoughts...", len(args))
		resp, err := client.post(cmd.Context(), "/thoughts/process", map[string]any{"thought_ids": args})
		if err != nil {
			return err
		}
		var result struct {
			Successful int `json:"successful"`
			Failed     int `json:"failed"`
			Errors     []struct {
				ThoughtID string `json:"thought_id"`
				Error     string `json:"error"`
			} `json:"errors"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		for _, e := range result.Errors {
			printError("%s: %s", e.ThoughtID, e.Error)
		}
		printSuccess("Processed %d thought(s), %d failed", result.Successful, result.Failed)
		return nil
	},
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and act on the approval queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/queue?limit=%d", limit))
		if err != nil {
			return err
		}

		var items []struct {
			ID        string `json:"id"`
			ThoughtID string `json:"thought_id"`
			Status    string `json:"status"`
			Actions   []any  `json:"actions"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}

		for _, it := range items {
			fmt.Printf("%s  %-18s  %d action(s)  thought %s\n",
				colorize(colorCyan, it.ID[:8]),
				it.Status,
				len(it.Actions),
				it.ThoughtID[:8],
			)
		}
		return nil
	},
}

var queueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a queue item with its proposed actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/queue/"+args[0])
		if err != nil {
			return err
		}

		var item any
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	},
}

var queueApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve and execute a queue item's actions",
	Long: `Approve and execute a queue item's actions.

By default all proposed actions are approved. Use --actions to approve a
subset; the remaining actions are skipped and marked as not approved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actionsStr, _ := cmd.Flags().GetString("actions")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var actionIDs []string
		if actionsStr != "" {
			actionIDs = strings.Split(actionsStr, ",")
			for i := range actionIDs {
				actionIDs[i] = strings.TrimSpace(actionIDs[i])
			}
		} else {
			// Approve everything the classifier proposed.
			resp, err := client.get(cmd.Context(), "/queue/"+args[0])
			if err != nil {
				return err
			}
			var item struct {
				Actions []struct {
					ID string `json:"id"`
				} `json:"actions"`
			}
			if err := decodeJSON(resp, &item); err != nil {
				return err
			}
			for _, a := range item.Actions {
				actionIDs = append(actionIDs, a.ID)
			}
		}

		resp, err := client.post(cmd.Context(), "/queue/"+args[0]+"/approve", map[string]any{"action_ids": actionIDs})
		if err != nil {
			return err
		}

		var summary struct {
			Executed int `json:"executed"`
			Failed   int `json:"failed"`
		}
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		if summary.Failed > 0 {
			printWarning("Executed %d action(s), %d failed", summary.Executed, summary.Failed)
		} else {
			printSuccess("Executed %d action(s)", summary.Executed)
		}
		return nil
	},
}

var queueRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a queue item awaiting approval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/queue/"+args[0]+"/reject", map[string]any{})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Rejected queue item %s", args[0])
		return nil
	},
}

var queueRevertCmd = &cobra.Command{
	Use:   "revert <id>",
	Short: "Undo a completed queue item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/queue/"+args[0]+"/revert", map[string]any{})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Reverted queue item %s", args[0])
		return nil
	},
}

func init() {
	queueListCmd.Flags().Int("limit", 20, "maximum number of items to list")
	queueApproveCmd.Flags().String("actions", "", "comma-separated action IDs to approve (default: all)")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueShowCmd)
	queueCmd.AddCommand(queueApproveCmd)
	queueCmd.AddCommand(queueRejectCmd)
	queueCmd.AddCommand(queueRevertCmd)
}

// --- tasks / projects / moods ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks created from thoughts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tasks?limit=100")
		if err != nil {
			return err
		}

		var tasks []struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Status  string `json:"status"`
			DueDate string `json:"due_date,omitempty"`
		}
		if err := decodeJSON(resp, &tasks); err != nil {
			return err
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}

		for _, t := range tasks {
			line := fmt.Sprintf("%s  %-10s  %s", colorize(colorCyan, t.ID[:8]), t.Status, t.Title)
			if t.DueDate != "" {
				line += colorize(colorYellow, "  (due "+t.DueDate+")")
			}
			fmt.Println(line)
		}
		return nil
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects created from thoughts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects?limit=100")
		if err != nil {
			return err
		}

		var projects []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Status   string `json:"status"`
			Progress int    `json:"progress"`
		}
		if err := decodeJSON(resp, &projects); err != nil {
			return err
		}

		if len(projects) == 0 {
			fmt.Println("No projects found.")
			return nil
		}

		for _, p := range projects {
			fmt.Printf("%s  %-10s  %3d%%  %s\n", colorize(colorCyan, p.ID[:8]), p.Status, p.Progress, p.Title)
		}
		return nil
	},
}

var moodsCmd = &cobra.Command{
	Use:   "moods",
	Short: "List mood entries created from thoughts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/moods?limit=100")
		if err != nil {
			return err
		}

		var moods []struct {
			ID        string `json:"id"`
			Value     int    `json:"value"`
			MoodType  string `json:"mood_type"`
			Note      string `json:"note"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &moods); err != nil {
			return err
		}

		if len(moods) == 0 {
			fmt.Println("No mood entries found.")
			return nil
		}

		for _, m := range moods {
			note := m.Note
			if len(note) > 60 {
				note = note[:60] + "..."
			}
			fmt.Printf("%s  %2d/10  %-14s  %s\n", colorize(colorCyan, m.ID[:8]), m.Value, m.MoodType, note)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
