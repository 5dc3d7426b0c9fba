package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalenko/taskpilot/internal/config"
)

// --- message ---

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Inject an inbound email into the processing queue",
	Long: `Inject an inbound email into the processing queue.

The message is picked up on the next processing pass, or immediately
when combined with "taskpilot pass".

Examples:
  taskpilot message --from jane@example.com --subject "Updates" --text "Finished the audit report"
  taskpilot message --from jane@example.com --file ./email.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		subject, _ := cmd.Flags().GetString("subject")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")

		if from == "" {
			return fmt.Errorf("--from is required")
		}
		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"from":      from,
			"subject":   subject,
			"text_body": text,
		}
		resp, err := client.post(cmd.Context(), "/messages", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued message %s", result["message_id"])
		return nil
	},
}

func init() {
	messageCmd.Flags().String("from", "", "sender email address")
	messageCmd.Flags().String("subject", "", "message subject")
	messageCmd.Flags().String("text", "", "message body text")
	messageCmd.Flags().String("file", "", "file containing the message body")
}

// --- pass ---

var passCmd = &cobra.Command{
	Use:   "pass",
	Short: "Run one processing pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("running processing pass...")
		resp, err := client.post(cmd.Context(), "/pass", nil)
		if err != nil {
			return err
		}

		var report struct {
			ContextReminders int `json:"context_reminders"`
			TaskReminders    int `json:"task_reminders"`
			TasksUntracked   int `json:"tasks_untracked"`
			Results          []struct {
				MessageID      string `json:"message_id"`
				Sender         string `json:"sender"`
				Outcome        string `json:"outcome"`
				TasksExtracted int    `json:"tasks_extracted"`
				Error          string `json:"error"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printSuccess("Pass complete")
		printStatus("Context reminders", "%d", report.ContextReminders)
		printStatus("Task reminders", "%d", report.TaskReminders)
		printStatus("Tasks untracked", "%d", report.TasksUntracked)
		printStatus("Messages", "%d", len(report.Results))
		for _, r := range report.Results {
			line := fmt.Sprintf("%s from %s: %s", r.MessageID, r.Sender, r.Outcome)
			if r.TasksExtracted > 0 {
				line += fmt.Sprintf(" (%d tasks)", r.TasksExtracted)
			}
			if r.Error != "" {
				line += " error: " + r.Error
			}
			fmt.Fprintf(os.Stderr, "    %s\n", line)
		}
		return nil
	},
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List open clarification conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/conversations")
		if err != nil {
			return err
		}

		var result struct {
			Conversations []struct {
				ID                 string     `json:"conversation_id"`
				UserEmail          string     `json:"user_email"`
				ReadyTasks         int        `json:"ready_tasks"`
				ContextNeededTasks int        `json:"context_needed_tasks"`
				CreatedAt          time.Time  `json:"created_at"`
				LastReminderSent   *time.Time `json:"last_reminder_sent"`
				ReminderCount      int        `json:"reminder_count"`
			} `json:"conversations"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Conversations) == 0 {
			fmt.Println("no open conversations")
			return nil
		}

		for _, c := range result.Conversations {
			fmt.Printf("%s  %s\n", colorize(colorBold, c.ID), c.UserEmail)
			fmt.Printf("    awaiting context for %d task(s), %d reminder(s) sent, opened %s\n",
				c.ContextNeededTasks, c.ReminderCount, c.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List outstanding tasks tracked for reminders",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/outstanding-tasks")
		if err != nil {
			return err
		}

		var result struct {
			Tasks []struct {
				ID            string `json:"task_id"`
				UserEmail     string `json:"user_email"`
				Title         string `json:"title"`
				Status        string `json:"status"`
				ReminderCount int    `json:"reminder_count"`
			} `json:"outstanding_tasks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Tasks) == 0 {
			fmt.Println("no outstanding tasks")
			return nil
		}

		for _, t := range result.Tasks {
			fmt.Printf("%s  %s (%s)\n", colorize(colorBold, t.Title), t.UserEmail, t.Status)
			fmt.Printf("    %d reminder(s) sent\n", t.ReminderCount)
		}
		return nil
	},
}

// --- archive ---

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Show recently processed messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/archive/recent?limit=%d", limit))
		if err != nil {
			return err
		}

		var result struct {
			Entries []struct {
				ID             string    `json:"id"`
				Sender         string    `json:"sender"`
				Subject        string    `json:"subject"`
				Outcome        string    `json:"outcome"`
				TasksExtracted int       `json:"tasks_extracted"`
				ProcessedAt    time.Time `json:"processed_at"`
			} `json:"entries"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Entries) == 0 {
			fmt.Println("no processed messages")
			return nil
		}

		for _, e := range result.Entries {
			fmt.Printf("%s  %s  %s\n", e.ProcessedAt.Format("2006-01-02 15:04"), colorize(colorBold, e.Outcome), e.Sender)
			if e.Subject != "" {
				fmt.Printf("    %s\n", e.Subject)
			}
		}
		return nil
	},
}

func init() {
	archiveCmd.Flags().Int("limit", 20, "maximum number of entries to show")
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
