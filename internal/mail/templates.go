package mail

import (
	"fmt"
	htmltmpl "html/template"
	"strings"
	texttmpl "text/template"

	"github.com/kalenko/taskpilot/internal/task"
)

// Email is a fully rendered outbound message.
type Email struct {
	Subject string
	Text    string
	HTML    string
}

// ReminderItem is one outstanding task inside a consolidated reminder.
type ReminderItem struct {
	Task           task.Record
	ReminderNumber int
}

// ReminderGroups holds consolidated reminder items by escalation level.
type ReminderGroups struct {
	Urgent    []ReminderItem
	Important []ReminderItem
	Gentle    []ReminderItem
}

// Total returns the number of tasks across all levels.
func (g ReminderGroups) Total() int {
	return len(g.Urgent) + len(g.Important) + len(g.Gentle)
}

var tmplFuncs = map[string]any{
	"inc": func(i int) int { return i + 1 },
}

var (
	textTemplates = texttmpl.Must(texttmpl.New("text").Funcs(tmplFuncs).Parse(textTemplateSrc))
	htmlTemplates = htmltmpl.Must(htmltmpl.New("html").Funcs(tmplFuncs).Parse(htmlTemplateSrc))
)

func render(name string, data any) Email {
	var text, html strings.Builder
	// Template data is built locally, so execution cannot fail at runtime.
	if err := textTemplates.ExecuteTemplate(&text, name+"_text", data); err != nil {
		panic(err)
	}
	if err := htmlTemplates.ExecuteTemplate(&html, name+"_html", data); err != nil {
		panic(err)
	}
	return Email{Text: text.String(), HTML: html.String()}
}

type clarificationData struct {
	ReadyCount   int
	PendingCount int
	Questions    string
}

// ClarificationRequest builds the initial "need more details" email for a new
// conversation. The conversation id rides in the subject so replies can be
// correlated.
func ClarificationRequest(questions string, pendingCount, readyCount int, conversationID string) Email {
	e := render("clarification", clarificationData{
		ReadyCount:   readyCount,
		PendingCount: pendingCount,
		Questions:    questions,
	})
	e.Subject = fmt.Sprintf("Task Manager: Need More Details [Context Request: %s]", conversationID)
	return e
}

// Confirmation builds the summary email sent after tasks are filed.
func Confirmation(tasks []task.Record) Email {
	e := render("confirmation", tasks)
	e.Subject = fmt.Sprintf("Task Manager: %d Tasks Processed", len(tasks))
	return e
}

type contextReminderData struct {
	ReminderCount int
	PendingCount  int
	Questions     string
}

// ContextReminder builds the nudge sent when a clarification request has gone
// unanswered.
func ContextReminder(questions string, pendingCount int, conversationID string, reminderCount int) Email {
	e := render("context_reminder", contextReminderData{
		ReminderCount: reminderCount,
		PendingCount:  pendingCount,
		Questions:     questions,
	})
	if reminderCount <= 1 {
		e.Subject = fmt.Sprintf("Reminder: Task Manager Needs More Details [Context Request: %s]", conversationID)
	} else {
		e.Subject = fmt.Sprintf("Reminder #%d: Task Manager Needs More Details [Context Request: %s]", reminderCount, conversationID)
	}
	return e
}

// ConsolidatedReminder builds one reminder email covering all of a user's due
// outstanding tasks, grouped by escalation level. The subject urgency follows
// the highest level present.
func ConsolidatedReminder(g ReminderGroups) Email {
	e := render("task_reminder", g)
	prefix := "Friendly Reminder: "
	if len(g.Urgent) > 0 {
		prefix = "URGENT: "
	} else if len(g.Important) > 0 {
		prefix = "Reminder: "
	}
	e.Subject = fmt.Sprintf("%sTask Reminders - %d Tasks Need Attention", prefix, g.Total())
	return e
}

const textTemplateSrc = `
{{define "clarification_text" -}}
Hello,

{{if gt .ReadyCount 0 -}}
I've successfully processed {{.ReadyCount}} tasks from your email that had all the needed information.

{{end -}}
I found {{.PendingCount}} tasks that could use a bit more detail to make them clearer. Could you please provide more information for the following tasks?

{{.Questions}}

--- How to Reply ---
You can reply to this email with the additional details. Just provide the information naturally - I'll understand your response.

Once you provide the details, I'll process all your tasks and send you a complete summary.

Thank you for using the Task Manager!
{{end}}

{{define "confirmation_text" -}}
Hello,

We've processed your email and extracted {{len .}} tasks:

{{range $i, $t := . -}}
{{inc $i}}. {{$t.DisplayTitle}}
   Status: {{$t.Status}} - Category: {{$t.Category}}

{{end -}}
Thank you for using the Task Manager!
{{end}}

{{define "context_reminder_text" -}}
Hello,

{{if le .ReminderCount 1 -}}
I sent you a request for more details about {{.PendingCount}} tasks, but I haven't received your response yet.
{{else -}}
This is reminder #{{.ReminderCount}} - I'm still waiting for more details about {{.PendingCount}} tasks.
{{end}}
Here are the tasks that need clarification:

{{.Questions}}

--- How to Reply ---
You can reply to this email with the additional details. Just provide the information naturally - I'll understand your response.

Thank you for using the Task Manager!
{{end}}

{{define "reminder_items_text" -}}
{{range $i, $item := . -}}
{{inc $i}}. {{$item.Task.DisplayTitle}}
{{- if $item.Task.Description}}
   Description: {{$item.Task.Description}}{{end}}
{{- if $item.Task.Priority}}
   Priority: {{$item.Task.Priority}}{{end}}
{{- if $item.Task.DueDate}}
   Due Date: {{$item.Task.DueDate}}{{end}}
   Reminder #{{$item.ReminderNumber}}

{{end -}}
{{end}}

{{define "task_reminder_text" -}}
Hello,

{{if .Urgent -}}
This is an URGENT reminder about {{.Total}} outstanding tasks that require your immediate attention:
{{else if .Important -}}
This is an important reminder about {{.Total}} outstanding tasks:
{{else -}}
This is a friendly reminder about {{.Total}} outstanding tasks:
{{end}}
{{if .Urgent -}}
--- URGENT PRIORITY ({{len .Urgent}} tasks) ---

{{template "reminder_items_text" .Urgent}}
{{- end -}}
{{if .Important -}}
--- IMPORTANT PRIORITY ({{len .Important}} tasks) ---

{{template "reminder_items_text" .Important}}
{{- end -}}
{{if .Gentle -}}
--- GENTLE PRIORITY ({{len .Gentle}} tasks) ---

{{template "reminder_items_text" .Gentle}}
{{- end}}
Please update the status of these tasks in your task management system.

Thank you for your attention to these matters.
{{end}}
`

const htmlTemplateSrc = `
{{define "clarification_html" -}}
<html><body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="background-color: #ffc107; color: #333; padding: 20px; text-align: center;"><h2>Task Manager: Need More Details</h2></div>
<div style="padding: 20px;">
{{if gt .ReadyCount 0}}<div style="padding: 15px; background-color: #d4edda; border-left: 4px solid #28a745;"><strong>Successfully Processed {{.ReadyCount}} Tasks</strong></div>{{end}}
<p>I found <strong>{{.PendingCount}} tasks</strong> that could use a bit more detail. Could you please provide more information for the following tasks?</p>
<pre style="background-color: #fff3cd; padding: 15px; white-space: pre-wrap;">{{.Questions}}</pre>
<p>You can reply to this email with the additional details. Just provide the information naturally.</p>
</div></body></html>
{{- end}}

{{define "confirmation_html" -}}
<html><body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="background-color: #28a745; color: white; padding: 20px; text-align: center;"><h2>Task Manager: {{len .}} Tasks Processed</h2></div>
<div style="padding: 20px;"><ol>
{{range . -}}
<li style="margin-bottom: 10px;"><strong>{{.DisplayTitle}}</strong><br>Status: {{.Status}} - Category: {{.Category}}</li>
{{end -}}
</ol></div></body></html>
{{- end}}

{{define "context_reminder_html" -}}
<html><body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="background-color: #ff6b35; color: white; padding: 20px; text-align: center;"><h2>Task Manager: Still Need More Details</h2></div>
<div style="padding: 20px;">
{{if gt .ReminderCount 1}}<div style="padding: 15px; background-color: #f8d7da; border-left: 4px solid #dc3545;"><strong>Reminder #{{.ReminderCount}}</strong></div>{{end}}
<p>I'm still waiting for more details about <strong>{{.PendingCount}} tasks</strong>:</p>
<pre style="background-color: #fff3cd; padding: 15px; white-space: pre-wrap;">{{.Questions}}</pre>
</div></body></html>
{{- end}}

{{define "reminder_items_html" -}}
<ol>
{{range . -}}
<li style="margin-bottom: 10px;"><strong>{{.Task.DisplayTitle}}</strong>{{if .Task.Description}}<br>Description: {{.Task.Description}}{{end}}{{if .Task.Priority}}<br>Priority: {{.Task.Priority}}{{end}}{{if .Task.DueDate}}<br>Due Date: {{.Task.DueDate}}{{end}}<br>Reminder #{{.ReminderNumber}}</li>
{{end -}}
</ol>
{{- end}}

{{define "task_reminder_html" -}}
<html><body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="background-color: {{if .Urgent}}#dc3545{{else if .Important}}#ffc107{{else}}#17a2b8{{end}}; color: white; padding: 20px; text-align: center;"><h2>Task Reminders: {{.Total}} Tasks Need Attention</h2></div>
<div style="padding: 20px;">
{{if .Urgent}}<h3 style="color: #dc3545;">URGENT PRIORITY ({{len .Urgent}} tasks)</h3>{{template "reminder_items_html" .Urgent}}{{end}}
{{if .Important}}<h3 style="color: #b8860b;">IMPORTANT PRIORITY ({{len .Important}} tasks)</h3>{{template "reminder_items_html" .Important}}{{end}}
{{if .Gentle}}<h3 style="color: #17a2b8;">GENTLE PRIORITY ({{len .Gentle}} tasks)</h3>{{template "reminder_items_html" .Gentle}}{{end}}
<p>Please update the status of these tasks in your task management system.</p>
</div></body></html>
{{- end}}
`
