package flow

import (
	"regexp"
	"strings"
)

// EmailTemplate is a canned email with {{placeholder}} variables. The email
// flow collects a value for every placeholder before sending.
type EmailTemplate struct {
	ID      string
	Title   string
	Subject string
	Body    string
}

// Template identifiers.
const (
	TemplateAttendanceFollowup = "attendance_followup"
	TemplatePolicyReminder     = "policy_reminder"
)

var builtinTemplates = []EmailTemplate{
	{
		ID:      TemplateAttendanceFollowup,
		Title:   "attendance follow-up",
		Subject: "Follow-up on recent attendance",
		Body: `Hi {{employee_name}},

I noticed you were absent on {{dates}} and we haven't been able to connect about it. I'd like to understand what happened and see whether there's anything we can do to support you.

Please get back to me by {{reply_by}} so we can find a time to talk.

Best,
{{manager_name}}`,
	},
	{
		ID:      TemplatePolicyReminder,
		Title:   "policy reminder",
		Subject: "Reminder: {{policy_name}}",
		Body: `Hi {{employee_name}},

This is a reminder about our {{policy_name}} policy. Please take a few minutes to review it and make sure your records are up to date.

If anything in the policy is unclear, I'm happy to walk through it with you.

Best,
{{manager_name}}`,
	},
}

var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// TemplateByID returns the built-in template with the given id.
func TemplateByID(id string) (EmailTemplate, bool) {
	for _, t := range builtinTemplates {
		if t.ID == id {
			return t, true
		}
	}
	return EmailTemplate{}, false
}

// ChooseTemplate picks the template that best matches the assistant response
// that triggered the email flow. Attendance follow-up is the default because
// it is the dominant use case.
func ChooseTemplate(responseText string) EmailTemplate {
	lower := strings.ToLower(responseText)
	if strings.Contains(lower, "policy") && !strings.Contains(lower, "attendance") {
		t, _ := TemplateByID(TemplatePolicyReminder)
		return t
	}
	t, _ := TemplateByID(TemplateAttendanceFollowup)
	return t
}

// ExtractPlaceholders returns the placeholder names in text, in order of
// first appearance, deduplicated.
func ExtractPlaceholders(text string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// RenderTemplate substitutes collected variables into text. Placeholders
// without a value are left verbatim so a half-rendered preview is visibly
// incomplete rather than silently blank.
func RenderTemplate(text string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok && v != "" {
			return v
		}
		return m
	})
}

// humanizeVariable turns a placeholder name into prompt-friendly words.
func humanizeVariable(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
