// Package intent provides calendar and email intent detection for assistant
// responses.
//
// Detection is two-tiered: a fast lexical tier over curated phrase tables,
// and an optional model-assisted tier for phrasing the lexical tier cannot
// confidently classify. The phrase tables below are tuned empirically; new
// natural-language phrasings are handled by extending the tables, not by
// adding inline conditionals.
package intent

import "github.com/BTreeMap/PolicyPal/internal/models"

// calendarTriggerPhrases are high-confidence cues that the assistant is
// offering to schedule a call with the employee.
var calendarTriggerPhrases = []string{
	"schedule a call",
	"schedule that call",
	"schedule the call",
	"schedule a meeting",
	"book a call",
	"book a meeting",
	"set up a call",
	"set up a meeting",
	"call the employee",
	"give them a call",
	"phone call with",
	"schedule a phone",
	"arrange a call",
	"schedule a conversation",
}

// emailTriggerPhrases are high-confidence cues that the assistant is offering
// to send written communication to the employee.
var emailTriggerPhrases = []string{
	"send an email",
	"send the email",
	"send them an email",
	"draft an email",
	"draft the email",
	"write an email",
	"email the employee",
	"send a follow-up email",
	"send a written",
	"put it in writing",
	"compose an email",
	"prepare an email",
}

// calendarSoftCues suggest a call without committing to one. A soft cue alone
// is ambiguous and routes to the model tier.
var calendarSoftCues = []string{
	"connect with them by phone",
	"reach out by phone",
	"speak with them",
	"talk to them directly",
	"get in touch with them",
	"a quick chat",
	"talk it through with them",
}

// emailSoftCues suggest written follow-up without committing to one.
var emailSoftCues = []string{
	"follow up in writing",
	"document this in writing",
	"written notice",
	"written communication",
	"reach out in writing",
	"a written record",
}

// disqualifierPatterns veto a lexical trigger match. Each pattern captures a
// policy decision: past-tense references to a completed action, questions
// about past action, negated or deferred instructions, and situations where
// the employee is expected to contact the manager.
var disqualifierPatterns = []string{
	// already-completed action
	"already called",
	"already emailed",
	"already sent",
	"already reached out",
	"already contacted",
	"since you called",
	"since you emailed",
	"since you contacted",
	"you've called",
	"you've emailed",
	"you have called",
	"you have emailed",
	// questions about past action
	"have you tried",
	"have you called",
	"have you emailed",
	"have you reached",
	"have you contacted",
	"did you call",
	"did you email",
	"did you reach",
	"did you contact",
	// negated or deferred instruction
	"don't call",
	"do not call",
	"don't email",
	"do not email",
	"don't send",
	"do not send",
	"wait before calling",
	"wait before emailing",
	"wait before sending",
	"hold off on calling",
	"hold off on emailing",
	"hold off on sending",
	"avoid calling",
	"avoid emailing",
	"not yet time to call",
	"before you call",
	"before you email",
	// employee-to-manager direction
	"wait for them to call",
	"wait for them to contact",
	"wait for them to reach",
	"let them contact you",
	"let them reach out",
	"they should contact you",
	"they will contact you",
	"expect them to call",
	"expect a call from them",
}

// TriggerPhrases returns the curated trigger phrase list for a flow type.
// The trigger guard's keyword stage matches against the same table.
func TriggerPhrases(flowType models.FlowType) []string {
	switch flowType {
	case models.FlowTypeCalendar:
		return calendarTriggerPhrases
	case models.FlowTypeEmail:
		return emailTriggerPhrases
	default:
		return nil
	}
}

// softCues returns the ambiguous-cue list for a flow type.
func softCues(flowType models.FlowType) []string {
	switch flowType {
	case models.FlowTypeCalendar:
		return calendarSoftCues
	case models.FlowTypeEmail:
		return emailSoftCues
	default:
		return nil
	}
}
