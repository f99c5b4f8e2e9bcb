package summary

import (
	"fmt"
	"strings"

	"outbound-dialer/internal/calls"
)

const systemInstruction = "You summarize outbound phone call transcripts. Respond with a single JSON object and nothing else."

const responseShape = `Return JSON with exactly these fields:
{
  "summary": string,
  "key_points": [string],
  "health_metrics": {string: any},
  "concerning_flags": [string],
  "confidence_score": number between 0 and 1
}`

// buildPrompt selects the instructions for the kind of contact that was called.
func buildPrompt(in Input) string {
	var b strings.Builder
	switch in.Target.Kind {
	case calls.TargetPatient:
		b.WriteString("This is a follow-up call between a care assistant and a patient.\n")
		b.WriteString("Summarize the patient's reported condition. Put symptoms, medication adherence, pain levels and vitals the patient mentions into health_metrics. ")
		b.WriteString("List anything a clinician should review urgently in concerning_flags.\n")
	case calls.TargetLead:
		b.WriteString("This is a qualification call between an assistant and a prospective customer.\n")
		b.WriteString("Summarize interest level, needs and next steps. Put qualification details such as budget, timeline and decision maker into health_metrics. ")
		b.WriteString("List objections or compliance issues in concerning_flags.\n")
	default:
		b.WriteString("Summarize this phone call.\n")
	}
	if in.TargetName != "" {
		fmt.Fprintf(&b, "Contact name: %s\n", in.TargetName)
	}
	b.WriteString(responseShape)
	b.WriteString("\n\nTranscript:\n")
	b.WriteString(in.Transcript)
	return b.String()
}
