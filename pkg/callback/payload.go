package callback

import (
	"fmt"
	"strings"

	"github.com/harun/honeypot/pkg/honeypot"
	"github.com/harun/honeypot/pkg/indicator"
)

// Payload is the JSON body posted to the reporting endpoint.
type Payload struct {
	SessionID              string        `json:"sessionId"`
	ScamDetected           bool          `json:"scamDetected"`
	ScamType               string        `json:"scamType"`
	Confidence             float64       `json:"confidence"`
	TotalMessagesExchanged int           `json:"totalMessagesExchanged"`
	ExtractedIntelligence  indicator.Set `json:"extractedIntelligence"`
	AgentNotes             string        `json:"agentNotes"`
}

// PayloadFromReport builds the delivery body for a scam report.
func PayloadFromReport(r honeypot.Report) Payload {
	return Payload{
		SessionID:              r.SessionKey,
		ScamDetected:           true,
		ScamType:               string(r.ScamType),
		Confidence:             r.Confidence,
		TotalMessagesExchanged: r.TotalMessages,
		ExtractedIntelligence:  r.Indicators.Clone(),
		AgentNotes:             agentNotes(r),
	}
}

func agentNotes(r honeypot.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s suspected (confidence %.2f)", r.ScamType, r.Confidence)
	if len(r.Matched) > 0 {
		fmt.Fprintf(&b, "; cues: %s", strings.Join(r.Matched, ", "))
	}
	if r.ReplyRule != "" {
		fmt.Fprintf(&b, "; engaged with %s reply", r.ReplyRule)
	}
	fmt.Fprintf(&b, "; %d indicators collected", r.Indicators.Count())
	return b.String()
}

// fingerprint identifies a payload's intelligence content. Two reports for the
// same session with the same type and indicators share a fingerprint.
func (p Payload) fingerprint() string {
	ind := p.ExtractedIntelligence
	parts := []string{
		p.SessionID,
		p.ScamType,
		strings.Join(ind.UPIIDs, ","),
		strings.Join(ind.BankAccounts, ","),
		strings.Join(ind.IFSCCodes, ","),
		strings.Join(ind.PhoneNumbers, ","),
		strings.Join(ind.PhishingLinks, ","),
	}
	return strings.Join(parts, "|")
}
