// Package classifier scores inbound text against a fixed scam lexicon and resolves
// the delivery channel of the scam (QR, voice, SMS, link).
//
// Usage:
//
//	res := classifier.Classify("Scan the QR to receive your refund")
//	// res.IsScam == true, res.ScamType == classifier.Quishing, res.Confidence == 0.6
package classifier

import (
	"math"
	"strings"
)

// ScamType is the resolved scam channel.
type ScamType string

const (
	Quishing ScamType = "Quishing"
	Vishing  ScamType = "Vishing"
	Smishing ScamType = "Smishing"
	Phishing ScamType = "Phishing"
	Unknown  ScamType = "Unknown Scam"
)

// Tag groups lexicon phrases by the kind of scam they hint at.
type Tag string

const (
	TagPhishing Tag = "phishing"
	TagSmishing Tag = "smishing"
	TagVishing  Tag = "vishing"
	TagQuishing Tag = "quishing"
	TagPayment  Tag = "payment"
)

const (
	baseConfidence = 0.30
	perMatchWeight = 0.10
	maxConfidence  = 0.95
)

// Phrase is one lexicon entry.
type Phrase struct {
	Text string
	Tag  Tag
}

// TypeRule maps a set of cues to a scam type. Rules are evaluated in order and the
// first rule with any cue present in the text wins.
type TypeRule struct {
	Type ScamType
	Cues []string
}

// Result is the outcome of classifying one message.
type Result struct {
	IsScam     bool     `json:"is_scam"`
	Confidence float64  `json:"confidence"`
	ScamType   ScamType `json:"scam_type"`
	Matched    []string `json:"matched,omitempty"`
}

var lexicon = []Phrase{
	{"verify", TagPhishing},
	{"click", TagPhishing},
	{"link", TagPhishing},
	{"blocked", TagPhishing},
	{"urgent", TagPhishing},
	{"otp", TagPhishing},
	{"kyc", TagPhishing},

	{"sms", TagSmishing},
	{"text message", TagSmishing},
	{"sent you", TagSmishing},

	{"call", TagVishing},
	{"customer care", TagVishing},
	{"helpline", TagVishing},
	{"bank officer", TagVishing},

	{"qr", TagQuishing},
	{"scan", TagQuishing},
	{"qr code", TagQuishing},

	{"upi", TagPayment},
	{"pay", TagPayment},
	{"refund", TagPayment},
	{"account", TagPayment},
}

// Quishing outranks vishing outranks smishing outranks phishing.
var typeRules = []TypeRule{
	{Type: Quishing, Cues: []string{"qr", "scan"}},
	{Type: Vishing, Cues: []string{"call", "customer care", "helpline"}},
	{Type: Smishing, Cues: []string{"sms", "text message"}},
	{Type: Phishing, Cues: []string{"link", "click"}},
}

// Lexicon returns a copy of the scoring lexicon.
func Lexicon() []Phrase {
	out := make([]Phrase, len(lexicon))
	copy(out, lexicon)
	return out
}

// TypeRules returns a copy of the ordered type-resolution rules.
func TypeRules() []TypeRule {
	out := make([]TypeRule, len(typeRules))
	for i, r := range typeRules {
		out[i] = TypeRule{Type: r.Type, Cues: append([]string(nil), r.Cues...)}
	}
	return out
}

// Classify scores text and resolves its scam type. It is a pure function of text.
func Classify(text string) Result {
	msg := strings.ToLower(text)

	var matched []string
	for _, p := range lexicon {
		if strings.Contains(msg, p.Text) {
			matched = append(matched, p.Text)
		}
	}

	return Result{
		IsScam:     len(matched) >= 1,
		Confidence: Confidence(len(matched)),
		ScamType:   resolveType(msg),
		Matched:    matched,
	}
}

// Confidence maps a match count to a confidence in [0.30, 0.95], rounded to two
// decimals.
func Confidence(score int) float64 {
	c := math.Min(maxConfidence, baseConfidence+perMatchWeight*float64(score))
	return math.Round(c*100) / 100
}

func resolveType(msg string) ScamType {
	for _, rule := range typeRules {
		for _, cue := range rule.Cues {
			if strings.Contains(msg, cue) {
				return rule.Type
			}
		}
	}
	return Unknown
}
