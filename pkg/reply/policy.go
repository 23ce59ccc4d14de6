// Package reply picks the honeypot's engagement utterance for a classified message.
//
// Replies are chosen from an ordered decision list. Every reply stays in character
// as a cooperative but slightly inept victim and steers the sender toward disclosing
// a payment identifier or bank details.
package reply

import (
	"strings"
	"unicode"

	"github.com/harun/honeypot/pkg/classifier"
)

// NeutralReply is returned for messages not classified as a scam.
const NeutralReply = "Hello. Can you explain your issue clearly?"

// shortMessageWords is the largest word count treated as a terse message.
const shortMessageWords = 3

// Shape describes the conversation at the moment a reply is chosen. The inbound
// message being answered is already counted.
type Shape struct {
	Turns        int `json:"turns"`
	ScammerTurns int `json:"scammer_turns"`
	AgentTurns   int `json:"agent_turns"`
}

// Input is everything a rule may look at.
type Input struct {
	ScamType classifier.ScamType
	Text     string
	Shape    Shape
}

// Rule is one entry of the decision list.
type Rule struct {
	Name  string
	Match func(in Input) bool
	Reply string
}

var greetingWords = map[string]bool{
	"hi":      true,
	"hii":     true,
	"hello":   true,
	"hey":     true,
	"namaste": true,
	"hola":    true,
}

var greetingPhrases = []string{"good morning", "good afternoon", "good evening"}

var rules = []Rule{
	{
		Name:  "quishing",
		Match: isType(classifier.Quishing),
		Reply: "I tried scanning the QR but it is not working. " +
			"Please send your UPI ID or payment link directly.",
	},
	{
		Name:  "vishing",
		Match: isType(classifier.Vishing),
		Reply: "I cannot talk on call right now. " +
			"Kindly send your bank account number + IFSC or UPI ID here.",
	},
	{
		Name:  "smishing",
		Match: isType(classifier.Smishing),
		Reply: "The SMS link is not opening on my phone. " +
			"Please resend the full link and also share your UPI ID.",
	},
	{
		Name:  "link",
		Match: textContains("link", "click"),
		Reply: "The link is not opening properly on my side. " +
			"Can you resend the correct link and your UPI ID?",
	},
	{
		Name:  "otp",
		Match: textContains("otp"),
		Reply: "OTP not received correctly. " +
			"Meanwhile please share your UPI ID or bank account + IFSC.",
	},
	{
		Name: "greeting",
		Match: func(in Input) bool {
			return in.Shape.ScammerTurns <= 1 && isGreeting(in.Text)
		},
		Reply: "Hello! Yes, I got your message. Who is this and how can I help you?",
	},
	{
		Name: "short",
		Match: func(in Input) bool {
			return len(strings.Fields(in.Text)) <= shortMessageWords
		},
		Reply: "Sorry, I did not understand. Can you explain in detail what I need to do?",
	},
	{
		Name:  "verification",
		Match: func(Input) bool { return true },
		Reply: "Okay, I am ready to complete this, but my bank asks me to verify the receiver first. " +
			"Please share your UPI ID, or the bank account number with IFSC code.",
	},
}

// Rules returns a copy of the ordered decision list.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Choose evaluates the decision list top to bottom and returns the name and text
// of the first matching rule. The final rule always matches.
func Choose(in Input) (string, string) {
	for _, r := range rules {
		if r.Match(in) {
			return r.Name, r.Reply
		}
	}
	last := rules[len(rules)-1]
	return last.Name, last.Reply
}

// Reply returns only the utterance chosen for the given type, text and shape.
func Reply(scamType classifier.ScamType, text string, shape Shape) string {
	_, r := Choose(Input{ScamType: scamType, Text: text, Shape: shape})
	return r
}

func isType(t classifier.ScamType) func(Input) bool {
	return func(in Input) bool { return in.ScamType == t }
}

func textContains(cues ...string) func(Input) bool {
	return func(in Input) bool {
		msg := strings.ToLower(in.Text)
		for _, c := range cues {
			if strings.Contains(msg, c) {
				return true
			}
		}
		return false
	}
}

func isGreeting(text string) bool {
	msg := strings.ToLower(text)
	for _, p := range greetingPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	words := strings.FieldsFunc(msg, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if greetingWords[w] {
			return true
		}
	}
	return false
}
