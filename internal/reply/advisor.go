// Package reply generates ranked quick-reply suggestions for a displayed
// message. It is an independent utility: the presentation layer calls it on
// demand, never the pipeline.
package reply

import (
	"strings"

	"notiq/internal/notification"
	"notiq/pkg/logx"
)

// UserState is the recipient's live context used by ContextualReplies.
type UserState string

const (
	StateDriving UserState = "driving"
	StateMeeting UserState = "meeting"
	StateBusy    UserState = "busy"
)

const maxSuggestions = 5

var questionWords = []string{"what", "when", "where", "who", "how", "why", "which"}
var meetingWords = []string{"meeting", "zoom", "call", "meet", "schedule", "calendar", "appointment"}
var thanksWords = []string{"thank", "thanks", "thx", "appreciate"}
var urgentWords = []string{"urgent", "asap", "emergency", "critical", "immediately"}
var requestWords = []string{"can you", "could you", "would you", "please", "do you mind"}
var greetingWords = []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening"}

var positiveWords = []string{"yes", "sure", "sounds good", "can do", "certainly", "happy to", "glad to", "anytime", "no problem", "on it", "welcome", "pleasure", "acknowledged"}
var negativeWords = []string{"sorry", "can't", "cannot", "busy", "afraid", "unfortunately", "tied up", "driving", "in a meeting"}
var ackWords = []string{"thanks", "thank you", "got it", "noted", "ok", "okay", "understood"}

// Advisor produces quick-reply suggestions. Stateless; safe for concurrent use.
type Advisor struct {
	log logx.Logger
}

func New(log logx.Logger) *Advisor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Advisor{log: log}
}

// DetectPatterns extracts lexical features from a message. Detection is
// fixed keyword/punctuation rules; order in the result is the rule order.
func (a *Advisor) DetectPatterns(message string) []Pattern {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return nil
	}

	var out []Pattern
	add := func(p Pattern) { out = append(out, p) }

	if strings.HasSuffix(text, "?") || startsWithAny(text, questionWords) {
		add(PatternQuestion)
	}
	if containsAny(text, meetingWords) {
		add(PatternMeeting)
	}
	if containsAny(text, urgentWords) {
		add(PatternUrgent)
	}
	if containsAny(text, thanksWords) {
		add(PatternThanks)
	}
	if containsAny(text, requestWords) {
		add(PatternRequest)
	}
	if startsWithAny(text, greetingWords) {
		add(PatternGreeting)
	}
	return out
}

// GenerateReplies produces 1 to 5 unique suggestions for the message, toned
// by the sending app, each with a confidence in [0,1] proportional to the
// pattern-match strength.
func (a *Advisor) GenerateReplies(message, sender, appName string) []notification.ReplySuggestion {
	_ = sender
	tone := toneFor(appName)
	patterns := a.DetectPatterns(message)

	var out []notification.ReplySuggestion
	seen := map[string]bool{}

	appendBank := func(bank []string, base float64) {
		for i, text := range bank {
			if seen[text] {
				continue
			}
			conf := base - 0.05*float64(i)
			if conf < 0 {
				conf = 0
			}
			seen[text] = true
			out = append(out, notification.ReplySuggestion{
				Text:       text,
				Type:       a.ClassifyReplyType(text),
				Confidence: conf,
			})
		}
	}

	for _, p := range patterns {
		appendBank(templates[p][tone], patternStrength[p])
	}
	if len(out) == 0 {
		appendBank(genericReplies[tone], 0.40)
	}

	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	a.log.Debug("generated replies",
		logx.String("app", appName),
		logx.Int("patterns", len(patterns)),
		logx.Int("suggestions", len(out)))
	return out
}

// ClassifyReplyType tags a reply text by intent.
func (a *Advisor) ClassifyReplyType(text string) notification.ReplyType {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(t, "?"):
		return notification.ReplyQuestion
	case matchesLexicon(t, positiveWords):
		return notification.ReplyPositive
	case matchesLexicon(t, negativeWords):
		return notification.ReplyNegative
	case matchesLexicon(t, ackWords):
		return notification.ReplyAcknowledgment
	default:
		return notification.ReplyInformative
	}
}

// matchesLexicon matches phrases by containment and single words by whole
// word, so "ok" never matches inside "looking".
func matchesLexicon(text string, words []string) bool {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == ';' || r == ':'
	})
	for _, w := range words {
		if strings.ContainsRune(w, ' ') {
			if strings.Contains(text, w) {
				return true
			}
			continue
		}
		for _, f := range fields {
			if f == w {
				return true
			}
		}
	}
	return false
}

// ContextualReplies is GenerateReplies adjusted by the recipient's live
// state. At least one suggestion explicitly references the state.
func (a *Advisor) ContextualReplies(state UserState, message, sender string) []notification.ReplySuggestion {
	out := []notification.ReplySuggestion{}
	seen := map[string]bool{}

	for i, text := range stateReplies[state] {
		if seen[text] {
			continue
		}
		seen[text] = true
		out = append(out, notification.ReplySuggestion{
			Text:       text,
			Type:       a.ClassifyReplyType(text),
			Confidence: 0.95 - 0.05*float64(i),
		})
	}

	for _, s := range a.GenerateReplies(message, sender, "") {
		if len(out) >= maxSuggestions {
			break
		}
		if seen[s.Text] {
			continue
		}
		seen[s.Text] = true
		out = append(out, s)
	}

	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

func toneFor(appName string) Tone {
	if formalApps[strings.ToLower(strings.TrimSpace(appName))] {
		return ToneFormal
	}
	return ToneCasual
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func startsWithAny(text string, words []string) bool {
	for _, w := range words {
		if strings.HasPrefix(text, w+" ") || text == w {
			return true
		}
	}
	return false
}
