package reply

// Pattern is a lexical feature detected in an incoming message.
type Pattern string

const (
	PatternQuestion Pattern = "question"
	PatternMeeting  Pattern = "meeting"
	PatternThanks   Pattern = "thanks"
	PatternUrgent   Pattern = "urgent"
	PatternRequest  Pattern = "request"
	PatternGreeting Pattern = "greeting"
)

// Tone selects a template variant bank.
type Tone string

const (
	ToneCasual Tone = "casual"
	ToneFormal Tone = "formal"
)

// patternStrength is the base confidence assigned to a pattern's top
// template. Punctuation-explicit matches rank higher than keyword matches.
var patternStrength = map[Pattern]float64{
	PatternQuestion: 0.90,
	PatternMeeting:  0.85,
	PatternUrgent:   0.85,
	PatternThanks:   0.80,
	PatternRequest:  0.75,
	PatternGreeting: 0.70,
}

// templates holds the per-pattern, per-tone reply banks. Order matters:
// earlier entries get higher confidence.
var templates = map[Pattern]map[Tone][]string{
	PatternQuestion: {
		ToneCasual: {
			"Let me check and get back to you",
			"Good question, give me a minute",
			"Not sure, I'll find out",
		},
		ToneFormal: {
			"Let me look into that and follow up shortly",
			"I will confirm and get back to you",
			"Good question, I'll verify and respond",
		},
	},
	PatternMeeting: {
		ToneCasual: {
			"What time works for you?",
			"Sure, send me an invite",
			"Can we do it a bit later?",
		},
		ToneFormal: {
			"What time would suit you best?",
			"Please send a calendar invite",
			"Could we schedule this for later today?",
		},
	},
	PatternThanks: {
		ToneCasual: {
			"No problem!",
			"Anytime!",
			"Glad to help",
		},
		ToneFormal: {
			"You're welcome",
			"Happy to help",
			"My pleasure",
		},
	},
	PatternUrgent: {
		ToneCasual: {
			"On it now",
			"Looking at it right away",
			"Give me 5 minutes",
		},
		ToneFormal: {
			"I'm on it, will update you shortly",
			"Looking into this immediately",
			"Acknowledged, treating this as a priority",
		},
	},
	PatternRequest: {
		ToneCasual: {
			"Sure, can do",
			"Yep, I'll handle it",
			"Sorry, can't right now",
		},
		ToneFormal: {
			"Certainly, I'll take care of it",
			"Yes, I can do that",
			"I'm afraid I can't at the moment",
		},
	},
	PatternGreeting: {
		ToneCasual: {
			"Hey! What's up?",
			"Hi! How's it going?",
			"Hey there!",
		},
		ToneFormal: {
			"Hello, how can I help?",
			"Hi, good to hear from you",
			"Hello! What can I do for you?",
		},
	},
}

// genericReplies are offered when no pattern matches at all.
var genericReplies = map[Tone][]string{
	ToneCasual: {
		"Got it",
		"Thanks for letting me know",
		"OK, sounds good",
	},
	ToneFormal: {
		"Noted, thank you",
		"Thank you for the update",
		"Understood",
	},
}

// stateReplies reference the recipient's live context explicitly. At least
// one of these is always included by ContextualReplies.
var stateReplies = map[UserState][]string{
	StateDriving: {
		"I'm driving right now, I'll reply when I stop",
		"Driving, will get back to you soon",
	},
	StateMeeting: {
		"I'm in a meeting, I'll respond afterwards",
		"In a meeting right now, will reply shortly",
	},
	StateBusy: {
		"I'm busy at the moment, I'll get back to you",
		"Tied up right now, will respond later",
	},
}

// formalApps force the formal tone. Everything else defaults to casual.
var formalApps = map[string]bool{
	"email":    true,
	"gmail":    true,
	"outlook":  true,
	"teams":    true,
	"slack":    true,
	"linkedin": true,
	"jira":     true,
}
