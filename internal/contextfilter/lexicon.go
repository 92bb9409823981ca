package contextfilter

// Lexicons used by Analyze. Matching is case-insensitive substring matching;
// multi-word phrases must appear verbatim.

// strongUrgencyTokens escalate an urgent match to CRITICAL on their own.
var strongUrgencyTokens = []string{
	"urgent",
	"emergency",
	"critical",
	"asap",
}

// urgentTokens mark a message as urgent (HIGH unless a strong token or the
// event's explicit critical flag escalates it).
var urgentTokens = []string{
	"alert",
	"deadline",
	"important",
	"immediately",
	"right away",
}

// timeSensitivePhrases indicate an imminent event.
var timeSensitivePhrases = []string{
	"starts in",
	"due in",
	"expires in",
	"meeting in",
	"leaving in",
	"closes in",
}

var spamTokens = []string{
	"unsubscribe",
	"promotional offer",
	"limited time offer",
	"special offer",
	"flash sale",
	"discount code",
	"free gift",
	"you have won",
	"claim your prize",
}

// AppCategory is a coarse grouping of sending apps.
type AppCategory string

const (
	CategoryWork          AppCategory = "work"
	CategorySocial        AppCategory = "social"
	CategoryEntertainment AppCategory = "entertainment"
	CategoryUtility       AppCategory = "utility"
)

// defaultAppCategories maps well-known app identifiers to a category.
// Lookup is by lowercase app name; unknown apps fall back to utility.
var defaultAppCategories = map[string]AppCategory{
	"slack":      CategoryWork,
	"teams":      CategoryWork,
	"outlook":    CategoryWork,
	"gmail":      CategoryWork,
	"email":      CategoryWork,
	"jira":       CategoryWork,
	"pagerduty":  CategoryWork,
	"opsgenie":   CategoryWork,
	"calendar":   CategoryWork,
	"zoom":       CategoryWork,
	"whatsapp":   CategorySocial,
	"telegram":   CategorySocial,
	"messenger":  CategorySocial,
	"instagram":  CategorySocial,
	"facebook":   CategorySocial,
	"twitter":    CategorySocial,
	"x":          CategorySocial,
	"snapchat":   CategorySocial,
	"discord":    CategorySocial,
	"youtube":    CategoryEntertainment,
	"netflix":    CategoryEntertainment,
	"spotify":    CategoryEntertainment,
	"tiktok":     CategoryEntertainment,
	"twitch":     CategoryEntertainment,
	"steam":      CategoryEntertainment,
	"bank":       CategoryUtility,
	"maps":       CategoryUtility,
	"weather":    CategoryUtility,
	"uber":       CategoryUtility,
	"deliveroo":  CategoryUtility,
	"smart_home": CategoryUtility,
}
