package helpers

// Fallbacks are the user-facing messages shown when part of the loop degrades.
var Fallbacks = map[string]string{
	"recommend":      "No recommendations right now. Try another track.",
	"expand":         "Looking for more tracks like the ones you liked.",
	"empty":          "You've seen everything for now. Pick a new seed track.",
	"reauth":         "Your Spotify session expired. Log in again.",
	"playlist":       "Added to your likes playlist.",
	"login":          "Could not log in with Spotify.",
	"refresh":        "Could not refresh your Spotify session.",
	"bad_request":    "That request was missing something.",
	"not_found":      "That session no longer exists.",
	"ai_unavailable": "No AI suggestions available right now.",
}

// FallbackMessage returns the message for key, or a generic one.
func FallbackMessage(key string) string {
	if msg, ok := Fallbacks[key]; ok {
		return msg
	}
	return "Something went wrong. Try again."
}
