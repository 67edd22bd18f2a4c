package provider

// ErrorKind is the common provider error taxonomy. Transient kinds
// surface a "try another model" message; terminal kinds a generic
// failure. Neither is auto-retried within a request.
type ErrorKind int

const (
	// KindUnknown covers unclassified failures; treated as terminal.
	KindUnknown ErrorKind = iota
	// KindRateLimited covers quota, rate-limit and overload responses.
	KindRateLimited
	// KindTerminal covers auth and configuration failures.
	KindTerminal
	// KindCanceled means the caller went away.
	KindCanceled
)

// UserMessage returns the user-facing sentence for an error kind. The
// wording is stable; callers localize outside the core.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case KindRateLimited:
		return "This model is busy right now. Please try another model."
	case KindCanceled:
		return "The request was canceled."
	default:
		return "The model could not complete your request."
	}
}
