package fault

import (
	"strings"

	"github.com/voxctl/voxctl/internal/event"
)

// Category is a stable provider error category. Values are part of the
// event contract; downstream consumers match on them.
type Category string

const (
	// Call setup and routing.
	CategoryAuthFailed    Category = "provider.auth_failed"
	CategoryMisconfigured Category = "provider.misconfigured"
	CategoryNetworkError  Category = "provider.network_error"

	// Call outcome.
	CategoryBusy     Category = "call.busy"
	CategoryNoAnswer Category = "call.no_answer"
	CategoryRejected Category = "call.rejected"
	CategoryFailed   Category = "call.failed"

	// Limits and throttling.
	CategoryRateLimited     Category = "provider.rate_limited"
	CategoryCapacityLimited Category = "provider.capacity_limited"

	CategoryUnknownError Category = "provider.unknown_error"
)

// classifyRules are checked in order; the first match wins, so broader
// patterns like "connection" take precedence over outcome patterns.
var classifyRules = []struct {
	substrings []string
	category   Category
}{
	{[]string{"auth", "unauthorized", "401"}, CategoryAuthFailed},
	{[]string{"config", "misconfigured"}, CategoryMisconfigured},
	{[]string{"network", "timeout", "connection"}, CategoryNetworkError},
	{[]string{"busy", "486"}, CategoryBusy},
	{[]string{"no answer", "noanswer", "480"}, CategoryNoAnswer},
	{[]string{"rejected", "reject", "603"}, CategoryRejected},
	{[]string{"rate limit", "429", "throttle"}, CategoryRateLimited},
	{[]string{"capacity", "503"}, CategoryCapacityLimited},
}

// Classify maps a provider error to a stable category. It is total: any
// input, including nil, yields a category.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknownError
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, sub := range rule.substrings {
			if strings.Contains(msg, sub) {
				return rule.category
			}
		}
	}
	return CategoryUnknownError
}

// redactedDetail is substituted for error text that may carry credentials.
const redactedDetail = "[redacted: potential secret]"

// Detail returns the loggable error text. Messages that mention secrets,
// passwords or keys are replaced wholesale rather than scrubbed.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	detail := err.Error()
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "secret") || strings.Contains(lower, "password") || strings.Contains(lower, "key") {
		return redactedDetail
	}
	return detail
}

// Handler classifies provider errors and reports them on the event
// stream.
type Handler struct {
	emitter *event.Emitter
}

// NewHandler returns a handler emitting provider.event through em.
func NewHandler(em *event.Emitter) *Handler {
	return &Handler{emitter: em}
}

// Handle classifies err, emits provider.event and returns the category.
// It never fails: call teardown must be able to rely on getting a
// category back whatever the provider produced.
func (h *Handler) Handle(sessionID string, err error, direction, providerName string, ref event.LiveKitRef) Category {
	category := Classify(err)
	h.emitter.ProviderEvent(sessionID, string(category), direction, providerName, Detail(err), ref)
	return category
}

// UserMessage returns the Dutch message spoken to the caller for a
// category. Unrecognized categories fall back to a generic apology.
func UserMessage(category Category) string {
	switch category {
	case CategoryBusy:
		return "Het nummer is in gesprek. Zullen we later nog eens proberen?"
	case CategoryNoAnswer:
		return "Er wordt niet opgenomen. Wil je het later opnieuw proberen?"
	case CategoryRateLimited, CategoryCapacityLimited:
		return "Momentje, het is even druk. Probeer het zo nog eens."
	}
	return "Sorry, het lukt nu even niet."
}
