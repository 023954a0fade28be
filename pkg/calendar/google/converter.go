package google

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"google.golang.org/api/calendar/v3"

	calendarPkg "github.com/venkytv/calendar-publisher/pkg/calendar"
)

// toGoogleEvent converts a canonical message into an API event
func toGoogleEvent(message *calendarPkg.Message) *calendar.Event {
	return &calendar.Event{
		Summary:     message.Summary,
		Description: message.Description,
		Visibility:  message.Visibility,
		Start:       &calendar.EventDateTime{DateTime: message.Start.DateTime},
		End:         &calendar.EventDateTime{DateTime: message.End.DateTime},
	}
}

// eventToMap renders a created event as a generic mapping using snake_case
// keys (htmlLink becomes html_link, iCalUID becomes i_cal_uid)
func eventToMap(event *calendar.Event) (map[string]any, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal created event: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode created event: %w", err)
	}

	out, _ := snakeKeys(raw).(map[string]any)
	return out, nil
}

func snakeKeys(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[snakeCase(key)] = snakeKeys(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = snakeKeys(item)
		}
		return out
	default:
		return v
	}
}

// snakeCase converts a camelCase identifier. A run of capitals is treated as
// one word, so "iCalUID" becomes "i_cal_uid".
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteRune('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}
