package scanning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// rocDate matches dates written in the ROC calendar, e.g. 113/01/15.
var rocDate = regexp.MustCompile(`^(\d{2,3})[/.-](\d{1,2})[/.-](\d{1,2})$`)

// parsePageJSON parses the JSON a model returned for a page
func parsePageJSON(text string) (*PageSummary, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data PageSummary
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.Merchant = strings.TrimSpace(data.Merchant)
	data.Currency = strings.ToUpper(strings.TrimSpace(data.Currency))
	data.Date = normalizeDate(strings.TrimSpace(data.Date))
	if data.Amount < 0 {
		data.Amount = 0
	}
	return &data, nil
}

// normalizeDate rewrites a date as YYYY-MM-DD. Dates that cannot be read
// are dropped rather than guessed.
func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	for _, format := range []string{"2006-01-02", "2006/01/02", "2006.01.02", "01/02/2006"} {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	if m := rocDate.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		d := time.Date(year+1911, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if d.Month() == time.Month(month) && d.Day() == day {
			return d.Format("2006-01-02")
		}
	}
	return ""
}
