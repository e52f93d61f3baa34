package schedule

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// weekdayTokens maps the persisted weekday spellings to cron day numbers
// (0 = Sunday). Both Portuguese and English abbreviations are accepted
// because older rows carry either.
var weekdayTokens = map[string]int{
	"dom": 0, "seg": 1, "ter": 2, "qua": 3, "qui": 4, "sex": 5, "sab": 6,
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// NormalizeWeekdays resolves the stored tokens to sorted unique cron day
// numbers. Unknown tokens are dropped; when nothing survives, the
// fallback weekday keeps a weekly job firing on its start day.
func NormalizeWeekdays(tokens []string, fallback time.Weekday) []int {
	seen := make(map[int]bool)
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if day, ok := weekdayTokens[tok]; ok {
			seen[day] = true
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil && n >= 0 && n <= 6 {
			seen[n] = true
		}
	}
	if len(seen) == 0 {
		seen[int(fallback)] = true
	}

	days := make([]int, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	sort.Ints(days)
	return days
}

func cronDayList(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}
