package transcribe

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClock converts "MM:SS" or "HH:MM:SS" to seconds. Anything else,
// including non-numeric fields, yields 0.
func ParseClock(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0
		}
		nums[i] = n
	}
	switch len(nums) {
	case 3:
		return nums[0]*3600 + nums[1]*60 + nums[2]
	case 2:
		return nums[0]*60 + nums[1]
	default:
		return 0
	}
}

// FormatClock renders seconds as "MM:SS". Minutes are not wrapped into
// hours, so 2h05m renders as "125:00".
func FormatClock(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// compactClock renders seconds as "MMSS" for log file names.
func compactClock(sec int) string {
	return fmt.Sprintf("%02d%02d", sec/60, sec%60)
}
