package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Cheertaboi/storefront-order-service/internal/models"
)

const maxETAMinutes = 600

var (
	etaMinutesPattern = regexp.MustCompile(`^\d{1,3}$`)
	etaClockPattern   = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
)

// ParseETA accepts a bare number of minutes or an HH:MM clock time.
func ParseETA(input string) (models.ETA, error) {
	s := strings.TrimSpace(input)
	if etaMinutesPattern.MatchString(s) {
		n, _ := strconv.Atoi(s)
		if n < 1 || n > maxETAMinutes {
			return models.ETA{}, &ValidationError{
				Field:   "eta",
				Message: fmt.Sprintf("minutes must be between 1 and %d", maxETAMinutes),
			}
		}
		return models.ETA{Minutes: n}, nil
	}
	if m := etaClockPattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		return models.ETA{ClockTime: fmt.Sprintf("%02d:%s", h, m[2])}, nil
	}
	return models.ETA{}, &ValidationError{
		Field:   "eta",
		Message: "enter minutes (e.g. 25) or a clock time (e.g. 14:30)",
	}
}

func FormatETA(e models.ETA) string {
	if e.ClockTime != "" {
		return "by " + e.ClockTime
	}
	return fmt.Sprintf("%d min", e.Minutes)
}
