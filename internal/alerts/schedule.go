// Package alerts runs the alert scheduler: a leased singleton that scans due
// alert definitions through the enricher and dispatches webhook payloads.
package alerts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"solescan/internal/faults"
	"solescan/internal/models"
)

// Due evaluates an alert's schedule against `now`: frequency elapsed, local
// weekday allowed, local time inside the active-hours window. A malformed
// timezone or window is a configuration fault, which deactivates the alert.
func Due(alert models.AlertDefinition, now time.Time) (bool, error) {
	if alert.LastScannedAt != nil {
		freq := time.Duration(alert.FrequencyMinutes) * time.Minute
		if freq > 0 && now.Sub(*alert.LastScannedAt) < freq {
			return false, nil
		}
	}

	tz := strings.TrimSpace(alert.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, faults.New(faults.ConfigurationInvalid, "alert %s has unknown timezone %q", alert.ID, alert.Timezone)
	}
	local := now.In(loc)

	days, err := decodeActiveDays(alert.ActiveDays)
	if err != nil {
		return false, faults.New(faults.ConfigurationInvalid, "alert %s has bad active_days: %v", alert.ID, err)
	}
	if days != nil && !days[local.Weekday()] {
		return false, nil
	}

	start, end, err := parseActiveHours(alert.ActiveHours)
	if err != nil {
		return false, faults.New(faults.ConfigurationInvalid, "alert %s has bad active_hours %q: %v", alert.ID, alert.ActiveHours, err)
	}
	minute := local.Hour()*60 + local.Minute()
	if !withinWindow(minute, start, end) {
		return false, nil
	}
	return true, nil
}

// decodeActiveDays parses the JSON weekday list. nil means every day.
func decodeActiveDays(raw []byte) (map[time.Weekday]bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	byPrefix := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
		"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
		"sat": time.Saturday,
	}
	out := make(map[time.Weekday]bool, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if len(key) < 3 {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		day, ok := byPrefix[key[:3]]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		out[day] = true
	}
	return out, nil
}

// parseActiveHours parses "HH:MM-HH:MM" into window bounds in minutes. Start
// after end means the window wraps midnight.
func parseActiveHours(s string) (start, end int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 24*60 - 1, nil
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM-HH:MM")
	}
	start, err = parseClock(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err = parseClock(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute %q", s)
	}
	return hour*60 + minute, nil
}

func withinWindow(minute, start, end int) bool {
	if start <= end {
		return minute >= start && minute <= end
	}
	// Overnight wrap, e.g. 22:00-06:00.
	return minute >= start || minute <= end
}
