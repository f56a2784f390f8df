package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taipm/llmgateway/toolregistry"
)

// NewDateTimeTool builds a "datetime" tool for current time, formatting,
// parsing, duration arithmetic, timezone conversion, and day-of-week
// lookups.
func NewDateTimeTool() *toolregistry.Tool {
	return toolregistry.NewTool("datetime", "Date and time operations: current time, formatting, parsing, calculations, timezone conversion").
		AddParameter("operation", map[string]any{"type": "string", "description": "current_time, format_date, parse_date, add_duration, date_diff, convert_timezone, day_of_week"}, true).
		AddParameter("date", map[string]any{"type": "string", "description": "2006-01-02 or 2006-01-02 15:04:05"}, false).
		AddParameter("format", map[string]any{"type": "string", "description": "RFC3339, RFC1123, Unix, or a Go layout string"}, false).
		AddParameter("timezone", map[string]any{"type": "string", "description": "e.g. UTC, America/New_York, Asia/Tokyo"}, false).
		AddParameter("duration", map[string]any{"type": "string", "description": "e.g. 24h, 30m, 7d"}, false).
		AddParameter("date2", map[string]any{"type": "string", "description": "second date, for date_diff"}, false).
		WithHandler(dateTimeHandler)
}

func dateTimeHandler(args string) (string, error) {
	var params struct {
		Operation string `json:"operation"`
		Date      string `json:"date"`
		Format    string `json:"format"`
		Timezone  string `json:"timezone"`
		Duration  string `json:"duration"`
		Date2     string `json:"date2"`
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", fmt.Errorf("%w: invalid JSON parameters", ErrInvalidInput)
	}

	switch params.Operation {
	case "current_time":
		return dtCurrentTime(params.Timezone, params.Format)
	case "format_date":
		return dtFormatDate(params.Date, params.Format, params.Timezone)
	case "parse_date":
		return dtParseDate(params.Date, params.Timezone)
	case "add_duration":
		return dtAddDuration(params.Date, params.Duration, params.Timezone)
	case "date_diff":
		return dtDateDiff(params.Date, params.Date2)
	case "convert_timezone":
		return dtConvertTimezone(params.Date, params.Timezone)
	case "day_of_week":
		return dtDayOfWeek(params.Date)
	default:
		return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, params.Operation)
	}
}

func dtCurrentTime(tz, format string) (string, error) {
	loc, err := dtLocation(tz)
	if err != nil {
		return "", err
	}
	now := time.Now().In(loc)
	return fmt.Sprintf("Current time in %s:\n%s\nUnix: %d", loc.String(), dtFormat(now, format), now.Unix()), nil
}

func dtFormatDate(dateStr, format, tz string) (string, error) {
	t, err := dtParse(dateStr)
	if err != nil {
		return "", err
	}
	if tz != "" {
		loc, err := dtLocation(tz)
		if err != nil {
			return "", err
		}
		t = t.In(loc)
	}
	return fmt.Sprintf("Formatted date:\n%s", dtFormat(t, format)), nil
}

func dtParseDate(dateStr, tz string) (string, error) {
	t, err := dtParse(dateStr)
	if err != nil {
		return "", err
	}
	if tz != "" {
		loc, err := dtLocation(tz)
		if err != nil {
			return "", err
		}
		t = t.In(loc)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Parsed date details:\n")
	fmt.Fprintf(&b, "  Date: %s\n", t.Format("2006-01-02"))
	fmt.Fprintf(&b, "  Time: %s\n", t.Format("15:04:05"))
	fmt.Fprintf(&b, "  Timezone: %s\n", t.Location())
	fmt.Fprintf(&b, "  Day of week: %s\n", t.Weekday())
	fmt.Fprintf(&b, "  Day of year: %d\n", t.YearDay())
	_, week := t.ISOWeek()
	fmt.Fprintf(&b, "  Week number: %d\n", week)
	fmt.Fprintf(&b, "  Unix timestamp: %d\n", t.Unix())
	fmt.Fprintf(&b, "  RFC3339: %s\n", t.Format(time.RFC3339))
	return b.String(), nil
}

func dtAddDuration(dateStr, duration, tz string) (string, error) {
	t, err := dtParse(dateStr)
	if err != nil {
		return "", err
	}
	d, err := dtDuration(duration)
	if err != nil {
		return "", err
	}
	newTime := t.Add(d)
	if tz != "" {
		loc, err := dtLocation(tz)
		if err != nil {
			return "", err
		}
		newTime = newTime.In(loc)
	}
	return fmt.Sprintf("Original: %s\nDuration: %s\nResult: %s", t.Format(time.RFC3339), duration, newTime.Format(time.RFC3339)), nil
}

func dtDateDiff(date1Str, date2Str string) (string, error) {
	t1, err := dtParse(date1Str)
	if err != nil {
		return "", fmt.Errorf("invalid date1: %w", err)
	}
	t2, err := dtParse(date2Str)
	if err != nil {
		return "", fmt.Errorf("invalid date2: %w", err)
	}

	diff := t2.Sub(t1)
	days := int(diff.Hours() / 24)
	hours := int(diff.Hours()) % 24
	minutes := int(diff.Minutes()) % 60

	var b strings.Builder
	fmt.Fprintf(&b, "Date 1: %s\n", t1.Format(time.RFC3339))
	fmt.Fprintf(&b, "Date 2: %s\n", t2.Format(time.RFC3339))
	fmt.Fprintf(&b, "Difference: %d days, %d hours, %d minutes\n", days, hours, minutes)
	fmt.Fprintf(&b, "Total hours: %.2f\n", diff.Hours())
	fmt.Fprintf(&b, "Total minutes: %.0f\n", diff.Minutes())
	return b.String(), nil
}

func dtConvertTimezone(dateStr, targetTZ string) (string, error) {
	t, err := dtParse(dateStr)
	if err != nil {
		return "", err
	}
	targetLoc, err := dtLocation(targetTZ)
	if err != nil {
		return "", err
	}
	converted := t.In(targetLoc)
	return fmt.Sprintf("Original: %s (%s)\nConverted: %s (%s)",
		t.Format(time.RFC3339), t.Location(), converted.Format(time.RFC3339), targetLoc), nil
}

func dtDayOfWeek(dateStr string) (string, error) {
	t, err := dtParse(dateStr)
	if err != nil {
		return "", err
	}
	_, week := t.ISOWeek()
	return fmt.Sprintf("Date: %s\nDay of week: %s\nWeek number: %d", t.Format("2006-01-02"), t.Weekday(), week), nil
}

func dtParse(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	formats := []string{
		time.RFC3339, "2006-01-02 15:04:05", "2006-01-02",
		"2006/01/02", "01/02/2006", "02-01-2006", time.RFC1123,
	}
	for _, f := range formats {
		if t, err := time.Parse(f, dateStr); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unable to parse date %q (try 2006-01-02 or 2006-01-02 15:04:05)", ErrInvalidInput, dateStr)
}

func dtLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q", ErrInvalidInput, tz)
	}
	return loc, nil
}

func dtFormat(t time.Time, format string) string {
	switch strings.ToLower(format) {
	case "", "rfc3339":
		return t.Format(time.RFC3339)
	case "rfc1123":
		return t.Format(time.RFC1123)
	case "unix":
		return fmt.Sprintf("%d", t.Unix())
	default:
		return t.Format(format)
	}
}

func dtDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(strings.TrimSuffix(s, "d"), "%d", &days); err != nil {
			return 0, fmt.Errorf("%w: invalid duration %q", ErrInvalidInput, s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid duration %q (use 24h, 30m, 7d)", ErrInvalidInput, s)
	}
	return d, nil
}
