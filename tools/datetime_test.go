package tools

import (
	"strings"
	"testing"
)

func TestDateTimeTool_CurrentTime(t *testing.T) {
	tool := NewDateTimeTool()
	result, err := tool.Handler(`{"operation":"current_time","timezone":"UTC"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "UTC") {
		t.Errorf("expected UTC in result, got %q", result)
	}
}

func TestDateTimeTool_FormatDate(t *testing.T) {
	tool := NewDateTimeTool()
	result, err := tool.Handler(`{"operation":"format_date","date":"2026-03-05","format":"unix"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == "" {
		t.Error("expected non-empty result")
	}
}

func TestDateTimeTool_ParseDate(t *testing.T) {
	tool := NewDateTimeTool()
	result, err := tool.Handler(`{"operation":"parse_date","date":"2026-03-05"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "Day of week") {
		t.Errorf("expected day of week in output, got %q", result)
	}
}

func TestDateTimeTool_AddDuration(t *testing.T) {
	tool := NewDateTimeTool()
	result, err := tool.Handler(`{"operation":"add_duration","date":"2026-01-01","duration":"7d"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "2026-01-08") {
		t.Errorf("expected date rolled forward by 7 days, got %q", result)
	}
}

func TestDateTimeTool_DateDiff(t *testing.T) {
	tool := NewDateTimeTool()
	result, err := tool.Handler(`{"operation":"date_diff","date":"2026-01-01","date2":"2026-01-03"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "2 days") {
		t.Errorf("expected 2 day difference, got %q", result)
	}
}

func TestDateTimeTool_DayOfWeek(t *testing.T) {
	tool := NewDateTimeTool()
	// 2026-03-05 is a Thursday.
	result, err := tool.Handler(`{"operation":"day_of_week","date":"2026-03-05"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "Thursday") {
		t.Errorf("expected Thursday, got %q", result)
	}
}

func TestDateTimeTool_InvalidDateReturnsError(t *testing.T) {
	tool := NewDateTimeTool()
	_, err := tool.Handler(`{"operation":"parse_date","date":"not-a-date"}`)
	if err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestDateTimeTool_UnknownOperation(t *testing.T) {
	tool := NewDateTimeTool()
	_, err := tool.Handler(`{"operation":"bogus"}`)
	if err == nil {
		t.Error("expected error for unknown operation")
	}
}
