package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/quotawatch/internal/storage"
)

// recordFields flattens a Record into HSET field/value pairs.
// Unset timestamps are omitted.
func recordFields(r storage.Record) []any {
	fields := []any{
		"contact_target", r.ContactTarget,
		"notification_sent", strconv.FormatBool(r.NotificationSent),
		"org_id", r.OrgID,
		"session_pct", strconv.FormatFloat(r.SessionPct, 'f', -1, 64),
		"weekly_pct", strconv.FormatFloat(r.WeeklyPct, 'f', -1, 64),
		"session_notified", strconv.FormatBool(r.SessionNotified),
	}

	times := []struct {
		name  string
		value *time.Time
	}{
		{"limit_hit_at", r.LimitHitAt},
		{"reset_at", r.ResetAt},
		{"session_reset_at", r.SessionResetAt},
		{"weekly_reset_at", r.WeeklyResetAt},
		{"last_session_reset_at", r.LastSessionResetAt},
	}
	for _, t := range times {
		if t.value != nil {
			fields = append(fields, t.name, t.value.UTC().Format(time.RFC3339Nano))
		}
	}

	return fields
}

// parseRecord converts a Redis hash to a Record
func parseRecord(data map[string]string) (*storage.Record, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	record := &storage.Record{
		ContactTarget: data["contact_target"],
		OrgID:         data["org_id"],
	}

	var err error
	if record.NotificationSent, err = parseBool(data, "notification_sent"); err != nil {
		return nil, err
	}
	if record.SessionNotified, err = parseBool(data, "session_notified"); err != nil {
		return nil, err
	}
	if record.SessionPct, err = parseFloat(data, "session_pct"); err != nil {
		return nil, err
	}
	if record.WeeklyPct, err = parseFloat(data, "weekly_pct"); err != nil {
		return nil, err
	}

	if record.LimitHitAt, err = parseTime(data, "limit_hit_at"); err != nil {
		return nil, err
	}
	if record.ResetAt, err = parseTime(data, "reset_at"); err != nil {
		return nil, err
	}
	if record.SessionResetAt, err = parseTime(data, "session_reset_at"); err != nil {
		return nil, err
	}
	if record.WeeklyResetAt, err = parseTime(data, "weekly_reset_at"); err != nil {
		return nil, err
	}
	if record.LastSessionResetAt, err = parseTime(data, "last_session_reset_at"); err != nil {
		return nil, err
	}

	return record, nil
}

func parseBool(data map[string]string, field string) (bool, error) {
	raw, ok := data[field]
	if !ok || raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return v, nil
}

func parseFloat(data map[string]string, field string) (float64, error) {
	raw, ok := data[field]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return v, nil
}

func parseTime(data map[string]string, field string) (*time.Time, error) {
	raw, ok := data[field]
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return &v, nil
}
