package achievements

import "time"

// StreakLength counts the run of consecutive calendar days ending at the
// most recent day in the list. Days may arrive in any order and may repeat;
// an empty list yields zero. The scan walks backward from the latest day
// and stops at the first gap.
func StreakLength(days []time.Time) int {
	if len(days) == 0 {
		return 0
	}

	seen := make(map[int64]struct{}, len(days))
	var latest int64
	for _, day := range days {
		epochDay := toEpochDay(day)
		seen[epochDay] = struct{}{}
		if epochDay > latest {
			latest = epochDay
		}
	}

	streak := 0
	for day := latest; ; day-- {
		if _, ok := seen[day]; !ok {
			break
		}
		streak++
	}
	return streak
}

func toEpochDay(t time.Time) int64 {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
}
