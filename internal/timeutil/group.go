package timeutil

import (
	"time"

	"github.com/mmeshcher/crajybot/internal/model"
)

// GroupByDay разбивает упорядоченные по времени снимки на непрерывные группы одного календарного дня.
// Новая группа начинается при каждой смене даты в зоне loc.
func GroupByDay(snaps []model.Snapshot, loc *time.Location) [][]model.Snapshot {
	var groups [][]model.Snapshot

	var (
		current []model.Snapshot
		lastY   int
		lastD   int
	)

	for _, s := range snaps {
		t := s.TakenAt.In(loc)
		y, d := t.Year(), t.YearDay()

		if len(current) > 0 && (y != lastY || d != lastD) {
			groups = append(groups, current)
			current = nil
		}

		current = append(current, s)
		lastY, lastD = y, d
	}

	if len(current) > 0 {
		groups = append(groups, current)
	}

	return groups
}
