package metrics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/crajybot/internal/model"
	"github.com/mmeshcher/crajybot/internal/timeutil"
)

// Kind - что считается на оси Y.
type Kind string

const (
	KindTotal   Kind = "total"
	KindMember  Kind = "member"
	KindChannel Kind = "channel"
)

// ParseKind разбирает вид ряда без учёта регистра. Пустая строка означает KindTotal.
func ParseKind(text string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(text))); k {
	case "":
		return KindTotal, nil
	case KindTotal, KindMember, KindChannel:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown series kind %q", model.ErrInvalidQuery, text)
	}
}

// Query описывает запрашиваемый ряд.
type Query struct {
	Kind Kind
	// ObjectID - идентификатор участника или канала для KindMember и KindChannel.
	ObjectID string
	Unit     timeutil.Unit
	// ZeroFillAbsent считает отсутствующий в снимке объект нулём вместо ошибки.
	ZeroFillAbsent bool
}

// Series - точки графика.
type Series struct {
	Label string   `json:"label"`
	Unit  string   `json:"unit"`
	X     []string `json:"x"`
	Y     []int64  `json:"y"`
}

// SeriesFor строит ряд по снимкам. Для часов одна точка соответствует снимку,
// для дней снимки одних календарных суток суммируются в одну точку с датой первого из них.
func (a *Aggregator) SeriesFor(q Query, snaps []model.Snapshot) (Series, error) {
	return BuildSeries(q, snaps, a.opts.Location)
}

// BuildSeries - SeriesFor с явным часовым поясом.
func BuildSeries(q Query, snaps []model.Snapshot, loc *time.Location) (Series, error) {
	count, err := counter(q)
	if err != nil {
		return Series{}, err
	}

	sorted := make([]model.Snapshot, len(snaps))
	copy(sorted, snaps)
	model.SortSnapshots(sorted)

	s := Series{Label: label(q), Unit: string(q.Unit), X: []string{}, Y: []int64{}}

	switch q.Unit {
	case timeutil.Hours:
		for _, snap := range sorted {
			v, err := count(snap)
			if err != nil {
				return Series{}, err
			}
			s.X = append(s.X, snap.HourLabel(loc))
			s.Y = append(s.Y, v)
		}
	case timeutil.Days:
		for _, group := range timeutil.GroupByDay(sorted, loc) {
			var sum int64
			for _, snap := range group {
				v, err := count(snap)
				if err != nil {
					return Series{}, err
				}
				sum += v
			}
			s.X = append(s.X, group[0].DateLabel(loc))
			s.Y = append(s.Y, sum)
		}
	default:
		return Series{}, fmt.Errorf("%w: %q", model.ErrUnsupportedTimeUnit, q.Unit)
	}

	return s, nil
}

func counter(q Query) (func(model.Snapshot) (int64, error), error) {
	var lookup func(model.Snapshot) (int64, error)

	switch q.Kind {
	case KindTotal, "":
		return func(s model.Snapshot) (int64, error) { return s.Total(), nil }, nil
	case KindMember:
		lookup = func(s model.Snapshot) (int64, error) { return s.MemberCount(q.ObjectID) }
	case KindChannel:
		lookup = func(s model.Snapshot) (int64, error) { return s.ChannelCount(q.ObjectID) }
	default:
		return nil, fmt.Errorf("%w: unknown series kind %q", model.ErrInvalidQuery, q.Kind)
	}

	if q.ObjectID == "" {
		return nil, fmt.Errorf("%w: %s series needs an id", model.ErrInvalidQuery, q.Kind)
	}

	if !q.ZeroFillAbsent {
		return lookup, nil
	}

	return func(s model.Snapshot) (int64, error) {
		v, err := lookup(s)
		if errors.Is(err, model.ErrUnknownObjectInSnapshot) {
			return 0, nil
		}
		return v, err
	}, nil
}

func label(q Query) string {
	if q.Kind == KindTotal || q.Kind == "" {
		return string(KindTotal)
	}
	return fmt.Sprintf("%s %s", q.Kind, q.ObjectID)
}
