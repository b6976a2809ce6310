package weather

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkirklewski/bgNews/pkg/feed"
	"github.com/pkirklewski/bgNews/pkg/state"
)

// Slot names the half of the day a weather map belongs to. Two maps are
// published per day at most, one per slot.
type Slot string

const (
	SlotDay   Slot = "day"
	SlotNight Slot = "night"
)

// SlotFor maps a local time to its publication slot. Hours 04:00 through
// 15:59 are the day slot; the rest is night.
func SlotFor(t time.Time) Slot {
	if h := t.Hour(); h >= 4 && h < 16 {
		return SlotDay
	}
	return SlotNight
}

// ItemFor builds the feed item for a weather map published at t. The identity
// is `YYYY-MM-DD/slot`, which de-duplicates to at most one post per slot per
// day regardless of how often the job is scheduled.
func ItemFor(t time.Time, townName string) feed.Item {
	slot := SlotFor(t)
	return feed.Item{
		SourceKind:   state.SourceWeatherMap,
		Identity:     fmt.Sprintf("%s/%s", t.Format("2006-01-02"), slot),
		Title:        fmt.Sprintf("Mapa temperatur %s (%s)", townName, slot),
		SourceName:   "open-meteo",
		DiscoveredAt: t,
	}
}

// CaptionInput carries everything the caption needs.
type CaptionInput struct {
	TownName    string
	Locative    string // town name in the locative case, "w Boguszowie-Gorcach"
	MinTemp     int
	MaxTemp     int
	CenterCode  int
	Forecast    *Forecast
	ProfileLink string
	Hashtags    []string
}

// Caption renders the full post text: headline with the observed temperature
// range and condition, the two-sentence forecast, the profile link and the
// hashtag line.
func Caption(in CaptionInput) string {
	rangeStr := fmt.Sprintf("%+d°C", in.MinTemp)
	if in.MinTemp != in.MaxTemp {
		rangeStr = fmt.Sprintf("od %+d°C do %+d°C", in.MinTemp, in.MaxTemp)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🌡 Aktualna temperatura %s: %s. %s.\n", in.Locative, rangeStr, ConditionWord(in.CenterCode))
	b.WriteString(in.Forecast.Text())
	if in.ProfileLink != "" {
		fmt.Fprintf(&b, "\n\nWięcej: %s", in.ProfileLink)
	}
	if len(in.Hashtags) > 0 {
		b.WriteString("\n\n👇")
		b.WriteString(strings.Join(in.Hashtags, " "))
	}
	return b.String()
}

// TempRange returns the rounded min and max over the fetched conditions.
func TempRange(conditions []Conditions) (min, max int) {
	if len(conditions) == 0 {
		return 0, 0
	}
	min, max = 100, -100
	for _, c := range conditions {
		t := *roundPtr(c.Temperature)
		if t < min {
			min = t
		}
		if t > max {
			max = t
		}
	}
	return min, max
}
