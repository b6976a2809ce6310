package weather

import (
	"fmt"
	"time"
)

// Forecast summarizes today's daytime window (06:00-18:00) and the following
// night (18:00 today to 06:00 tomorrow). Temperature bounds are nil when the
// window has already passed and no hours remain in it.
type Forecast struct {
	DayMax         *int
	DayMin         *int
	NightMin       *int
	DayPrecipMax   float64
	NightPrecipMax float64
	DayCodes       []int
	NightCodes     []int
}

func buildForecast(payload hourlyPayload, now time.Time) (*Forecast, error) {
	h := payload.Hourly
	f := &Forecast{}

	var dayTemps, nightTemps []float64
	for i, stamp := range h.Time {
		// Stamps look like "2026-01-06T14:00".
		t, err := time.Parse("2006-01-02T15:04", stamp)
		if err != nil {
			return nil, fmt.Errorf("bad hourly timestamp %q: %w", stamp, err)
		}
		if i >= len(h.Temperature) {
			break
		}

		sameDay := t.Year() == now.Year() && t.YearDay() == now.YearDay()
		nextDay := t.Year() == now.Year() && t.YearDay() == now.YearDay()+1

		switch {
		case sameDay && t.Hour() >= 6 && t.Hour() < 18:
			dayTemps = append(dayTemps, h.Temperature[i])
			f.DayPrecipMax = maxFloat(f.DayPrecipMax, precipAt(h.PrecipProb, i))
			f.DayCodes = append(f.DayCodes, codeAt(h.WeatherCode, i))
		case (sameDay && t.Hour() >= 18) || (nextDay && t.Hour() < 6):
			nightTemps = append(nightTemps, h.Temperature[i])
			f.NightPrecipMax = maxFloat(f.NightPrecipMax, precipAt(h.PrecipProb, i))
			f.NightCodes = append(f.NightCodes, codeAt(h.WeatherCode, i))
		}
	}

	if len(dayTemps) > 0 {
		f.DayMax = roundPtr(maxOf(dayTemps))
		f.DayMin = roundPtr(minOf(dayTemps))
	}
	if len(nightTemps) > 0 {
		f.NightMin = roundPtr(minOf(nightTemps))
	}
	return f, nil
}

// Text renders the forecast as two Polish sentences for the post caption.
func (f *Forecast) Text() string {
	if f == nil {
		return "Sprawdź temperaturę w swojej okolicy na mapie"
	}

	first := ""
	if f.DayMax != nil {
		first = fmt.Sprintf("Dziś maksymalnie %+d°C", *f.DayMax)
		if f.NightMin != nil {
			first += fmt.Sprintf(", w nocy spadek do %+d°C.", *f.NightMin)
		} else {
			first += "."
		}
	} else if f.NightMin != nil {
		first = fmt.Sprintf("W nocy temperatura spadnie do %+d°C.", *f.NightMin)
	}

	sky := skyDescription(f.DayCodes)
	var second string
	switch {
	case f.DayPrecipMax > 60 || f.NightPrecipMax > 60:
		precip := "możliwe opady"
		if avgCode(f.DayCodes) >= 71 {
			precip = "możliwe opady śniegu"
		}
		second = fmt.Sprintf("%s, %s.", sky, precip)
	case f.DayPrecipMax > 30 || f.NightPrecipMax > 30:
		second = fmt.Sprintf("%s, niewielkie szanse opadów.", sky)
	default:
		second = fmt.Sprintf("%s bez opadów.", sky)
	}

	if first == "" {
		return second
	}
	return first + " " + second
}

// WMO weather code bands: 0-1 clear, 2-3 cloudy, 45-48 fog, 51-67 rain,
// 71-86 snow.
func skyDescription(codes []int) string {
	avg := avgCode(codes)
	switch {
	case avg <= 1:
		return "Bezchmurnie"
	case avg <= 3:
		return "Zachmurzenie umiarkowane"
	case avg <= 48:
		return "Możliwe mgły"
	case avg <= 67:
		return "Zachmurzenie z opadami deszczu"
	case avg <= 86:
		return "Zachmurzenie z opadami śniegu"
	default:
		return "Pochmurno"
	}
}

// ConditionWord maps a current weather code to the one-word description used
// in the caption headline.
func ConditionWord(code int) string {
	switch {
	case code <= 1:
		return "Pogodnie"
	case code <= 3:
		return "Pochmurno"
	case code == 45 || code == 48:
		return "Mgliście"
	case code >= 51 && code <= 67:
		return "Opady deszczu"
	case code >= 71 && code <= 86:
		return "Opady śniegu"
	default:
		return "Pochmurno"
	}
}

func avgCode(codes []int) float64 {
	if len(codes) == 0 {
		return 3
	}
	sum := 0
	for _, c := range codes {
		sum += c
	}
	return float64(sum) / float64(len(codes))
}

func precipAt(probs []float64, i int) float64 {
	if i < len(probs) {
		return probs[i]
	}
	return 0
}

func codeAt(codes []int, i int) int {
	if i < len(codes) {
		return codes[i]
	}
	return 0
}

func roundPtr(v float64) *int {
	r := int(v + 0.5)
	if v < 0 {
		r = int(v - 0.5)
	}
	return &r
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
