package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var numberWords = map[string]int{
	"um": 1, "uma": 1, "one": 1, "once": 1,
	"dois": 2, "duas": 2, "two": 2, "twice": 2,
	"tres": 3, "three": 3,
	"quatro": 4, "four": 4,
}

const numberPattern = `(\d+|um|uma|dois|duas|tres|quatro|one|two|three|four)`

var (
	perDayRe     = regexp.MustCompile(numberPattern + `\s*(x|vez|vezes|times)\s*(ao|por|a|per)\s*(dia|day)`)
	onceTwiceRe  = regexp.MustCompile(`\b(once|twice)\s+(a|per)\s+day`)
	intervalRe   = regexp.MustCompile(`(de\s*\d+\s*em|a\s*cada|every)\s*(\d+)\s*(h|hr|hrs|hora|horas|hour|hours)\b`)
	perDoseRe    = regexp.MustCompile(numberPattern + `\s*(capsulas?|comprimidos?|doses?|saches?|capsules?|tablets?|pills?)\b`)
	durationRe   = regexp.MustCompile(`(por|durante|for)\s*` + numberPattern + `\s*(dias?|days?|semanas?|weeks?|mes|meses|months?)\b`)
	dailyWordsRe = regexp.MustCompile(`\b(diariamente|daily|ao dia|por dia)\b`)
)

// EstimateQuantity derives the number of units a posology consumes,
// frequency per day x units per dose x duration in days. It returns nil
// when the text does not state both a frequency and a duration.
func EstimateQuantity(posology string) *int {
	text := strings.ToLower(FoldAccents(posology))

	perDay := dosesPerDay(text)
	days := durationDays(text)
	if perDay == 0 || days == 0 {
		return nil
	}

	perDose := 1
	if m := perDoseRe.FindStringSubmatch(text); m != nil {
		if n := wordToInt(m[1]); n > 0 {
			perDose = n
		}
	}

	total := perDay * perDose * days
	return &total
}

func dosesPerDay(text string) int {
	if m := perDayRe.FindStringSubmatch(text); m != nil {
		return wordToInt(m[1])
	}
	if m := onceTwiceRe.FindStringSubmatch(text); m != nil {
		return wordToInt(m[1])
	}
	if m := intervalRe.FindStringSubmatch(text); m != nil {
		hours, _ := strconv.Atoi(m[2])
		if hours > 0 && hours <= 24 {
			return 24 / hours
		}
	}
	if dailyWordsRe.MatchString(text) {
		return 1
	}
	return 0
}

func durationDays(text string) int {
	m := durationRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n := wordToInt(m[2])
	unit := m[3]
	switch {
	case strings.HasPrefix(unit, "semana"), strings.HasPrefix(unit, "week"):
		return n * 7
	case strings.HasPrefix(unit, "mes"), strings.HasPrefix(unit, "month"):
		return n * 30
	default:
		return n
	}
}

func wordToInt(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return numberWords[s]
}
