package compare

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"github.com/sells-group/school-intel/internal/model"
)

// Amount is a currency value reduced to a number and an ISO 4217 code.
type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// Item is one normalized element of a cell: the single value of a scalar
// field, one list element, or one mapping entry.
type Item struct {
	Key        string   `json:"key,omitempty"`
	Raw        string   `json:"raw"`
	Normalized string   `json:"normalized"`
	Amount     *Amount  `json:"amount,omitempty"`
	Date       string   `json:"date,omitempty"`
	Number     *float64 `json:"number,omitempty"`
	// Unparsed marks a value the unit normalizer could not read; Normalized
	// then holds the cleaned raw text.
	Unparsed bool `json:"unparsed,omitempty"`
}

// Normalizer converts a raw string for a unit.
type Normalizer struct {
	defaultCurrency currency.Unit
}

// NewNormalizer creates a Normalizer. defaultCode applies to amounts that
// carry no currency marker; an unknown code falls back to PHP.
func NewNormalizer(defaultCode string) *Normalizer {
	u, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(defaultCode)))
	if err != nil {
		u = currency.MustParseISO("PHP")
	}
	return &Normalizer{defaultCurrency: u}
}

// Normalize reads raw according to unit.
func (n *Normalizer) Normalize(unit model.Unit, raw string) Item {
	clean := collapseSpace(raw)
	item := Item{Raw: raw, Normalized: clean}
	switch unit {
	case model.UnitCurrency:
		if a, ok := n.parseAmount(clean); ok {
			item.Amount = &a
			item.Normalized = a.Currency + " " + strconv.FormatFloat(a.Value, 'f', 2, 64)
		} else {
			item.Unparsed = true
		}
	case model.UnitDate:
		if d, ok := parseDate(clean); ok {
			item.Date = d
			item.Normalized = d
		} else {
			item.Unparsed = true
		}
	case model.UnitNumber:
		if v, ok := parseSingleNumber(clean); ok {
			item.Number = &v
			item.Normalized = strconv.FormatFloat(v, 'f', -1, 64)
		} else {
			item.Unparsed = true
		}
	}
	return item
}

var spaceRun = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

var (
	numberRe = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)
	// currency codes directly before or after a number
	codeBefore = regexp.MustCompile(`\b([A-Za-z]{3})\.?\s*\d`)
	codeAfter  = regexp.MustCompile(`\d\s*([A-Z]{3})\b`)
)

var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"S$", "SGD"},
	{"HK$", "HKD"},
	{"A$", "AUD"},
	{"₱", "PHP"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₩", "KRW"},
}

func (n *Normalizer) parseAmount(s string) (Amount, bool) {
	value, ok := parseSingleNumber(s)
	if !ok {
		return Amount{}, false
	}
	code := n.defaultCurrency.String()
	if c, found := detectCurrency(s); found {
		code = c
	}
	return Amount{Value: value, Currency: code}, true
}

func detectCurrency(s string) (string, bool) {
	for _, sym := range currencySymbols {
		if strings.Contains(s, sym.symbol) {
			return sym.code, true
		}
	}
	for _, re := range []*regexp.Regexp{codeBefore, codeAfter} {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			if code, ok := currencyCode(m[1]); ok {
				return code, true
			}
		}
	}
	return "", false
}

// currencyCode accepts an uppercase ISO 4217 code, or a code from the symbol
// table in any case ("Php"). Other mixed-case words such as "All" or "Top"
// are text, not currencies.
func currencyCode(tok string) (string, bool) {
	upper := strings.ToUpper(tok)
	if tok != upper {
		known := false
		for _, sym := range currencySymbols {
			if sym.code == upper {
				known = true
				break
			}
		}
		if !known {
			return "", false
		}
	}
	u, err := currency.ParseISO(upper)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// parseSingleNumber reads the only number in s. Zero or several numbers are
// ambiguous. A trailing k multiplies by a thousand.
func parseSingleNumber(s string) (float64, bool) {
	locs := numberRe.FindAllStringIndex(s, -1)
	if len(locs) != 1 {
		return 0, false
	}
	lit := s[locs[0][0]:locs[0][1]]
	v, err := strconv.ParseFloat(strings.ReplaceAll(lit, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	rest := s[locs[0][1]:]
	if strings.HasPrefix(rest, "k") || strings.HasPrefix(rest, "K") {
		if len(rest) == 1 || !isLetter(rest[1]) {
			v *= 1000
		}
	}
	return v, true
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

const (
	dayPrecision   = "2006-01-02"
	monthPrecision = "2006-01"
)

var (
	monthNames = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

	monthDayYear = regexp.MustCompile(`(?i)\b(` + monthNames + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayMonthYear = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(` + monthNames + `)\.?,?\s+(\d{4})\b`)
	monthYear    = regexp.MustCompile(`(?i)\b(` + monthNames + `)\.?,?\s+(\d{4})\b`)
	isoDate      = regexp.MustCompile(`\b(\d{4})[-/](\d{1,2})[-/](\d{1,2})\b`)
	numericDate  = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})\b`)
	// a capitalized month left over after matching means a range or a
	// second partial date
	strayMonth = regexp.MustCompile(`\b(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sept?(?:ember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\b`)
)

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// parseDate finds exactly one calendar date in s and renders it as
// YYYY-MM-DD, or YYYY-MM when s names only a month. Numeric dates whose day
// and month could be swapped are left unparsed.
func parseDate(s string) (string, bool) {
	var found []string
	consumed := s

	take := func(re *regexp.Regexp, conv func(m []string) (string, bool)) bool {
		for _, m := range re.FindAllStringSubmatch(consumed, -1) {
			d, ok := conv(m)
			if !ok {
				return false
			}
			found = append(found, d)
		}
		consumed = re.ReplaceAllString(consumed, " ")
		return true
	}

	ok := take(monthDayYear, func(m []string) (string, bool) { return civil(m[3], month(m[1]), m[2]) }) &&
		take(dayMonthYear, func(m []string) (string, bool) { return civil(m[3], month(m[2]), m[1]) }) &&
		take(isoDate, func(m []string) (string, bool) { return civilNum(m[1], m[2], m[3]) }) &&
		take(numericDate, func(m []string) (string, bool) {
			a, _ := strconv.Atoi(m[1])
			b, _ := strconv.Atoi(m[2])
			switch {
			case a > 12 && b <= 12:
				return civilNum(m[3], m[2], m[1])
			case b > 12 && a <= 12:
				return civilNum(m[3], m[1], m[2])
			case a == b:
				return civilNum(m[3], m[1], m[2])
			}
			return "", false
		}) &&
		take(monthYear, func(m []string) (string, bool) {
			y, err := strconv.Atoi(m[2])
			if err != nil {
				return "", false
			}
			return time.Date(y, month(m[1]), 1, 0, 0, 0, 0, time.UTC).Format(monthPrecision), true
		})
	if !ok || len(found) != 1 || strayMonth.MatchString(consumed) {
		return "", false
	}
	return found[0], true
}

func month(name string) time.Month {
	return monthIndex[strings.ToLower(name)[:3]]
}

func civil(year string, m time.Month, day string) (string, bool) {
	y, err1 := strconv.Atoi(year)
	d, err2 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || m == 0 {
		return "", false
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || t.Month() != m {
		return "", false
	}
	return t.Format(dayPrecision), true
}

func civilNum(year, mon, day string) (string, bool) {
	m, err := strconv.Atoi(mon)
	if err != nil || m < 1 || m > 12 {
		return "", false
	}
	return civil(year, time.Month(m), day)
}
