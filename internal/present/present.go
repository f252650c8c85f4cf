// Package present turns aggregation results into locale-formatted labels
// and currency strings. Nothing here feeds back into arithmetic.
package present

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"fintrack/internal/core"
)

type Locale struct {
	Tag       language.Tag
	months    [12]string
	monthFmt  string // args: month name, year
	dateFmt   string // time layout
	symbol    string
	symbolSep string
	group     string
	decimal   string
}

var (
	English = Locale{
		Tag: language.English,
		months: [12]string{"January", "February", "March", "April", "May", "June",
			"July", "August", "September", "October", "November", "December"},
		monthFmt: "%s %d",
		dateFmt:  "01/02/2006",
		symbol:   "$",
		group:    ",",
		decimal:  ".",
	}

	BrazilianPortuguese = Locale{
		Tag: language.BrazilianPortuguese,
		months: [12]string{"janeiro", "fevereiro", "março", "abril", "maio", "junho",
			"julho", "agosto", "setembro", "outubro", "novembro", "dezembro"},
		monthFmt:  "%s de %d",
		dateFmt:   "02/01/2006",
		symbol:    "R$",
		symbolSep: " ",
		group:     ".",
		decimal:   ",",
	}

	supported = []Locale{English, BrazilianPortuguese}
	matcher   = language.NewMatcher([]language.Tag{English.Tag, BrazilianPortuguese.Tag})
)

// Resolve picks the best supported locale. An explicit query value wins,
// then the Accept-Language header, then fallback.
func Resolve(query, acceptLanguage, fallback string) Locale {
	var tags []language.Tag
	if query != "" {
		if t, err := language.Parse(query); err == nil {
			tags = append(tags, t)
		}
	}
	if acceptLanguage != "" {
		if parsed, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil {
			tags = append(tags, parsed...)
		}
	}
	if fallback != "" {
		if t, err := language.Parse(fallback); err == nil {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return English
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return English
	}
	return supported[idx]
}

// MonthLabel renders k for display, e.g. "January 2024" or "janeiro de 2024".
func (l Locale) MonthLabel(k core.MonthKey) string {
	if k.Month < time.January || k.Month > time.December {
		return k.String()
	}
	return fmt.Sprintf(l.monthFmt, l.months[k.Month-1], k.Year)
}

// Date renders the calendar date of t in UTC.
func (l Locale) Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(l.dateFmt)
}

// Money rounds d half away from zero to cents and formats it with the
// locale's currency symbol and separators.
func (l Locale) Money(d decimal.Decimal) string {
	neg := d.IsNegative()
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if neg && fixed != "0.00" {
		b.WriteByte('-')
	}
	b.WriteString(l.symbol)
	b.WriteString(l.symbolSep)
	b.WriteString(groupThousands(intPart, l.group))
	b.WriteString(l.decimal)
	b.WriteString(frac)
	return b.String()
}

func groupThousands(digits, sep string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
