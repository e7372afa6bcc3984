package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

var (
	numberRun = regexp.MustCompile(`\d+(?:[.,'\x{00A0}\x{202F}\x{2009}]\d+| \d{3}\b)*`)

	digitReplacer = strings.NewReplacer(
		"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
		"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
		"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
		"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
		"٫", ".", "٬", ",", "،", ",",
	)
)

// ParsePrice extracts the first amount from free price text and returns it in
// minor units. ok is false when the text carries no digits.
//
// Separator handling: when both "." and "," appear the right-most one is the
// decimal point. A lone comma followed by exactly three digits groups
// thousands; otherwise it is a decimal comma. A lone dot follows the same
// rule. Repeated separators of one kind always group, and so do spaces
// followed by three digits ("1 250").
func ParsePrice(text string) (minor int64, ok bool) {
	run := numberRun.FindString(digitReplacer.Replace(text))
	if run == "" {
		return 0, false
	}
	run = strings.NewReplacer("'", "", " ", "", "\u00a0", "", "\u202f", "", "\u2009", "").Replace(run)

	intPart, fracPart := splitDecimal(run)
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || whole > math.MaxInt64/100-1 {
		return 0, false
	}

	cents := int64(0)
	if fracPart != "" {
		padded := fracPart + "00"
		cents, _ = strconv.ParseInt(padded[:2], 10, 64)
		if len(fracPart) > 2 && fracPart[2] >= '5' {
			cents++
		}
	}
	return whole*100 + cents, true
}

func splitDecimal(run string) (string, string) {
	dot := strings.LastIndex(run, ".")
	comma := strings.LastIndex(run, ",")

	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			return strings.ReplaceAll(run[:dot], ",", ""), run[dot+1:]
		}
		return strings.ReplaceAll(run[:comma], ".", ""), run[comma+1:]
	case comma >= 0:
		if strings.Count(run, ",") > 1 || len(run)-comma-1 == 3 {
			return strings.ReplaceAll(run, ",", ""), ""
		}
		return run[:comma], run[comma+1:]
	case dot >= 0:
		if strings.Count(run, ".") > 1 || len(run)-dot-1 == 3 {
			return strings.ReplaceAll(run, ".", ""), ""
		}
		return run[:dot], run[dot+1:]
	default:
		return run, ""
	}
}

type currencyToken struct {
	token string
	code  string
	word  bool
}

// Symbols are matched before bare letters so that "E£" is not read as "£".
var currencyTokens = []currencyToken{
	{token: "E£", code: "EGP"},
	{token: "ج.م", code: "EGP"},
	{token: "جنيه", code: "EGP"},
	{token: "ر.س", code: "SAR"},
	{token: "ريال", code: "SAR"},
	{token: "د.إ", code: "AED"},
	{token: "درهم", code: "AED"},
	{token: "د.ك", code: "KWD"},
	{token: "US$", code: "USD"},
	{token: "€", code: "EUR"},
	{token: "£", code: "GBP"},
	{token: "$", code: "USD"},
	{token: "EGP", code: "EGP", word: true},
	{token: "L.E", code: "EGP", word: true},
	{token: "LE", code: "EGP", word: true},
	{token: "USD", code: "USD", word: true},
	{token: "EUR", code: "EUR", word: true},
	{token: "GBP", code: "GBP", word: true},
	{token: "SAR", code: "SAR", word: true},
	{token: "AED", code: "AED", word: true},
	{token: "KWD", code: "KWD", word: true},
	{token: "QAR", code: "QAR", word: true},
}

var currencyWords = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, t := range currencyTokens {
		if t.word {
			out[t.token] = regexp.MustCompile(`(?i)(?:^|[^\p{L}])` + regexp.QuoteMeta(t.token) + `(?:[^\p{L}]|$)`)
		}
	}
	return out
}()

// DetectCurrency finds a currency symbol or code in text and returns its ISO
// 4217 code, or an empty string when nothing is recognised.
func DetectCurrency(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if len(text) == 3 {
		if unit, err := currency.ParseISO(text); err == nil {
			return unit.String()
		}
	}
	for _, t := range currencyTokens {
		if t.word {
			if currencyWords[t.token].MatchString(text) {
				return t.code
			}
			continue
		}
		if strings.Contains(text, t.token) {
			return t.code
		}
	}
	return ""
}
