// Package text normalizes input text before it reaches a synthesis model.
//
// Models trained on spoken transcripts read digits, abbreviations and
// bracketed references poorly. The Normalizer rewrites them into words while
// keeping URLs and email addresses intact.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	// MaxNumberForWords is the largest integer spelled out. Larger ones are kept as digits.
	MaxNumberForWords = 999999
)

// Regex patterns for text normalization.
const (
	urlRegexPattern        = `https?://\S+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern     = `\d+`
	referenceRegexPattern  = `\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	citationRegexPattern   = `\([^)]*\d{4}[^)]*\)`
	whitespaceRegexPattern = `\s+`
	looseStopRegexPattern  = `\s+([.,!?;:])`
	// Placeholders are spelled with letters so the number pass skips them.
	placeholderMark = "\x00"
	placeholderBase = 26
)

// Punctuation constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

var (
	ones = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tens = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

// Normalizer rewrites text into a form synthesis models read well. It is
// stateless after construction and safe to reuse.
type Normalizer struct {
	urlPattern        *regexp.Regexp
	emailPattern      *regexp.Regexp
	numberPattern     *regexp.Regexp
	referencePattern  *regexp.Regexp
	citationPattern   *regexp.Regexp
	whitespacePattern *regexp.Regexp
	looseStopPattern  *regexp.Regexp

	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
}

// NewNormalizer compiles the patterns once.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		numberPattern:     regexp.MustCompile(numberRegexPattern),
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		citationPattern:   regexp.MustCompile(citationRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		looseStopPattern:  regexp.MustCompile(looseStopRegexPattern),
		abbreviationReplacer: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Co.", "Company",
			"Ltd.", "Limited",
			"Corp.", "Corporation",
			"Inc.", "Incorporated",
		),
		punctuationReplacer: strings.NewReplacer(
			emDash, " - ",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize returns the cleaned text. Empty or whitespace-only input yields "".
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	protected, tokens := n.protect(text)

	protected = n.referencePattern.ReplaceAllString(protected, "")
	protected = n.citationPattern.ReplaceAllString(protected, "")
	protected = n.abbreviationReplacer.Replace(protected)
	protected = n.numberPattern.ReplaceAllStringFunc(protected, spellNumber)
	protected = n.punctuationReplacer.Replace(protected)
	protected = n.whitespacePattern.ReplaceAllString(protected, " ")
	protected = n.looseStopPattern.ReplaceAllString(protected, "$1")
	protected = collapseRepeatedPunctuation(strings.TrimSpace(protected))

	restored := restore(protected, tokens)

	return terminateSentence(restored)
}

// protect swaps URLs and emails for numbered placeholders so later passes
// cannot alter them.
func (n *Normalizer) protect(text string) (string, []string) {
	var tokens []string

	replace := func(match string) string {
		tokens = append(tokens, match)

		return placeholder(len(tokens) - 1)
	}

	text = n.urlPattern.ReplaceAllStringFunc(text, replace)
	text = n.emailPattern.ReplaceAllStringFunc(text, replace)

	return text, tokens
}

func restore(text string, tokens []string) string {
	for i := len(tokens) - 1; i >= 0; i-- {
		text = strings.ReplaceAll(text, placeholder(i), tokens[i])
	}

	return text
}

func placeholder(index int) string {
	letters := []byte{}
	for {
		letters = append(letters, byte('a'+index%placeholderBase))

		index /= placeholderBase
		if index == 0 {
			break
		}
	}

	return placeholderMark + string(letters) + placeholderMark
}

func collapseRepeatedPunctuation(text string) string {
	var (
		builder   strings.Builder
		lastPunct rune
	)

	for _, char := range text {
		if unicode.IsPunct(char) && char == lastPunct && char != '.' {
			continue
		}

		if unicode.IsPunct(char) {
			lastPunct = char
		} else {
			lastPunct = 0
		}

		builder.WriteRune(char)
	}

	return builder.String()
}

func terminateSentence(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(trimmed)
	switch lastChar {
	case '.', '!', '?':
		return trimmed
	default:
		return trimmed + "."
	}
}

func spellNumber(digits string) string {
	number, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}

	return IntegerToWords(number)
}

// IntegerToWords spells out 0..MaxNumberForWords in English. Other values are
// returned as digits.
func IntegerToWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / numberBaseThousand; thousands > 0 {
		parts = append(parts, underThousand(thousands)+" thousand")
	}

	if remainder := number % numberBaseThousand; remainder > 0 {
		parts = append(parts, underThousand(remainder))
	}

	return strings.Join(parts, " ")
}

func underThousand(number int) string {
	hundreds := number / numberBaseHundred
	remainder := number % numberBaseHundred

	switch {
	case hundreds == 0:
		return underHundred(remainder)
	case remainder == 0:
		return ones[hundreds] + " hundred"
	default:
		return ones[hundreds] + " hundred " + underHundred(remainder)
	}
}

func underHundred(number int) string {
	switch {
	case number < numberBaseTen:
		return ones[number]
	case number < numberBaseTwenty:
		return teens[number-numberBaseTen]
	case number%numberBaseTen == 0:
		return tens[number/numberBaseTen]
	default:
		return tens[number/numberBaseTen] + " " + ones[number%numberBaseTen]
	}
}
