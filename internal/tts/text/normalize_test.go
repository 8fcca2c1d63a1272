package text_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/speech-worker/internal/tts/text"
)

type normalizeTestCase struct {
	name     string
	input    string
	expected string
}

func runNormalizeTests(t *testing.T, tests []normalizeTestCase) {
	t.Helper()

	normalizer := text.NewNormalizer()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, testCase.expected, normalizer.Normalize(testCase.input))
		})
	}
}

func TestNormalize_Empty(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()
	assert.Empty(t, normalizer.Normalize(""))
	assert.Empty(t, normalizer.Normalize("  \n\t "))
}

func TestNormalize_Abbreviations(t *testing.T) {
	t.Parallel()

	runNormalizeTests(t, []normalizeTestCase{
		{name: "mister", input: "Mr. Smith", expected: "Mister Smith."},
		{name: "doctor", input: "Dr. Johnson", expected: "Doctor Johnson."},
		{name: "several", input: "Mr. and Mrs. Smith", expected: "Mister and Misses Smith."},
		{name: "trailing", input: "Future Tech Inc.", expected: "Future Tech Incorporated."},
	})
}

func TestNormalize_Numbers(t *testing.T) {
	t.Parallel()

	runNormalizeTests(t, []normalizeTestCase{
		{name: "single digit", input: "There are 3 cars.", expected: "There are three cars."},
		{name: "teen", input: "I have 17 friends.", expected: "I have seventeen friends."},
		{name: "round tens", input: "Chapter 40", expected: "Chapter forty."},
		{name: "thousands", input: "Pay 5000 now", expected: "Pay five thousand now."},
		{name: "too large", input: "It cost 1000000", expected: "It cost 1000000."},
	})
}

func TestNormalize_PreservesURLsAndEmails(t *testing.T) {
	t.Parallel()

	runNormalizeTests(t, []normalizeTestCase{
		{
			name:     "url with digits",
			input:    "See https://example.com/page2 for 2 more",
			expected: "See https://example.com/page2 for two more.",
		},
		{
			name:     "email",
			input:    "Write to user42@example.org today",
			expected: "Write to user42@example.org today.",
		},
	})
}

func TestNormalize_RemovesReferences(t *testing.T) {
	t.Parallel()

	runNormalizeTests(t, []normalizeTestCase{
		{name: "bracket reference", input: "This is true [12].", expected: "This is true."},
		{name: "citation", input: "Models improve (Smith et al., 2020) quickly", expected: "Models improve quickly."},
	})
}

func TestNormalize_Punctuation(t *testing.T) {
	t.Parallel()

	runNormalizeTests(t, []normalizeTestCase{
		{name: "smart quotes", input: "“Hello” she said", expected: `"Hello" she said.`},
		{name: "repeated marks", input: "Stop!!!", expected: "Stop!"},
		{name: "ellipsis kept", input: "Wait…", expected: "Wait..."},
		{name: "em dash", input: "yes—no", expected: "yes - no."},
		{name: "whitespace", input: "a \n\t b", expected: "a b."},
	})
}

func TestIntegerToWords(t *testing.T) {
	t.Parallel()

	testCases := map[int]string{
		0:      "zero",
		7:      "seven",
		20:     "twenty",
		21:     "twenty one",
		100:    "one hundred",
		305:    "three hundred five",
		1001:   "one thousand one",
		42000:  "forty two thousand",
		999999: "nine hundred ninety nine thousand nine hundred ninety nine",
		-3:     "-3",
	}

	for number, expected := range testCases {
		assert.Equal(t, expected, text.IntegerToWords(number), "number %d", number)
	}
}
