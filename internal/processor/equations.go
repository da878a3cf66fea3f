package processor

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	maxEquations      = 10
	minEquationLength = 3
)

// equationPatterns are applied in order; earlier patterns win ties on length
var equationPatterns = []*regexp.Regexp{
	// equality expressions, including a leading coefficient: 2x + 5 = 15
	regexp.MustCompile(`(?i)\d*[a-z]\s*[²³⁴⁵⁶⁷⁸⁹]?\s*[+\-*/=]\s*[^.!?]*=[^.!?]*`),
	// numeric equalities: 3 + 4 = 7
	regexp.MustCompile(`\d+\s*[+\-*/×÷]\s*\d+(?:\s*[+\-*/×÷]\s*\d+)*\s*=\s*\d+`),
	// polynomials: x² + 3x - 4
	regexp.MustCompile(`(?i)[a-z]\s*[²³⁴⁵⁶⁷⁸⁹]\s*[+\-]\s*\d*[a-z]\s*[+\-]?\s*\d*`),
	// caret exponents: x^2
	regexp.MustCompile(`(?i)[a-z]\s*\^\s*\d+`),
	// superscript exponents: x²
	regexp.MustCompile(`(?i)[a-z]\s*[²³⁴⁵⁶⁷⁸⁹]`),
	// fractions: 3/4
	regexp.MustCompile(`\d+/\d+`),
	// parenthesised fractions: (1 + 2)/3
	regexp.MustCompile(`\(\s*\d+\s*[+\-*/]\s*\d+\s*\)\s*/\s*\d+`),
	// common mathematical symbols followed by an operand
	regexp.MustCompile(`(?i)[∫∑√±≤≥≠∞∂∆∇].*?[a-z0-9]`),
	// function-call notation: f(x), sin(2x)
	regexp.MustCompile(`(?i)[a-z]+\s*\(\s*[a-z0-9+\-*/\s,]+\s*\)`),
	// matrix-like bracket notation: [1, 2, 3]
	regexp.MustCompile(`\[\s*[0-9+\-*/\s,]+\s*\]`),
}

// ExtractEquations returns up to ten distinct mathematical expressions found
// in text, longest first. Equal-length matches keep discovery order.
func ExtractEquations(text string) []string {
	equations := []string{}
	if strings.TrimSpace(text) == "" {
		return equations
	}

	seen := make(map[string]struct{})
	for _, pattern := range equationPatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			match = strings.TrimSpace(match)
			if utf8.RuneCountInString(match) < minEquationLength {
				continue
			}
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			equations = append(equations, match)
		}
	}

	sort.SliceStable(equations, func(i, j int) bool {
		return utf8.RuneCountInString(equations[i]) > utf8.RuneCountInString(equations[j])
	})

	if len(equations) > maxEquations {
		equations = equations[:maxEquations]
	}
	return equations
}
