package domain

import "strings"

// ComplexityClass buckets a complexity score into four levels.
type ComplexityClass string

const (
	ComplexitySimple      ComplexityClass = "simple"
	ComplexityModerate    ComplexityClass = "moderate"
	ComplexityComplex     ComplexityClass = "complex"
	ComplexityVeryComplex ComplexityClass = "very_complex"
)

// Complexity is a static structural estimate of how expensive a query is to
// plan and run, derived purely from the SQL text. Score is bounded to [1,10].
type Complexity struct {
	Score       int             `json:"score"`
	Class       ComplexityClass `json:"class"`
	Joins       int             `json:"joins"`
	Subqueries  int             `json:"subqueries"`
	Unions      int             `json:"unions"`
	Aggregates  int             `json:"aggregates"`
	Conditions  int             `json:"conditions"`
	OrderFields int             `json:"order_fields"`
	GroupFields int             `json:"group_fields"`
}

var aggregateFuncs = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
	"STRING_AGG": true, "ARRAY_AGG": true, "JSON_AGG": true,
}

// ScoreComplexity counts the structural features of sql and folds them into a
// bounded score. The score is monotonically non-decreasing in every counted
// feature.
func ScoreComplexity(sql string) Complexity {
	toks := tokenize(sql)

	var c Complexity
	selects := 0
	for i, t := range toks {
		switch t.word {
		case "SELECT":
			selects++
		case "JOIN":
			c.Joins++
		case "UNION", "INTERSECT", "EXCEPT":
			c.Unions++
		case "WHERE":
			c.Conditions++
		case "AND", "OR":
			c.Conditions++
		case "ORDER":
			if next(toks, i) == "BY" {
				c.OrderFields += fieldCount(toks, i+2)
			}
		case "GROUP":
			if next(toks, i) == "BY" {
				c.GroupFields += fieldCount(toks, i+2)
			}
		default:
			if aggregateFuncs[t.word] && next(toks, i) == "(" {
				c.Aggregates++
			}
		}
	}
	// Each UNION arm contributes a SELECT that is not a subquery.
	if s := selects - 1 - c.Unions; s > 0 {
		c.Subqueries = s
	}

	score := 1.0 +
		float64(c.Joins)*1.0 +
		float64(c.Subqueries)*1.5 +
		float64(c.Unions)*1.0 +
		float64(c.Aggregates)*0.5 +
		float64(c.Conditions)*0.25 +
		float64(c.OrderFields+c.GroupFields)*0.25

	c.Score = int(score + 0.5)
	if c.Score < 1 {
		c.Score = 1
	}
	if c.Score > 10 {
		c.Score = 10
	}
	c.Class = classify(c.Score)
	return c
}

func classify(score int) ComplexityClass {
	switch {
	case score <= 3:
		return ComplexitySimple
	case score <= 5:
		return ComplexityModerate
	case score <= 8:
		return ComplexityComplex
	default:
		return ComplexityVeryComplex
	}
}

type token struct {
	word  string // uppercased identifier/keyword, or single punctuation rune
	depth int    // parenthesis nesting at the token's position
}

func tokenize(sql string) []token {
	var toks []token
	depth := 0
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			toks = append(toks, token{word: strings.ToUpper(b.String()), depth: depth})
			b.Reset()
		}
	}
	for _, r := range sql {
		switch {
		case r == '_' || r >= '0' && r <= '9' ||
			r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r == '(':
			flush()
			toks = append(toks, token{word: "(", depth: depth})
			depth++
		case r == ')':
			flush()
			depth--
			toks = append(toks, token{word: ")", depth: depth})
		case r == ',':
			flush()
			toks = append(toks, token{word: ",", depth: depth})
		default:
			flush()
		}
	}
	flush()
	return toks
}

func next(toks []token, i int) string {
	if i+1 < len(toks) {
		return toks[i+1].word
	}
	return ""
}

// fieldCount counts the comma-separated fields of an ORDER BY / GROUP BY
// clause starting at toks[start], stopping at the next clause boundary.
func fieldCount(toks []token, start int) int {
	if start >= len(toks) {
		return 0
	}
	base := toks[start].depth
	fields := 1
	for i := start; i < len(toks); i++ {
		t := toks[i]
		if t.depth < base {
			break
		}
		if t.depth > base {
			continue
		}
		switch t.word {
		case "LIMIT", "OFFSET", "FETCH", "FOR", "UNION", "HAVING", "ORDER", "GROUP":
			return fields
		case ",":
			fields++
		}
	}
	return fields
}
