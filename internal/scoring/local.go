package scoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
)

// LocalScorer applies deterministic rubric rules. The same task and
// submission always produce the same result.
type LocalScorer struct{}

// NewLocalScorer returns the rubric scorer.
func NewLocalScorer() *LocalScorer {
	return &LocalScorer{}
}

func (l *LocalScorer) Score(_ context.Context, task *curriculum.TaskDefinition, sub Submission) (ScoreResult, error) {
	if err := Validate(task, sub); err != nil {
		return ScoreResult{}, err
	}
	res := ScoreResult{MaxScore: task.MaxScore, ScoredBy: learner.ScoredByLocal}
	for i := range task.Items {
		it := &task.Items[i]
		answer := sub.answer(it.ID)

		var score learner.ItemScore
		if task.Kind == curriculum.KindFreeText {
			score = scoreFreeText(it, task.Rubric, answer)
		} else {
			score = scoreExact(it, task.Rubric, answer)
		}
		res.Items = append(res.Items, score)
	}
	res.clamp()
	return res, nil
}

// scoreExact handles matching, fill-blank and quiz items.
func scoreExact(it *curriculum.Item, rubric curriculum.Rubric, answer string) learner.ItemScore {
	out := learner.ItemScore{ItemID: it.ID, Max: it.Points}
	if answer == "" {
		out.Feedback = "unanswered"
		return out
	}
	if CheckAnswer(answer, it, rubric.CaseSensitive) {
		out.Score = it.Points
		return out
	}
	out.Feedback = fmt.Sprintf("expected %q", it.Answer)
	return out
}

// CheckAnswer reports whether answer is accepted for item.
//
// Normalization rules:
//   - surrounding whitespace is trimmed and inner runs collapsed
//   - comparison is case-insensitive unless caseSensitive is set
//   - trailing sentence punctuation is ignored
//   - typographic apostrophes match ASCII ones
//   - numbers compare by value ("7.0" matches "7")
//   - for items with choices, a 1-based index selects that choice
func CheckAnswer(answer string, it *curriculum.Item, caseSensitive bool) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false
	}

	if len(it.Choices) > 0 {
		if idx, err := strconv.Atoi(answer); err == nil && idx >= 1 && idx <= len(it.Choices) {
			answer = it.Choices[idx-1]
		}
	}

	got := normalize(answer, caseSensitive)
	for _, want := range append([]string{it.Answer}, it.Accept...) {
		if want == "" {
			continue
		}
		if got == normalize(want, caseSensitive) {
			return true
		}
		if numericEqual(answer, want) {
			return true
		}
	}
	return false
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

func normalize(s string, caseSensitive bool) string {
	s = apostrophes.Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, ".!?,;")
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

func numericEqual(a, b string) bool {
	x, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return false
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return false
	}
	return x == y
}

// contrastMarkers are connectors that signal a contrast between ideas.
var contrastMarkers = []string{
	"but", "however", "although", "though", "whereas", "yet",
	"on the other hand", "even though", "despite", "unfortunately",
}

// scoreFreeText awards points in proportion to the rubric criteria met:
// enough expected concepts, a contrasting connector and a minimum length.
func scoreFreeText(it *curriculum.Item, rubric curriculum.Rubric, answer string) learner.ItemScore {
	out := learner.ItemScore{ItemID: it.ID, Max: it.Points}
	if answer == "" {
		out.Feedback = "unanswered"
		return out
	}

	words := tokenize(answer)
	var (
		criteria, met int
		missing       []string
	)

	if len(it.Concepts) > 0 {
		criteria++
		need := rubric.MinConcepts
		if need <= 0 {
			need = 1
		}
		if n := countConcepts(words, it.Concepts); n >= need {
			met++
		} else {
			missing = append(missing, fmt.Sprintf("mention at least %d of: %s", need, strings.Join(it.Concepts, ", ")))
		}
	}
	if rubric.RequireContrast {
		criteria++
		if hasContrast(words) {
			met++
		} else {
			missing = append(missing, "contrast two ideas (but, however, although)")
		}
	}
	if rubric.MinWords > 0 {
		criteria++
		if len(words) >= rubric.MinWords {
			met++
		} else {
			missing = append(missing, fmt.Sprintf("write at least %d words", rubric.MinWords))
		}
	}

	if criteria == 0 {
		out.Score = it.Points
		return out
	}
	out.Score = it.Points * met / criteria
	if len(missing) > 0 {
		out.Feedback = strings.Join(missing, "; ")
	}
	return out
}

// tokenize lowercases text and splits it into words, dropping
// punctuation but keeping in-word apostrophes.
func tokenize(s string) []string {
	s = strings.ToLower(apostrophes.Replace(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// countConcepts counts distinct concepts that start some word, so
// "visit" matches "visited" and "travel" matches "travelling".
func countConcepts(words, concepts []string) int {
	n := 0
	for _, c := range concepts {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if strings.Contains(c, " ") {
			if strings.Contains(" "+strings.Join(words, " ")+" ", " "+c) {
				n++
			}
			continue
		}
		for _, w := range words {
			if strings.HasPrefix(w, c) {
				n++
				break
			}
		}
	}
	return n
}

func hasContrast(words []string) bool {
	joined := " " + strings.Join(words, " ") + " "
	for _, m := range contrastMarkers {
		if strings.Contains(joined, " "+m+" ") {
			return true
		}
	}
	return false
}
