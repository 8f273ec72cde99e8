package extract

import (
	"strings"

	"github.com/hyperjump/neurobot/internal/models"
)

// Question and answer markers of the text block format. The Russian markers are the
// legacy knowledge.txt format.
var (
	questionMarkers = []string{"Question:", "Вопрос:"}
	answerMarkers   = []string{"Answer:", "Ответ:"}
)

// ParseBlocks splits text into question/answer pairs. A block starts at a line beginning
// with a question marker; the rest of that line is the question and the following lines
// up to the next block are the answer, with an optional leading answer marker removed.
// Text before the first marker is ignored.
func ParseBlocks(text string) []models.Entry {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var (
		out     []models.Entry
		current *models.Entry
		answer  []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Answer = strings.TrimSpace(strings.Join(answer, "\n"))
		out = append(out, *current)
		current, answer = nil, nil
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if q, ok := cutMarker(trimmed, questionMarkers); ok {
			flush()
			current = &models.Entry{Question: strings.TrimSpace(q)}
			continue
		}
		if current == nil {
			continue
		}
		if len(answer) == 0 {
			if trimmed == "" {
				continue
			}
			if a, ok := cutMarker(trimmed, answerMarkers); ok {
				answer = append(answer, strings.TrimSpace(a))
				continue
			}
		}
		answer = append(answer, strings.TrimRight(line, " \t"))
	}
	flush()
	return out
}

func cutMarker(line string, markers []string) (string, bool) {
	for _, m := range markers {
		if rest, ok := strings.CutPrefix(line, m); ok {
			return rest, true
		}
	}
	return "", false
}

// FormatBlocks renders entries in the text block format read by ParseBlocks.
func FormatBlocks(entries []models.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(questionMarkers[0] + " " + e.Question + "\n")
		b.WriteString(answerMarkers[0] + " " + e.Answer + "\n")
	}
	return b.String()
}
