package flow

import (
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/carein/triageflow/internal/models"
)

// FallbackFileName is shown when an uploaded file has no name.
const FallbackFileName = "Fichier joint"

// Reply delay bounds, in milliseconds.
const (
	replyDelayBase    = 200
	replyDelayPerChar = 12
	replyDelayMin     = 220
	replyDelayMax     = 900
)

// FileAnswer is a file picked by the user for an upload question.
type FileAnswer struct {
	Name    string
	Content io.Reader
}

// Input is one user submission: a value, or a file for upload questions.
type Input struct {
	Value models.AnswerValue
	File  *FileAnswer
}

// TextInput wraps a single value.
func TextInput(value string) Input {
	return Input{Value: models.TextValue(value)}
}

// ListInput wraps a multi-choice selection.
func ListInput(values ...string) Input {
	return Input{Value: models.ListValue(values)}
}

// FileInput wraps a file upload.
func FileInput(name string, content io.Reader) Input {
	return Input{File: &FileAnswer{Name: name, Content: content}}
}

// FormatDisplay renders the user-facing text of an answer to q.
func FormatDisplay(q models.Question, in Input) string {
	if in.File != nil {
		return fileName(in.File)
	}
	if in.Value.IsList() {
		values := in.Value.Strings()
		labels := make([]string, 0, len(values))
		for _, v := range values {
			labels = append(labels, displayValue(q, v))
		}
		return strings.Join(labels, ", ")
	}
	return displayValue(q, in.Value.String())
}

func displayValue(q models.Question, value string) string {
	if q.Type == models.QuestionTypeBoolean {
		switch value {
		case "yes", "true":
			return "Oui"
		case "no", "false":
			return "Non"
		}
	}
	return q.Options.Label(value)
}

func fileName(f *FileAnswer) string {
	if f.Name == "" {
		return FallbackFileName
	}
	return f.Name
}

// ReplyDelay is the cosmetic pause before a bot reply of the given text.
func ReplyDelay(text string) time.Duration {
	ms := replyDelayBase + replyDelayPerChar*utf8.RuneCountInString(text)
	if ms < replyDelayMin {
		ms = replyDelayMin
	}
	if ms > replyDelayMax {
		ms = replyDelayMax
	}
	return time.Duration(ms) * time.Millisecond
}
