package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/carein/triageflow/internal/evaluation"
	"github.com/carein/triageflow/internal/flow"
	"github.com/carein/triageflow/internal/models"
)

var (
	botStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			PaddingLeft(1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true).
			PaddingLeft(4)

	optionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			PaddingLeft(3)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)

	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

const progressWidth = 20

// transcriptView prints the conversation incrementally. It remembers how many
// messages it has shown so that a rewind can be detected.
type transcriptView struct {
	w         io.Writer
	printed   int
	lastError string
}

func newTranscriptView(w io.Writer) *transcriptView {
	return &transcriptView{w: w}
}

// Render prints whatever changed since the previous call.
func (v *transcriptView) Render(s flow.State) {
	if len(s.Messages) < v.printed {
		fmt.Fprintln(v.w, dimStyle.Render("  (reponse modifiee)"))
		v.printed = len(s.Messages)
	}
	if v.printed == 0 && len(s.PriorAnswers) > 0 {
		v.renderPrior(s.PriorAnswers)
	}
	for _, m := range s.Messages[v.printed:] {
		fmt.Fprintln(v.w, renderMessage(m))
	}
	v.printed = len(s.Messages)

	if s.ErrorMessage != "" && s.ErrorMessage != v.lastError {
		fmt.Fprintln(v.w, errorStyle.Render(s.ErrorMessage))
	}
	v.lastError = s.ErrorMessage
}

func (v *transcriptView) renderPrior(prior []models.Answer) {
	fmt.Fprintln(v.w, dimStyle.Render("Reponses deja enregistrees :"))
	for _, a := range prior {
		fmt.Fprintln(v.w, dimStyle.Render("  - "+models.AnswerDisplay(a.Value, a.Display)))
	}
}

func renderMessage(m models.ChatMessage) string {
	if m.Role == models.RoleUser {
		return userStyle.Render("> " + m.Text)
	}
	return botStyle.Render(m.Text)
}

// renderPrompt describes how to answer q.
func renderPrompt(q models.Question, progress float64) string {
	var b strings.Builder
	b.WriteString(renderProgress(progress))
	b.WriteString("\n")
	for i, opt := range q.Options {
		label := opt.Label
		if label == "" {
			label = opt.Value
		}
		b.WriteString(optionStyle.Render(fmt.Sprintf("%d. %s", i+1, label)))
		b.WriteString("\n")
	}
	switch q.Type {
	case models.QuestionTypeBoolean:
		if len(q.Options) == 0 {
			b.WriteString(optionStyle.Render("oui / non"))
			b.WriteString("\n")
		}
	case models.QuestionTypeSelectMultiple:
		b.WriteString(dimStyle.Render("  plusieurs choix possibles, separes par des virgules"))
		b.WriteString("\n")
	case models.QuestionTypeFile, models.QuestionTypeImage, models.QuestionTypeAudio, models.QuestionTypeVideo:
		b.WriteString(dimStyle.Render("  /file <chemin> pour joindre un fichier"))
		b.WriteString("\n")
	}
	if q.Placeholder != "" {
		b.WriteString(dimStyle.Render("  " + q.Placeholder))
		b.WriteString("\n")
	}
	return b.String()
}

func renderProgress(p float64) string {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	filled := int(p * progressWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", progressWidth-filled)
	return progressStyle.Render(fmt.Sprintf("[%s] %3.0f%%", bar, p*100))
}

func renderReferral(c *evaluation.ReferralConflict) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(c.Title()))
	b.WriteString("\n")
	b.WriteString(c.Description())
	if c.Resumable() {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("/resume pour reprendre l'evaluation en cours"))
	}
	return b.String()
}

func renderCompletion() string {
	return titleStyle.Render("Evaluation terminee") + "\n" +
		dimStyle.Render("/edit pour modifier la derniere reponse, /quit pour quitter")
}

func renderNotice(text string) string {
	return noticeStyle.Render(text)
}
