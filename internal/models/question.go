package models

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// QuestionType is the closed set of question kinds the flow can render.
type QuestionType string

const (
	QuestionTypeBoolean        QuestionType = "boolean"
	QuestionTypeText           QuestionType = "text"
	QuestionTypeNumber         QuestionType = "number"
	QuestionTypeSelectOne      QuestionType = "select_one"
	QuestionTypeSelectMultiple QuestionType = "select_multiple"
	QuestionTypeSlider         QuestionType = "slider"
	QuestionTypeDate           QuestionType = "date"
	QuestionTypeTime           QuestionType = "time"
	QuestionTypeRating         QuestionType = "rating"
	QuestionTypeFile           QuestionType = "file"
	QuestionTypeImage          QuestionType = "image"
	QuestionTypeAudio          QuestionType = "audio"
	QuestionTypeVideo          QuestionType = "video"
	QuestionTypeLocation       QuestionType = "location"
	QuestionTypeInfo           QuestionType = "info"
	QuestionTypeCustom         QuestionType = "custom"
	QuestionTypeValide         QuestionType = "valide"
)

// NormalizeQuestionType maps a backend type string (including its aliases) onto
// the closed enumeration. Unknown values become QuestionTypeText.
func NormalizeQuestionType(raw string) QuestionType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "select", "select_one", "single":
		return QuestionTypeSelectOne
	case "multi_select", "select_multiple", "multiple":
		return QuestionTypeSelectMultiple
	case "boolean", "yes_no":
		return QuestionTypeBoolean
	case "number", "numeric":
		return QuestionTypeNumber
	case "date":
		return QuestionTypeDate
	case "time":
		return QuestionTypeTime
	case "slider":
		return QuestionTypeSlider
	case "rating":
		return QuestionTypeRating
	case "file":
		return QuestionTypeFile
	case "image":
		return QuestionTypeImage
	case "audio":
		return QuestionTypeAudio
	case "video":
		return QuestionTypeVideo
	case "location":
		return QuestionTypeLocation
	case "info":
		return QuestionTypeInfo
	case "custom":
		return QuestionTypeCustom
	case "valide":
		return QuestionTypeValide
	default:
		return QuestionTypeText
	}
}

// IsUpload reports whether answers to this type are submitted as a file.
func (t QuestionType) IsUpload() bool {
	switch t {
	case QuestionTypeFile, QuestionTypeImage, QuestionTypeAudio, QuestionTypeVideo:
		return true
	}
	return false
}

// QuestionOption is a selectable value with its display label.
type QuestionOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// QuestionOptions decodes the option shapes sent by the backend: a list of
// strings, a list of {value,label} objects, or either encoded as a JSON string.
type QuestionOptions []QuestionOption

// UnmarshalJSON accepts every option shape handled by NormalizeOptions.
func (o *QuestionOptions) UnmarshalJSON(data []byte) error {
	*o = NormalizeOptions(gjson.ParseBytes(data))
	return nil
}

// Label returns the label of the option whose value matches, or value itself.
func (o QuestionOptions) Label(value string) string {
	for _, opt := range o {
		if opt.Value == value {
			return opt.Label
		}
	}
	return value
}

// NormalizeOptions converts a raw options payload into QuestionOptions.
// Unparseable payloads yield nil.
func NormalizeOptions(raw gjson.Result) QuestionOptions {
	if raw.Type == gjson.String {
		if !gjson.Valid(raw.Str) {
			return nil
		}
		raw = gjson.Parse(raw.Str)
	}
	if !raw.IsArray() {
		return nil
	}

	var options QuestionOptions
	raw.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String {
			options = append(options, QuestionOption{Value: item.Str, Label: item.Str})
			return true
		}
		value := item.Get("value")
		if !value.Exists() {
			value = item
		}
		label := item.Get("label")
		if !label.Exists() {
			label = item
		}
		options = append(options, QuestionOption{Value: value.String(), Label: label.String()})
		return true
	})
	return options
}

// Question is a normalized evaluation question.
type Question struct {
	ID          string          `json:"id"`
	Key         string          `json:"key"`
	Text        string          `json:"text"`
	Prompt      string          `json:"prompt,omitempty"`
	Type        QuestionType    `json:"type"`
	Options     QuestionOptions `json:"options,omitempty"`
	Min         *float64        `json:"min,omitempty"`
	Max         *float64        `json:"max,omitempty"`
	Step        *float64        `json:"step,omitempty"`
	Placeholder string          `json:"placeholder,omitempty"`
	ActionLabel string          `json:"actionLabel,omitempty"`
	BlocKey     string          `json:"bloc_key,omitempty"`
	MediaType   string          `json:"media_type,omitempty"`
	MediaURL    string          `json:"media_url,omitempty"`
}

// DisplayText is the text shown in the bot bubble for this question.
func (q Question) DisplayText() string {
	if q.Text != "" {
		return q.Text
	}
	return q.Prompt
}

// Normalized re-applies id/key defaults and type normalization, for questions
// that were decoded from local storage rather than from the wire.
func (q Question) Normalized() Question {
	if q.ID == "" {
		q.ID = q.Key
	}
	if q.ID == "" {
		q.ID = "question"
	}
	if q.Key == "" {
		q.Key = q.ID
	}
	q.Type = NormalizeQuestionType(string(q.Type))
	return q
}

// NormalizeQuestion converts a raw server question into a Question.
// It returns false when raw is not an object.
func NormalizeQuestion(raw gjson.Result) (Question, bool) {
	if !raw.IsObject() {
		return Question{}, false
	}

	id := firstPresent(raw, "id", "key")
	q := Question{
		ID:          "question",
		Type:        NormalizeQuestionType(raw.Get("type").String()),
		Options:     NormalizeOptions(raw.Get("options")),
		Min:         numberField(raw, "min"),
		Max:         numberField(raw, "max"),
		Step:        numberField(raw, "step"),
		Prompt:      raw.Get("prompt").String(),
		Placeholder: raw.Get("placeholder").String(),
		ActionLabel: raw.Get("actionLabel").String(),
		BlocKey:     raw.Get("bloc_key").String(),
		MediaType:   raw.Get("media_type").String(),
		MediaURL:    raw.Get("media_url").String(),
	}
	if id.Exists() {
		q.ID = id.String()
	}
	if key := raw.Get("key"); present(key) && key.String() != "" {
		q.Key = key.String()
	} else {
		q.Key = q.ID
	}
	if text := firstPresent(raw, "text", "label"); text.Exists() {
		q.Text = text.String()
	}
	return q, true
}

// NormalizeQuestionJSON is NormalizeQuestion over raw JSON bytes.
func NormalizeQuestionJSON(data json.RawMessage) (Question, bool) {
	if !gjson.ValidBytes(data) {
		return Question{}, false
	}
	return NormalizeQuestion(gjson.ParseBytes(data))
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// firstPresent returns the first field that exists and is not null.
func firstPresent(raw gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if r := raw.Get(path); present(r) {
			return r
		}
	}
	return gjson.Result{}
}

func numberField(raw gjson.Result, path string) *float64 {
	r := raw.Get(path)
	if r.Type != gjson.Number {
		return nil
	}
	v := r.Num
	return &v
}
