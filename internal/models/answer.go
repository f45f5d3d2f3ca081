package models

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// AnswerValue holds either a single string or a list of strings, mirroring the
// `string | string[]` value accepted by the evaluation API.
type AnswerValue struct {
	text   string
	list   []string
	isList bool
}

// TextValue returns a single-valued AnswerValue.
func TextValue(s string) AnswerValue {
	return AnswerValue{text: s}
}

// ListValue returns a multi-valued AnswerValue. A nil list is stored as empty.
func ListValue(values []string) AnswerValue {
	list := make([]string, len(values))
	copy(list, values)
	return AnswerValue{list: list, isList: true}
}

// IsList reports whether the value is multi-valued.
func (v AnswerValue) IsList() bool {
	return v.isList
}

// Strings returns the values; a single value yields a one-element slice.
func (v AnswerValue) Strings() []string {
	if v.isList {
		out := make([]string, len(v.list))
		copy(out, v.list)
		return out
	}
	return []string{v.text}
}

// String joins list values with ", ".
func (v AnswerValue) String() string {
	if v.isList {
		return strings.Join(v.list, ", ")
	}
	return v.text
}

// MarshalJSON encodes a string or an array of strings.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	if v.isList {
		list := v.list
		if list == nil {
			list = []string{}
		}
		return json.Marshal(list)
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON decodes any JSON value: arrays become lists, null becomes an
// empty string and scalars are coerced to their string form.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	*v = AnswerValueFrom(gjson.ParseBytes(data))
	return nil
}

// AnswerValueFrom coerces a raw JSON value into an AnswerValue.
func AnswerValueFrom(raw gjson.Result) AnswerValue {
	if raw.IsArray() {
		list := []string{}
		raw.ForEach(func(_, item gjson.Result) bool {
			list = append(list, item.String())
			return true
		})
		return AnswerValue{list: list, isList: true}
	}
	if !raw.Exists() || raw.Type == gjson.Null {
		return TextValue("")
	}
	return TextValue(raw.String())
}

// Answer is a recorded response to a question.
type Answer struct {
	QuestionID  string      `json:"questionId"`
	QuestionKey string      `json:"questionKey"`
	Value       AnswerValue `json:"value"`
	Display     string      `json:"display"`
}

// AnswerDisplay returns display when it is non-blank, otherwise the value joined with ", ".
func AnswerDisplay(value AnswerValue, display string) string {
	if strings.TrimSpace(display) != "" {
		return display
	}
	return value.String()
}
