package promptexec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Abraxas-365/convo/dialog"
	"github.com/mitchellh/mapstructure"
)

// Extractor pulls a typed value out of an event. ok is false when the event
// holds no acceptable value; err is reserved for bad prompt params.
type Extractor func(event dialog.Event, params map[string]any) (value any, ok bool, err error)

type textParams struct {
	MinLength int `json:"minLength"`
	MaxLength int `json:"maxLength"`
}

type numberParams struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

type booleanParams struct {
	Yes []string `json:"yes"`
	No  []string `json:"no"`
}

type choiceParams struct {
	Choices []string `json:"choices"`
}

type regexParams struct {
	Pattern string `json:"pattern"`
}

var (
	numberPattern = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

	defaultYes = []string{"yes", "y", "yeah", "yep", "sure", "ok", "si", "sí", "true"}
	defaultNo  = []string{"no", "n", "nope", "nah", "false"}
)

func extractText(event dialog.Event, params map[string]any) (any, bool, error) {
	var p textParams
	if err := decode(params, &p); err != nil {
		return nil, false, err
	}
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return nil, false, nil
	}
	if p.MinLength > 0 && len([]rune(text)) < p.MinLength {
		return nil, false, nil
	}
	if p.MaxLength > 0 && len([]rune(text)) > p.MaxLength {
		return nil, false, nil
	}
	return text, true, nil
}

func extractNumber(event dialog.Event, params map[string]any) (any, bool, error) {
	var p numberParams
	if err := decode(params, &p); err != nil {
		return nil, false, err
	}
	raw := numberPattern.FindString(payloadOrText(event))
	if raw == "" {
		return nil, false, nil
	}
	n, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil {
		return nil, false, nil
	}
	if p.Min != nil && n < *p.Min {
		return nil, false, nil
	}
	if p.Max != nil && n > *p.Max {
		return nil, false, nil
	}
	return n, true, nil
}

func extractBoolean(event dialog.Event, params map[string]any) (any, bool, error) {
	var p booleanParams
	if err := decode(params, &p); err != nil {
		return nil, false, err
	}
	yes, no := p.Yes, p.No
	if len(yes) == 0 {
		yes = defaultYes
	}
	if len(no) == 0 {
		no = defaultNo
	}

	text := normalize(payloadOrText(event))
	for _, w := range yes {
		if text == normalize(w) {
			return true, true, nil
		}
	}
	for _, w := range no {
		if text == normalize(w) {
			return false, true, nil
		}
	}
	return nil, false, nil
}

func extractChoice(event dialog.Event, params map[string]any) (any, bool, error) {
	var p choiceParams
	if err := decode(params, &p); err != nil {
		return nil, false, err
	}
	if len(p.Choices) == 0 {
		return nil, false, fmt.Errorf("choice prompt without choices")
	}

	text := normalize(payloadOrText(event))
	if text == "" {
		return nil, false, nil
	}
	for _, c := range p.Choices {
		if text == normalize(c) {
			return c, true, nil
		}
	}
	// a single choice mentioned inside a longer answer
	var found []string
	for _, c := range p.Choices {
		if strings.Contains(text, normalize(c)) {
			found = append(found, c)
		}
	}
	if len(found) == 1 {
		return found[0], true, nil
	}
	return nil, false, nil
}

func extractRegex(event dialog.Event, params map[string]any) (any, bool, error) {
	var p regexParams
	if err := decode(params, &p); err != nil {
		return nil, false, err
	}
	if p.Pattern == "" {
		return nil, false, fmt.Errorf("regex prompt without pattern")
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return nil, false, fmt.Errorf("invalid pattern %q: %w", p.Pattern, err)
	}
	m := re.FindStringSubmatch(event.Text)
	if m == nil {
		return nil, false, nil
	}
	if len(m) > 1 {
		return m[1], true, nil
	}
	return m[0], true, nil
}

// payloadOrText prefers the quick reply value carried in the payload.
func payloadOrText(event dialog.Event) string {
	if v, ok := event.Payload["value"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return event.Text
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(s), ".!?¡¿")))
}

func decode(params map[string]any, target any) error {
	if len(params) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("failed to decode prompt params: %w", err)
	}
	return nil
}
