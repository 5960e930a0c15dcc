package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// ErrParse is returned when a model response carries no usable JSON object
var ErrParse = errors.New("unparseable model response")

const reasonModelRequestedReview = "model requested human review"

// ParseResponse reads the structured extraction embedded in free-form model
// output. A {"status":"human"} payload becomes a human-review extraction.
func ParseResponse(raw string) (domain.Extraction, error) {
	obj, ok := firstJSONObject(raw)
	if !ok || !gjson.Valid(obj) {
		return domain.Extraction{}, ErrParse
	}

	if strings.EqualFold(gjson.Get(obj, "status").String(), domain.JobStatusHuman) {
		reason := gjson.Get(obj, "reason").String()
		if reason == "" {
			reason = reasonModelRequestedReview
		}
		return domain.Human(reason), nil
	}

	var result domain.ExtractionResult
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return domain.Extraction{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	return domain.Extraction{Result: &result}, nil
}

// ParseClassification reads the handwriting verdict of the triage prompt
func ParseClassification(raw string) (domain.Classification, error) {
	obj, ok := firstJSONObject(raw)
	if !ok || !gjson.Valid(obj) {
		return domain.Classification{}, ErrParse
	}

	flag := gjson.Get(obj, "isHandwritten")
	if !flag.Exists() {
		flag = gjson.Get(obj, "is_handwritten")
	}
	if !flag.Exists() {
		flag = gjson.Get(obj, "handwritten")
	}
	if !flag.Exists() {
		return domain.Classification{}, fmt.Errorf("%w: missing handwriting flag", ErrParse)
	}

	return domain.Classification{
		Handwritten: flag.Bool(),
		Text:        gjson.Get(obj, "text").String(),
	}, nil
}

// firstJSONObject returns the first balanced {...} in s, honoring string
// literals. When braces never balance it falls back to first '{' .. last '}'.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	end := strings.LastIndexByte(s, '}')
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}
