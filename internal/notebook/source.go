package notebook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Source is multiline cell text. On disk nbformat allows either a single string or a
// list of lines; both decode to the joined text and encoding always emits a list.
type Source string

func (s *Source) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = Source(str)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(b, &lines); err != nil {
		return fmt.Errorf("multiline string: %w", err)
	}
	*s = Source(strings.Join(lines, ""))
	return nil
}

func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Lines())
}

// Lines splits the text after each newline, keeping the newline characters.
func (s Source) Lines() []string {
	if s == "" {
		return []string{}
	}
	text := string(s)
	lines := make([]string, 0, strings.Count(text, "\n")+1)
	for text != "" {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			lines = append(lines, text)
			break
		}
		lines = append(lines, text[:i+1])
		text = text[i+1:]
	}
	return lines
}

func (s Source) String() string { return string(s) }
