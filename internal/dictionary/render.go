package dictionary

import (
	"fmt"
	"io"
	"strings"
	"time"

	"rag-chat/internal/helper"

	"gopkg.in/yaml.v3"
)

// Section is one table entry of the dictionary.
type Section struct {
	Table       string
	Description string
	Columns     []Column
	Sample      string
	Query       string
}

func WriteHeader(w io.Writer, dbName string) error {
	_, err := fmt.Fprintf(w, "# Dicionário de Dados: %s\n\n", dbName)
	return err
}

func WriteSection(w io.Writer, s Section) error {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", s.Table)
	if d := strings.TrimSpace(s.Description); d != "" {
		b.WriteString(d)
		b.WriteString("\n\n")
	}
	if len(s.Columns) > 0 {
		b.WriteString("**Colunas:**\n")
		for _, c := range s.Columns {
			fmt.Fprintf(&b, "- `%s` (%s", c.Name, c.Type)
			if strings.EqualFold(c.Nullable, "YES") {
				b.WriteString(", aceita nulo")
			}
			b.WriteString(")\n")
		}
		b.WriteString("\n")
	}
	if s.Sample != "" {
		b.WriteString("**Amostra:**\n```yaml\n")
		b.WriteString(strings.TrimRight(s.Sample, "\n"))
		b.WriteString("\n```\n\n")
	}
	if s.Query != "" {
		fmt.Fprintf(&b, "**Consulta:** `%s`\n\n", s.Query)
	}
	b.WriteString("---\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// EncodeSample renders sample rows as YAML, every value as a string cut to
// maxLen runes.
func EncodeSample(rows []map[string]interface{}, maxLen int) (string, error) {
	clean := make([]map[string]string, len(rows))
	for i, row := range rows {
		m := make(map[string]string, len(row))
		for k, v := range row {
			m[k] = helper.Truncate(formatValue(v), maxLen)
		}
		clean[i] = m
	}
	out, err := yaml.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("failed to encode sample: %w", err)
	}
	return string(out), nil
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
