package ledger

import (
	"fmt"
	"strings"
)

// Categories are the eight fixed consumption categories a record's Type
// should fall into (居民消费八大类). The extractor prompt constrains the
// model to these labels; the store itself does not reject other values —
// an out-of-set label is a data-quality issue, not a storage error.
var Categories = []string{
	"食品烟酒",
	"衣着",
	"居住",
	"生活用品及服务",
	"交通通信",
	"教育文化娱乐",
	"医疗保健",
	"其它用品及服务",
}

// Record is one consumption-ledger entry. Pointer fields are nullable:
// when extraction cannot resolve a field it stays nil and is persisted as
// SQL NULL, never as an empty string.
type Record struct {
	ID              int64    `json:"id"`
	Item            *string  `json:"item"`
	Cost            *float64 `json:"cost"` // negative = expense, positive = income
	Time            *string  `json:"time"` // YYYY-MM-DD
	Type            *string  `json:"type"`
	Subtype         *string  `json:"subtype"`
	OriginalMessage *string  `json:"original_message"`
}

// Summary renders the record as a compact single line for system messages
// and CLI listings. Nil fields show as "null".
func (r Record) Summary() string {
	var sb strings.Builder
	sb.WriteString("item=")
	sb.WriteString(strOrNull(r.Item))
	sb.WriteString(" cost=")
	if r.Cost != nil {
		fmt.Fprintf(&sb, "%.2f", *r.Cost)
	} else {
		sb.WriteString("null")
	}
	sb.WriteString(" time=")
	sb.WriteString(strOrNull(r.Time))
	sb.WriteString(" type=")
	sb.WriteString(strOrNull(r.Type))
	sb.WriteString(" subtype=")
	sb.WriteString(strOrNull(r.Subtype))
	return sb.String()
}

func strOrNull(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}

// ResultSet holds the outcome of an arbitrary synthesized query. Values are
// rendered to strings at scan time since the column types are unknown.
type ResultSet struct {
	Columns []string
	Rows    [][]string
}

// Empty reports whether the result set has no rows.
func (rs ResultSet) Empty() bool { return len(rs.Rows) == 0 }

// String renders the result set as one header line plus one line per row,
// pipe-separated. Suitable for embedding into a system message.
func (rs ResultSet) String() string {
	if len(rs.Columns) == 0 {
		return "(no result)"
	}
	var sb strings.Builder
	sb.WriteString(strings.Join(rs.Columns, " | "))
	for _, row := range rs.Rows {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(row, " | "))
	}
	return sb.String()
}
