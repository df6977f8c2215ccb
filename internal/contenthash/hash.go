// Package contenthash computes a stable digest over normalized workbook
// content so that a genuine correction can be told apart from a re-encoded
// copy of the same data.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/ignite/sheetguard/internal/workbook"
)

// Field and row separators for the canonical serialization. Unit and record
// separator control characters cannot occur in cell text.
const (
	fieldSep = "\x1f"
	rowSep   = "\x1e"
)

// Table returns the hex SHA-256 digest of the table's canonical form:
// rows in source order, columns sorted by name, scalars normalized. Two
// logically identical row sets hash identically regardless of incidental
// formatting introduced by re-encoding.
func Table(t *workbook.Table) string {
	h := sha256.New()
	for _, row := range t.Rows {
		names := make([]string, 0, len(row.Values))
		for name := range row.Values {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			h.Write([]byte(name))
			h.Write([]byte{'='})
			h.Write([]byte(canonical(row.Values[name])))
			h.Write([]byte(fieldSep))
		}
		h.Write([]byte(rowSep))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FileID derives the stable logical file identifier from a content digest,
// so byte-identical resubmissions map onto the same file record.
func FileID(digest string) string {
	if len(digest) > 16 {
		digest = digest[:16]
	}
	return "file_" + digest
}

func canonical(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return "s:" + val
	case float64:
		return "n:" + strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(val)
	default:
		return fmt.Sprintf("v:%v", val)
	}
}
