package envelope

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// RepairResult carries the repaired bytes plus a record of whatever
// recoverable fixes were applied. The pipeline's repair stage copies
// FixesApplied into its State; nothing attaches them to the envelope or
// to a <huh>.
type RepairResult struct {
	Bytes        []byte
	FixesApplied []string
	Fatal        error
}

// Repair attempts to parse possibly-malformed XML and recover structure
// where the fix is unambiguous: stripping a stray BOM, closing a single
// trailing unclosed root tag, and re-escaping bare "&" characters that
// are not part of a recognized entity. Anything else is left to the
// XML parser to reject outright as Envelope malformed.
func Repair(raw []byte) RepairResult {
	var fixes []string

	work := raw
	if bytes.HasPrefix(work, []byte{0xEF, 0xBB, 0xBF}) {
		work = bytes.TrimPrefix(work, []byte{0xEF, 0xBB, 0xBF})
		fixes = append(fixes, "stripped-bom")
	}

	if fixed, changed := reescapeBareAmpersands(work); changed {
		work = fixed
		fixes = append(fixes, "reescaped-bare-ampersand")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(work); err == nil {
		return RepairResult{Bytes: work, FixesApplied: fixes}
	}

	if closed, changed := closeUnclosedRoot(work); changed {
		doc2 := etree.NewDocument()
		if err := doc2.ReadFromBytes(closed); err == nil {
			fixes = append(fixes, "closed-unclosed-root")
			return RepairResult{Bytes: closed, FixesApplied: fixes}
		}
	}

	return RepairResult{Bytes: work, FixesApplied: fixes, Fatal: fmt.Errorf("envelope: %s: unrecoverable parse failure", ErrEnvelopeMalformed)}
}

func reescapeBareAmpersands(b []byte) ([]byte, bool) {
	s := string(b)
	knownEntities := []string{"&amp;", "&lt;", "&gt;", "&apos;", "&quot;", "&#"}
	var out strings.Builder
	changed := false
	for i := 0; i < len(s); i++ {
		if s[i] == '&' {
			isKnown := false
			for _, ent := range knownEntities {
				if strings.HasPrefix(s[i:], ent) {
					isKnown = true
					break
				}
			}
			if !isKnown {
				out.WriteString("&amp;")
				changed = true
				continue
			}
		}
		out.WriteByte(s[i])
	}
	if !changed {
		return b, false
	}
	return []byte(out.String()), true
}

func closeUnclosedRoot(b []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[len(trimmed)-1] == '>' {
		idx := bytes.IndexByte(trimmed, '<')
		if idx < 0 {
			return b, false
		}
		end := bytes.IndexAny(trimmed[idx:], " \t\n/>")
		if end < 0 {
			return b, false
		}
		tag := string(trimmed[idx+1 : idx+end])
		if tag == "" || strings.HasPrefix(tag, "?") || strings.HasPrefix(tag, "!") {
			return b, false
		}
		if bytes.Contains(trimmed, []byte("</"+tag+">")) {
			return b, false
		}
		patched := append(append([]byte{}, trimmed...), []byte("</"+tag+">")...)
		return patched, true
	}
	return b, false
}
