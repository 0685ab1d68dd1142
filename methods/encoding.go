package methods

import (
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/unicode/norm"
)

// DefaultCharset is assumed for legacy DBF text when neither a .cpg file
// nor detection gives a usable answer.
const DefaultCharset = "windows-1252"

var charsetAliases = map[string]string{
	"GB-18030": "gb18030",
	"GBK":      "gbk",
	"ANSI":     "windows-1252",
	"LATIN1":   "iso-8859-1",
	"88591":    "iso-8859-1",
	"885915":   "iso-8859-15",
	"1252":     "windows-1252",
	"UTF8":     "utf-8",
	"65001":    "utf-8",
	"936":      "gbk",
}

// NormalizeCharset maps the free form names found in .cpg files and chardet
// results onto WHATWG encoding labels.
func NormalizeCharset(name string) string {
	name = strings.TrimSpace(name)
	upper := strings.ToUpper(name)
	upper = strings.TrimPrefix(upper, "ANSI ")
	upper = strings.TrimPrefix(upper, "CP")
	if alias, ok := charsetAliases[upper]; ok {
		return alias
	}
	if _, err := htmlindex.Get(name); err == nil {
		return strings.ToLower(name)
	}
	if _, err := htmlindex.Get("windows-" + upper); err == nil {
		return "windows-" + upper
	}
	return strings.ToLower(name)
}

// DetectCharset guesses the charset of a sample of raw bytes.
func DetectCharset(sample []byte) string {
	if utf8.Valid(sample) {
		return "utf-8"
	}
	res, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || res == nil || res.Confidence < 10 {
		return DefaultCharset
	}
	charset := NormalizeCharset(res.Charset)
	if _, err := htmlindex.Get(charset); err != nil {
		return DefaultCharset
	}
	return charset
}

// DecodeBytes converts raw bytes in charset to UTF-8. Valid UTF-8 input is
// returned as is whatever charset says.
func DecodeBytes(raw []byte, charset string) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	enc, err := htmlindex.Get(NormalizeCharset(charset))
	if err != nil {
		enc = charmap.Windows1252
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// FixEncoding repairs text that was UTF-8 but got decoded as Windows-1252
// (one or more times), then NFC normalizes the result.
func FixEncoding(s string) string {
	if s == "" {
		return s
	}
	for i := 0; i < 3 && looksMojibake(s); i++ {
		fixed, ok := undoLatin1(s, charmap.Windows1252)
		if !ok {
			fixed, ok = undoLatin1(s, charmap.ISO8859_1)
		}
		if !ok || fixed == s {
			break
		}
		s = fixed
	}
	return norm.NFC.String(s)
}

func undoLatin1(s string, cm *charmap.Charmap) (string, bool) {
	raw, err := cm.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(raw) {
		return "", false
	}
	return raw, true
}

// looksMojibake reports whether s contains the lead characters that UTF-8
// multi byte sequences turn into when read as Windows-1252.
func looksMojibake(s string) bool {
	for _, r := range s {
		switch {
		case r == 'Ã', r == 'Â', r == 'â', r == 'Å', r == 'Ð', r == 'Ñ':
			return true
		}
	}
	return false
}
