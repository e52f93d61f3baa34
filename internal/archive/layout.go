// Package archive uploads finished capture files to Dropbox so local
// storage can be reclaimed without losing the audio.
package archive

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Ambiente-MSL/clipradio/internal/domain"
)

// Remote folder layouts.
const (
	LayoutFlat      = "flat"
	LayoutHierarchy = "hierarchy"
)

const defaultBasePath = "/clipradio/audio"

// Destination is where one file should land remotely.
type Destination struct {
	RemotePath string
	RemoteName string
}

// BuildAudioDestination computes the remote path for a capture file.
// Flat layout keeps the local file name directly under the base path.
// Hierarchy layout files by year, month, state, city and station:
//
//	<base>/2026/08/CE/FORTALEZA/RADIO-VERDES-MARES/ARQUIVOS/<name>
//
// and renames the file to <RADIO>_<yyyymmdd-hhmm>_<id>.<ext> so a human
// browsing the folder can tell recordings apart. The hierarchy rename
// only applies when the radio metadata needed for the folders is present.
func BuildAudioDestination(basePath, layout string, rec *domain.Recording, radio *domain.Radio, capturedAt time.Time) Destination {
	base := normalizeBasePath(basePath)
	name := rec.ArquivoNome

	if layout != LayoutHierarchy || radio == nil || radio.Estado == "" || radio.Cidade == "" || radio.Nome == "" {
		return Destination{
			RemotePath: path.Join(base, name),
			RemoteName: name,
		}
	}

	ext := path.Ext(name)
	renamed := fmt.Sprintf("%s_%s_%s%s",
		slugUpper(radio.Nome),
		capturedAt.Format("20060102-1504"),
		rec.ID,
		ext,
	)
	remoteDir := path.Join(base,
		capturedAt.Format("2006"),
		capturedAt.Format("01"),
		slugUpper(radio.Estado),
		slugUpper(radio.Cidade),
		slugUpper(radio.Nome),
		"ARQUIVOS",
	)
	return Destination{
		RemotePath: path.Join(remoteDir, renamed),
		RemoteName: renamed,
	}
}

// normalizeBasePath accepts either a Dropbox-relative path or a pasted
// dropbox.com browser URL and returns a clean absolute remote path.
func normalizeBasePath(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return defaultBasePath
	}

	if strings.Contains(base, "dropbox.com") {
		for _, marker := range []string{"/work/", "/home/"} {
			if idx := strings.Index(base, marker); idx >= 0 {
				base = base[idx+len(marker)-1:]
				break
			}
		}
		if strings.Contains(base, "dropbox.com") {
			return defaultBasePath
		}
		if idx := strings.IndexAny(base, "?#"); idx >= 0 {
			base = base[:idx]
		}
	}

	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return path.Clean(base)
}

var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// slugUpper folds accents away and uppercases, replacing separators with
// dashes, so remote folder names stay portable.
func slugUpper(s string) string {
	folded, _, err := transform.String(asciiFold, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToUpper(folded) {
		switch {
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
