package helper

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"vector-search/internal/models"
)

// suffixes stripped from filenames when building chunk ids
var documentSuffixes = []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".md", ".markdown", ".txt"}

// SanitizeFilename drops the directory, spaces and the document suffix
func SanitizeFilename(filename string) string {
	name := filepath.Base(filename)
	lower := strings.ToLower(name)
	for _, suffix := range documentSuffixes {
		if strings.HasSuffix(lower, suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	return strings.ReplaceAll(name, " ", "")
}

// ChunkID builds the deterministic id of a document chunk: <file>_<page>_<chunk>
func ChunkID(filename string, pageNumber, chunkIndex int) string {
	return fmt.Sprintf("%s_%d_%d", SanitizeFilename(filename), pageNumber, chunkIndex)
}

// QueryID hashes an ad-hoc query together with its timestamp.
// Identical queries issued at the same instant collide.
func QueryID(query string, ts time.Time) string {
	sum := md5.Sum([]byte(query + "_" + ts.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

// PointUUID maps an arbitrary string id onto a stable UUID
func PointUUID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

// Preview truncates text to at most n characters
func Preview(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}

// FormatMatches renders search results the way the CLI prints them
func FormatMatches(matches []models.Match) string {
	if len(matches) == 0 {
		return "No results found."
	}
	var b strings.Builder
	for i, m := range matches {
		label := strings.ReplaceAll(m.Metadata.Label(), "\n", " ")
		fmt.Fprintf(&b, "%d. %s\n", i+1, Preview(label, 120))
		if m.Metadata.SourceFilename != "" {
			fmt.Fprintf(&b, "   Source: %s (page %d, chunk %d)\n", m.Metadata.SourceFilename, m.Metadata.PageNumber, m.Metadata.ChunkIndex)
		}
		fmt.Fprintf(&b, "   Similarity: %.4f\n", m.Score)
	}
	return b.String()
}

// CreateFolder creates path and its parents if missing
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	return nil
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Error pretty printing")
		return
	}
	fmt.Println(string(b))
}
