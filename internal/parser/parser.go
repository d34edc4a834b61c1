package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/tmc/langchaingo/textsplitter"

	"cryptolaw-rag/internal/models"
)

const (
	defaultChunkSize    = 10000 // runes
	defaultChunkOverlap = 1000  // runes
)

// LoadTranscript reads the extracted page records at path
func LoadTranscript(path string) ([]models.TranscriptRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeTranscript(data)
}

func DecodeTranscript(data []byte) ([]models.TranscriptRecord, error) {
	var records []models.TranscriptRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("invalid transcript json: %w", err)
	}
	return records, nil
}

// EncodeTranscript renders records as a two-space indented JSON array
func EncodeTranscript(records []models.TranscriptRecord) ([]byte, error) {
	if records == nil {
		records = []models.TranscriptRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CorpusText re-serializes raw transcript bytes into the text that gets chunked.
// An empty transcript yields "".
func CorpusText(data []byte) (string, error) {
	records, err := DecodeTranscript(data)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	text, err := EncodeTranscript(records)
	if err != nil {
		return "", fmt.Errorf("failed to serialize transcript: %w", err)
	}
	return string(text), nil
}

// SplitText cuts text into overlapping windows with the recursive character splitter
func SplitText(text string, chunkSize, chunkOverlap int) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = min(defaultChunkOverlap, chunkSize/2)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split corpus: %w", err)
	}

	var chunks []models.Chunk
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			Content: part,
			ChunkID: len(chunks) + 1,
		})
	}
	return chunks, nil
}

// ParsePDFText reads the embedded text layer of every page, without OCR.
// Pages with no text are recorded as NULL.
func ParsePDFText(filePath string) ([]models.TranscriptRecord, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := reader.NumPage()
	records := make([]models.TranscriptRecord, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		content := models.NullPage
		if !page.V.IsNull() {
			pageText, err := page.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("failed to read page %d: %w", i, err)
			}
			if text := strings.TrimSpace(pageText); text != "" {
				content = text
			}
		}
		records = append(records, models.TranscriptRecord{Page: i, Content: content})
	}
	return records, nil
}
