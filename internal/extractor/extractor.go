package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"cryptolaw-rag/internal/config"
	"cryptolaw-rag/internal/helper"
	"cryptolaw-rag/internal/llmservice"
	"cryptolaw-rag/internal/models"
	"cryptolaw-rag/internal/parser"
)

const (
	ModeOCR  = "ocr"
	ModeText = "text"

	filePrefix = "latest_guidance"
	baseDPI    = 72
)

// Document is a paginated file that can be rendered page by page. Pages are 0-based.
type Document interface {
	NumPage() int
	ImageDPI(page int, dpi float64) (*image.RGBA, error)
	Close() error
}

// Extractor turns the guidance PDF into the page transcript.
type Extractor struct {
	llm         llms.Model
	downloadDir string
	zoom        float64
	client      *http.Client
	open        func(path string) (Document, error)
	now         func() time.Time
	progress    bool
}

func New(llm llms.Model, cfg *config.ExtractorConfig) *Extractor {
	return &Extractor{
		llm:         llm,
		downloadDir: cfg.DownloadDir,
		zoom:        cfg.Zoom,
		client:      &http.Client{Timeout: 5 * time.Minute},
		open:        openPDF,
		now:         time.Now,
		progress:    helper.ProgressEnabled(),
	}
}

func openPDF(path string) (Document, error) {
	return fitz.New(path)
}

// Run extracts source with the given mode and writes the transcript to outPath.
func (e *Extractor) Run(ctx context.Context, source, mode, outPath string) ([]models.TranscriptRecord, error) {
	pdfPath, err := e.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}

	var records []models.TranscriptRecord
	switch mode {
	case ModeOCR, "":
		records, err = e.ExtractOCR(ctx, pdfPath)
	case ModeText:
		records, err = parser.ParsePDFText(pdfPath)
	default:
		return nil, fmt.Errorf("unknown extraction mode: %s", mode)
	}
	if err != nil {
		return nil, err
	}

	if err := WriteTranscript(outPath, records); err != nil {
		return nil, err
	}
	log.Info().Str("file", outPath).Int("pages", len(records)).Msg("Transcript written")
	return records, nil
}

// Fetch returns a local path for source, downloading it first when it is an http(s) URL.
func (e *Extractor) Fetch(ctx context.Context, source string) (string, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		if _, err := os.Stat(source); err != nil {
			return "", fmt.Errorf("pdf source not found: %w", err)
		}
		return source, nil
	}

	if err := helper.CreateFolder(e.downloadDir); err != nil {
		return "", fmt.Errorf("failed to create download folder: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download pdf: status %s", resp.Status)
	}

	path := filepath.Join(e.downloadDir, fmt.Sprintf("%s%d.pdf", filePrefix, e.now().Unix()))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to save pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	log.Info().Str("file", path).Msg("PDF downloaded")
	return path, nil
}

// ExtractOCR renders every page of pdfPath to PNG and transcribes it with one model call per page.
// A failed page call is logged and recorded as NULL; a render failure aborts.
func (e *Extractor) ExtractOCR(ctx context.Context, pdfPath string) ([]models.TranscriptRecord, error) {
	doc, err := e.open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer doc.Close()

	stamp := e.stamp(pdfPath)
	imageDir := filepath.Dir(pdfPath)
	total := doc.NumPage()
	log.Info().Str("file", pdfPath).Int("pages", total).Msg("Extracting text from pdf")

	bar := helper.NewProgress(e.progress, "ocr")
	bar.Start(total)
	defer bar.Finish()

	records := make([]models.TranscriptRecord, 0, total)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := i + 1

		data, err := e.renderPage(doc, i)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", page, err)
		}
		imagePath := filepath.Join(imageDir, fmt.Sprintf("%d_%s_%s.png", page, filePrefix, stamp))
		if err := os.WriteFile(imagePath, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to save page image: %w", err)
		}

		content, err := e.transcribe(ctx, data)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Error().Err(err).Int("page", page).Msg("OCR call failed, recording page as NULL")
			content = models.NullPage
		}
		records = append(records, models.TranscriptRecord{Page: page, Content: content})
		bar.Increment()
	}
	return records, nil
}

func (e *Extractor) renderPage(doc Document, i int) ([]byte, error) {
	img, err := doc.ImageDPI(i, baseDPI*e.zoom)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Extractor) transcribe(ctx context.Context, pageImage []byte) (string, error) {
	msg := llms.MessageContent{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextContent{Text: models.OCRPrompt},
			llms.BinaryPart("image/png", pageImage),
		},
	}
	text, err := llmservice.GenerateContent(ctx, e.llm, []llms.MessageContent{msg})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.NullPage, nil
	}
	return text, nil
}

// stamp reuses the unix time of a downloaded file name, falling back to now for local files
func (e *Extractor) stamp(pdfPath string) string {
	name := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	if ts, ok := strings.CutPrefix(name, filePrefix); ok {
		if _, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return ts
		}
	}
	return strconv.FormatInt(e.now().Unix(), 10)
}

// WriteTranscript writes records as an indented JSON array, replacing path atomically.
func WriteTranscript(path string, records []models.TranscriptRecord) error {
	data, err := parser.EncodeTranscript(records)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	if err := helper.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}
