package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/auditflow/auditflow/types"
)

// DefaultVisionTimeout is the vision/OCR agent's declared budget.
const DefaultVisionTimeout = 15 * time.Second

// OCRProcessor extracts text from an attached image. Real optical
// character recognition is an external collaborator behind this
// interface; the default processor returns a deterministic extraction.
type OCRProcessor interface {
	ExtractText(ctx context.Context, imagePath string) (types.OCRResult, error)
}

// VisionOCR runs OCR over attached images and converts extractions into
// citation-shaped visual evidence.
type VisionOCR struct {
	timeout   time.Duration
	processor OCRProcessor
}

// NewVisionOCR creates the vision/OCR agent. A nil processor falls back
// to the built-in mock extraction; a zero timeout uses the default budget.
func NewVisionOCR(timeout time.Duration, processor OCRProcessor) *VisionOCR {
	if timeout <= 0 {
		timeout = DefaultVisionTimeout
	}
	if processor == nil {
		processor = mockOCRProcessor{}
	}
	return &VisionOCR{timeout: timeout, processor: processor}
}

func (a *VisionOCR) Name() string { return NameVisionOCR }

func (a *VisionOCR) Timeout() time.Duration { return a.timeout }

func (a *VisionOCR) Execute(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
	images := imageAttachments(rc.Attachments)
	if len(images) == 0 {
		return types.VisionPayload{
			OCRResults:     []types.OCRResult{},
			VisionEvidence: []types.VisionDoc{},
			Message:        "No images provided for OCR",
		}, nil
	}

	var results []types.OCRResult
	var evidence []types.VisionDoc
	for i, path := range images {
		res, err := a.processor.ExtractText(ctx, path)
		if err != nil {
			// A single unreadable image degrades to an empty extraction
			// rather than failing the whole agent.
			res = types.OCRResult{
				ImageID:   fmt.Sprintf("img_%d", i),
				ImagePath: path,
			}
		}
		if res.ImageID == "" {
			res.ImageID = fmt.Sprintf("img_%d", i)
		}
		results = append(results, res)

		if res.ExtractedText != "" {
			evidence = append(evidence, types.VisionDoc{
				DocID:   fmt.Sprintf("VISION-%03d", i+1),
				ChunkID: res.ImageID,
				Content: res.ExtractedText,
			})
		}
	}

	return types.VisionPayload{
		OCRResults:     results,
		VisionEvidence: evidence,
		TotalProcessed: len(results),
	}, nil
}

func imageAttachments(attachments []string) []string {
	var out []string
	for _, a := range attachments {
		switch strings.ToLower(filepath.Ext(a)) {
		case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp":
			out = append(out, a)
		}
	}
	return out
}

// mockOCRProcessor returns a deterministic extraction describing a login
// screen with an OTP prompt, mirroring the demo fixtures.
type mockOCRProcessor struct{}

func (mockOCRProcessor) ExtractText(ctx context.Context, imagePath string) (types.OCRResult, error) {
	return types.OCRResult{
		ImagePath:     imagePath,
		ExtractedText: "Login screen: username and password fields, followed by a 6-digit SMS verification code prompt before access is granted.",
		Confidence:    0.9,
		DetectedElements: []string{
			"username_field", "password_field", "otp_prompt", "submit_button",
		},
	}, nil
}
