// Package ocr transcribes page images with a vision model and labels each
// page with a confidence derived from the model's own uncertainty markers.
package ocr

import (
	"strings"

	"github.com/fabfab/scanqa/document"
)

const (
	// UnclearMarker is written by the model in place of unreadable text.
	UnclearMarker = "[UNCLEAR]"
	// BlankMarker is written by the model for visibly empty fields.
	BlankMarker = "[BLANK]"

	DefaultUnclearThreshold = 8
)

// Prompt is the transcription instruction sent with every page image.
const Prompt = "Extract ONLY the text that is CLEARLY visible in this image.\n\n" +
	"Rules:\n" +
	"- DO NOT guess missing text\n" +
	"- DO NOT infer names, dates, or addresses\n" +
	"- If text is unreadable, write: " + UnclearMarker + "\n" +
	"- If a field is empty, write: " + BlankMarker + "\n" +
	"- Preserve original wording exactly\n"

// ScoreConfidence counts unclear markers in text. The page is low confidence
// only when the count is strictly greater than threshold.
func ScoreConfidence(text string, threshold int) (document.Confidence, int) {
	count := strings.Count(text, UnclearMarker)
	if count > threshold {
		return document.Low, count
	}
	return document.High, count
}
