package parser

import (
	"encoding/json"
	"strings"

	"github.com/wakecap/siteguard-video-analyzer/models"
)

// extractJSONFromMarkdown extracts JSON from markdown code blocks. Models are
// told to answer with bare JSON but some wrap it in ``` fences anyway.
func extractJSONFromMarkdown(response string) string {
	startMarker := "```"
	endMarker := "```"

	startIdx := strings.Index(response, startMarker)
	if startIdx == -1 {
		// No code block found, try to find JSON object directly
		startIdx = strings.Index(response, "{")
		if startIdx == -1 {
			return response
		}
		endIdx := strings.LastIndex(response, "}")
		if endIdx == -1 {
			return response
		}
		return strings.TrimSpace(response[startIdx : endIdx+1])
	}

	// Find the end of the first code block
	endIdx := strings.Index(response[startIdx+len(startMarker):], endMarker)
	if endIdx == -1 {
		return response
	}
	endIdx += startIdx + len(startMarker)

	content := response[startIdx+len(startMarker) : endIdx]

	// Remove the language identifier if present (e.g., "json")
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > 0 && (strings.TrimSpace(lines[0]) == "json" || strings.TrimSpace(lines[0]) == "") {
		content = strings.Join(lines[1:], "\n")
	}

	return strings.TrimSpace(content)
}

// Parse converts one raw model response into a well-formed AnalysisResult.
// It never fails: a response that cannot be decoded yields a result with
// Error set, an empty violation list and the raw text retained for audit,
// so downstream code always receives the same shape. Parse is a pure
// function of its input.
func Parse(raw string) *models.AnalysisResult {
	cleaned := strings.TrimSpace(raw)
	jsonContent := extractJSONFromMarkdown(cleaned)

	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(jsonContent), &result); err != nil {
		return &models.AnalysisResult{
			Error:                "failed to parse model response as JSON: " + err.Error(),
			Violations:           []models.Violation{},
			PositiveObservations: []string{},
			RawResponse:          raw,
		}
	}

	// A decoded object may still carry an explicit error reported by the
	// model itself (e.g. it could not read the video). Keep whatever
	// partial violation data it supplied alongside the error.
	result.RawResponse = raw
	result.Normalize()
	return &result
}
