package parser

import (
	"reflect"
	"testing"

	"github.com/wakecap/siteguard-video-analyzer/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name           string
		response       string
		wantErr        bool
		wantSummary    string
		wantScore      int
		wantScoreSet   bool
		wantViolations int
		wantPositive   []string
	}{
		{
			name:         "valid response without violations",
			response:     `{"summary":"ok","safetyScore":90,"violations":[],"positiveObservations":["ppe worn"]}`,
			wantErr:      false,
			wantSummary:  "ok",
			wantScore:    90,
			wantScoreSet: true,
			wantPositive: []string{"ppe worn"},
		},
		{
			name:           "valid response with violations",
			response:       `{"summary":"two issues","safetyScore":55,"violations":[{"description":"worker without helmet","startTimeSeconds":10,"endTimeSeconds":12,"severity":"High"},{"description":"open edge","startTimeSeconds":40,"endTimeSeconds":51.5,"severity":"Critical","onScreenStartTime":"07:14:02"}],"positiveObservations":[]}`,
			wantErr:        false,
			wantSummary:    "two issues",
			wantScore:      55,
			wantScoreSet:   true,
			wantViolations: 2,
			wantPositive:   []string{},
		},
		{
			name:     "not json",
			response: `not json`,
			wantErr:  true,
		},
		{
			name:     "truncated json",
			response: `{"summary":"cut off","violations":[{"desc`,
			wantErr:  true,
		},
		{
			name:     "empty response",
			response: "",
			wantErr:  true,
		},
		{
			name: "markdown fenced json",
			response: "Here is the report:\n\n```json\n" +
				`{"summary":"fenced","safetyScore":70,"violations":[],"positiveObservations":[]}` +
				"\n```\nLet me know if you need more.",
			wantErr:      false,
			wantSummary:  "fenced",
			wantScore:    70,
			wantScoreSet: true,
			wantPositive: []string{},
		},
		{
			name: "fence without language identifier",
			response: "```\n" +
				`{"summary":"plain fence","violations":[],"positiveObservations":[]}` +
				"\n```",
			wantErr:      false,
			wantSummary:  "plain fence",
			wantPositive: []string{},
		},
		{
			name:           "model reported error with partial violations",
			response:       `{"error":"video too dark after 00:31","violations":[{"description":"missing harness","startTimeSeconds":5,"endTimeSeconds":9,"severity":"High"}],"positiveObservations":[]}`,
			wantErr:        true,
			wantViolations: 1,
			wantPositive:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.response)
			if result == nil {
				t.Fatal("Parse() returned nil")
			}

			if tt.wantErr && result.Error == "" {
				t.Errorf("Parse() expected Error to be set, got clean result")
			}
			if !tt.wantErr && result.Error != "" {
				t.Errorf("Parse() unexpected Error: %q", result.Error)
			}

			if result.Violations == nil {
				t.Error("Parse() Violations must never be nil")
			}
			if len(result.Violations) != tt.wantViolations {
				t.Errorf("Parse() violations = %d, want %d", len(result.Violations), tt.wantViolations)
			}

			if result.Summary != tt.wantSummary {
				t.Errorf("Parse() summary = %q, want %q", result.Summary, tt.wantSummary)
			}

			if tt.wantScoreSet {
				if result.SafetyScore == nil {
					t.Fatalf("Parse() safetyScore missing, want %d", tt.wantScore)
				}
				if *result.SafetyScore != tt.wantScore {
					t.Errorf("Parse() safetyScore = %d, want %d", *result.SafetyScore, tt.wantScore)
				}
			}

			if tt.wantPositive != nil && !reflect.DeepEqual(result.PositiveObservations, tt.wantPositive) {
				t.Errorf("Parse() positiveObservations = %v, want %v", result.PositiveObservations, tt.wantPositive)
			}

			if result.RawResponse != tt.response {
				t.Errorf("Parse() rawResponse not retained")
			}
		})
	}
}

func TestParseRecomputesDurations(t *testing.T) {
	result := Parse(`{"summary":"s","violations":[
		{"description":"a","startTimeSeconds":10,"endTimeSeconds":12,"durationSeconds":99,"severity":"Medium"},
		{"description":"b","startTimeSeconds":-3,"endTimeSeconds":2,"severity":"low"},
		{"description":"c","startTimeSeconds":8,"endTimeSeconds":5,"severity":"unknown level"}
	],"positiveObservations":[]}`)

	if result.Error != "" {
		t.Fatalf("unexpected parse error: %v", result.Error)
	}
	if len(result.Violations) != 3 {
		t.Fatalf("violations = %d, want 3", len(result.Violations))
	}

	for i, v := range result.Violations {
		if v.EndTimeSeconds < v.StartTimeSeconds {
			t.Errorf("violation %d: end %v < start %v", i, v.EndTimeSeconds, v.StartTimeSeconds)
		}
		if got, want := v.DurationSeconds, v.EndTimeSeconds-v.StartTimeSeconds; got != want {
			t.Errorf("violation %d: duration = %v, want %v", i, got, want)
		}
		if v.StartTimeSeconds < 0 {
			t.Errorf("violation %d: negative start %v", i, v.StartTimeSeconds)
		}
		if v.ThumbnailStatus != models.ThumbnailPending {
			t.Errorf("violation %d: thumbnail status = %q, want pending", i, v.ThumbnailStatus)
		}
	}

	if result.Violations[0].DurationSeconds != 2 {
		t.Errorf("violation 0 duration = %v, want 2", result.Violations[0].DurationSeconds)
	}
	if result.Violations[1].Severity != models.SeverityLow {
		t.Errorf("violation 1 severity = %q, want Low", result.Violations[1].Severity)
	}
	if result.Violations[2].Severity != models.SeverityInfo {
		t.Errorf("violation 2 severity = %q, want Info fallback", result.Violations[2].Severity)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	inputs := []string{
		`{"summary":"ok","safetyScore":90,"violations":[],"positiveObservations":["ppe worn"]}`,
		`not json`,
		`{"error":"could not process","violations":[],"positiveObservations":[]}`,
	}
	for _, in := range inputs {
		a := Parse(in)
		b := Parse(in)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("Parse(%q) not idempotent:\nfirst:  %+v\nsecond: %+v", in, a, b)
		}
	}
}

func TestParseClampsScore(t *testing.T) {
	result := Parse(`{"summary":"s","safetyScore":150,"violations":[],"positiveObservations":[]}`)
	if result.SafetyScore == nil || *result.SafetyScore != 100 {
		t.Errorf("safetyScore not clamped to 100: %v", result.SafetyScore)
	}
	result = Parse(`{"summary":"s","safetyScore":-4,"violations":[],"positiveObservations":[]}`)
	if result.SafetyScore == nil || *result.SafetyScore != 0 {
		t.Errorf("safetyScore not clamped to 0: %v", result.SafetyScore)
	}
}
