package fraud

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPatternDetectorMatches(t *testing.T) {
	d := NewPatternDetector(nil)
	ctx := context.Background()

	narrative := "I need the claim payment urgently, right now. The receipts were forged " +
		"by someone else and the witness is unavailable. This follows several prior accidents " +
		"over the last year, all documented carefully with the adjuster."

	res, err := d.Detect(ctx, narrative, nil)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.Score <= 0 {
		t.Error("narrative with fraud phrasing should score above zero")
	}
	if len(res.Indicators) == 0 {
		t.Error("expected pattern indicators")
	}
}

func TestPatternDetectorBriefNarrative(t *testing.T) {
	d := NewPatternDetector(nil)

	res, err := d.Detect(context.Background(), "Car crashed. Pay me.", nil)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	found := false
	for _, ind := range res.Indicators {
		if ind == "Unusually brief description" {
			found = true
		}
	}
	if !found {
		t.Error("narrative under 20 words should flag brevity")
	}
}

func TestPatternDetectorUrgencyPunctuation(t *testing.T) {
	d := NewPatternDetector(nil)

	calm := strings.Repeat("the incident happened on the highway near the exit ramp ", 3)
	urgent := calm + " pay now!!!! please!!"

	calmRes, _ := d.Detect(context.Background(), calm, nil)
	urgentRes, _ := d.Detect(context.Background(), urgent, nil)
	if urgentRes.Score <= calmRes.Score {
		t.Errorf("urgency punctuation should raise the score: calm=%v urgent=%v", calmRes.Score, urgentRes.Score)
	}
}

func TestPatternDetectorCapsAtOne(t *testing.T) {
	d := NewPatternDetector(nil)

	// Stack every heuristic: all six patterns, brevity cannot apply with
	// this much text, so pile on dates and exclamations instead.
	narrative := "fake forged receipts! urgent claim payment asap! multiple accidents and claims! " +
		"$50000 cash reimburse now! pre-existing damage from a prior condition! witness evidence lost! " +
		"1/1/2020 2/2/2020 3/3/2020 4/4/2020 5/5/2020 6/6/2020 !!!"

	res, err := d.Detect(context.Background(), narrative, nil)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.Score > 1.0 {
		t.Errorf("score %v exceeds cap of 1.0", res.Score)
	}
}

func TestStatisticalDetector(t *testing.T) {
	d := NewStatisticalDetector(50000)
	ctx := context.Background()

	res, err := d.Detect(ctx, "short plain words here", &Metadata{ClaimAmount: 1000})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.Score != 0 {
		t.Errorf("plain narrative with modest amount should score 0, got %v", res.Score)
	}

	res, err = d.Detect(ctx, "short plain words here", &Metadata{ClaimAmount: 75000})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if math.Abs(res.Score-0.15) > 1e-9 {
		t.Errorf("high claim amount should add 0.15, got %v", res.Score)
	}

	complex := "incomprehensibilities notwithstanding circumlocutionary administratively"
	res, err = d.Detect(ctx, complex, &Metadata{ClaimAmount: 75000})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if math.Abs(res.Score-0.25) > 1e-9 {
		t.Errorf("complex language plus high amount should score 0.25, got %v", res.Score)
	}
}

func TestStatisticalDetectorEmptyText(t *testing.T) {
	d := NewStatisticalDetector(50000)
	if _, err := d.Detect(context.Background(), "   ", nil); err == nil {
		t.Error("empty narrative should be a detector failure")
	}
}

func TestLoadSeedsFallsBackToBuiltins(t *testing.T) {
	r, err := LoadSeeds(t.TempDir())
	if err == nil {
		t.Error("empty seed dir should report an error")
	}
	if r == nil || r.TotalPatterns() == 0 {
		t.Fatal("fallback registry must carry the built-in patterns")
	}
}

func TestLoadSeedsFromYAML(t *testing.T) {
	dir := t.TempDir()
	seed := `patterns:
  - name: staged-accident
    category: fabrication
    regex: '\bstaged\b.*\baccident\b'
    weight: 0.2
    description: Staged accident phrasing
`
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(seed), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadSeeds(dir)
	if err != nil {
		t.Fatalf("LoadSeeds failed: %v", err)
	}
	if r.TotalPatterns() != 1 {
		t.Fatalf("got %d patterns, want 1", r.TotalPatterns())
	}
	matches := r.MatchAll("this was a STAGED highway accident")
	if len(matches) != 1 {
		t.Fatalf("expected seed pattern to match, got %d matches", len(matches))
	}
	if matches[0].Weight != 0.2 {
		t.Errorf("seed weight = %v, want 0.2", matches[0].Weight)
	}
}
