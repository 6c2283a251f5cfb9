package generator

import (
	"strings"
	"testing"

	"github.com/abaquiz/backend/internal/models"
)

func TestAllAreasHaveGuidance(t *testing.T) {
	for _, area := range models.AllContentAreas {
		g := AreaGuidance(area)
		if g == "" {
			t.Errorf("area %q has no guidance", area)
			continue
		}
		if !strings.Contains(g, "focus areas:") {
			t.Errorf("area %q guidance missing heading", area)
		}
		if n := strings.Count(g, "\n- "); n != 6 {
			t.Errorf("area %q guidance has %d topics, expected 6", area, n)
		}
	}
}

func TestCategoryInstructions(t *testing.T) {
	for c := range models.ValidCategories {
		if CategoryInstruction(c) == "" {
			t.Errorf("category %q has no instruction", c)
		}
	}
	if CategoryInstruction("trivia") != CategoryInstruction(models.CategoryScenario) {
		t.Error("unknown category should fall back to scenario")
	}
}

func TestTypeInstruction(t *testing.T) {
	if !strings.Contains(TypeInstruction(models.TypeMultipleChoice), "4 options (A, B, C, D)") {
		t.Error("multiple choice instruction should name the four options")
	}
	if !strings.Contains(TypeInstruction(models.TypeTrueFalse), "true/false") {
		t.Error("true/false instruction should mention true/false")
	}
}

func TestDeveloperPrompt(t *testing.T) {
	prompt := DeveloperPrompt()

	required := []string{"BCBA", "all of the above", "plausible", "SOURCE CITATION", "50 words", "DIFFERENT concept"}
	for _, keyword := range required {
		if !strings.Contains(prompt, keyword) {
			t.Errorf("developer prompt missing keyword %q", keyword)
		}
	}
}

func TestBuildBatchUserPrompt(t *testing.T) {
	prompt := BuildBatchUserPrompt(models.AreaEthics, 5, 0.8, "ETHICS CODE BODY")

	required := []string{
		"Generate exactly 5 BCBA exam questions about Ethics.",
		"Informed consent and assent",
		"SCENARIO-BASED",
		"DEFINITION/CONCEPT",
		"APPLICATION",
		"~40% scenario, ~30% definition, ~30% application",
		"approximately 80% MC, 20% TF",
		"ETHICS CODE BODY",
	}
	for _, keyword := range required {
		if !strings.Contains(prompt, keyword) {
			t.Errorf("batch prompt missing %q", keyword)
		}
	}
}

func TestBuildBatchUserPromptRatio(t *testing.T) {
	prompt := BuildBatchUserPrompt(models.AreaMeasurement, 3, 0.65, "body")
	if !strings.Contains(prompt, "approximately 65% MC, 35% TF") {
		t.Error("batch prompt should reflect the configured type ratio")
	}
}

func TestBuildSingleUserPrompt(t *testing.T) {
	prompt := BuildSingleUserPrompt(models.AreaSupervision, models.TypeTrueFalse, models.CategoryApplication, "CURRICULUM")

	required := []string{
		"about Personnel Supervision and Management",
		"Create a true/false question.",
		"APPLICATION question",
		"RBT and trainee supervision requirements",
		"CURRICULUM",
		`"true_false"`,
		`"application"`,
	}
	for _, keyword := range required {
		if !strings.Contains(prompt, keyword) {
			t.Errorf("single prompt missing %q", keyword)
		}
	}
}
