package generator

import (
	"fmt"
	"math"
	"strings"

	"github.com/abaquiz/backend/internal/models"
)

var areaGuidance = map[models.ContentArea]string{
	models.AreaEthics: `Ethics focus areas:
- BACB Ethics Code sections and applications
- Multiple relationships and conflicts of interest
- Informed consent and assent
- Confidentiality boundaries
- Supervisory responsibilities
- Professional conduct in various settings`,

	models.AreaBehaviorAssessment: `Behavior Assessment focus areas:
- Functional behavior assessment (FBA) methods
- Indirect vs. direct assessment
- Identifying functions of behavior
- Baseline data collection
- Assessment tool selection
- Interpreting assessment results`,

	models.AreaBehaviorChangeProcedures: `Behavior-Change Procedures focus areas:
- Reinforcement and punishment procedures
- Extinction and its effects
- Differential reinforcement (DRA, DRI, DRO, DRL)
- Shaping, chaining, prompting
- Token economies and group contingencies
- Generalization and maintenance`,

	models.AreaConceptsAndPrinciples: `Concepts and Principles focus areas:
- Operant and respondent conditioning
- Stimulus control and discrimination
- Motivating operations (MOs)
- Verbal behavior (mand, tact, intraverbal, etc.)
- Rule-governed vs. contingency-shaped behavior
- Behavioral momentum and matching law`,

	models.AreaMeasurement: `Measurement focus areas:
- Data collection methods (frequency, duration, latency, IRT)
- IOA calculation methods
- Visual analysis of graphs
- Variability, trend, and level
- Continuous vs. discontinuous measurement
- Validity and reliability of measures`,

	models.AreaExperimentalDesign: `Experimental Design focus areas:
- Single-subject designs (reversal, multiple baseline, alternating treatment)
- Internal and external validity threats
- Baseline logic and steady state
- Replication types
- When to use each design type
- Interpreting design results`,

	models.AreaInterventions: `Interventions focus areas:
- Evidence-based practice selection
- Intervention planning and goal setting
- Treatment integrity monitoring
- Social validity considerations
- Crisis/emergency protocols
- Transition and discharge planning`,

	models.AreaSupervision: `Supervision focus areas:
- RBT and trainee supervision requirements
- Feedback delivery methods
- Performance monitoring and evaluation
- Training and competency assessment
- Supervision documentation
- Ethical supervision practices`,

	models.AreaPhilosophicalUnderpinnings: `Philosophical Underpinnings focus areas:
- Radical behaviorism principles
- Determinism and selectionism
- Parsimony in explanation
- Pragmatism and scientific attitudes
- Public vs. private events
- Mentalism vs. behaviorism`,
}

var categoryInstructions = map[models.Category]string{
	models.CategoryScenario: `Create a SCENARIO-BASED question (clinical vignette):
- Present a realistic clinical situation with specific client details
- Include relevant background (age, diagnosis, setting, behavior description)
- Ask what the BCBA should do, what concept is being demonstrated, or what the likely outcome would be
- The scenario should require applying knowledge, not just recalling definitions
- Example contexts: home-based therapy, school setting, clinic, parent training, supervision`,

	models.CategoryDefinition: `Create a DEFINITION/CONCEPT question:
- Focus on testing understanding of a key term or principle
- Can ask for the best definition, what term describes something, or to identify examples
- Include subtle distinctions that require true understanding
- Good distractors should be related terms that are commonly confused
- Reference specific terminology from the BCBA Task List`,

	models.CategoryApplication: `Create an APPLICATION question (novel situation):
- Present a situation the candidate likely hasn't seen before
- Require applying principles to determine the best course of action
- Test transfer of learning to new contexts
- Focus on "what should happen" or "what would result" type questions
- Can involve troubleshooting, predicting outcomes, or selecting interventions`,
}

// AreaGuidance returns the topic list for an area.
func AreaGuidance(area models.ContentArea) string {
	return areaGuidance[area]
}

// CategoryInstruction returns the style block for a category, falling back
// to scenario.
func CategoryInstruction(c models.Category) string {
	if s, ok := categoryInstructions[c]; ok {
		return s
	}
	return categoryInstructions[models.CategoryScenario]
}

func TypeInstruction(t models.QuestionType) string {
	if t == models.TypeTrueFalse {
		return "Create a true/false question."
	}
	return "Create a multiple choice question with 4 options (A, B, C, D)."
}

func DeveloperPrompt() string {
	return `You are an expert BCBA (Board Certified Behavior Analyst) exam question writer creating practice questions based on the BCBA 5th Edition Task List content provided.

Guidelines:
1. All options should be plausible to someone who hasn't mastered the content
2. Avoid "all of the above" or "none of the above" options
3. Explanations should teach the concept and explain why the correct answer is right AND why each other option is wrong, addressing every distractor individually
4. Match BCBA certification exam difficulty and style
5. Reference specific ethics codes, task list items, or principles where relevant
6. Use diverse names, settings, and demographics in scenarios
7. Vary complexity - some questions should require multi-step reasoning

OPTIONS:
- multiple_choice: fill A, B, C and D; set True and False to null
- true_false: set True to "True" and False to "False"; set A, B, C and D to null
- correct_answer is the option key only (A, B, C, D, True or False)

SOURCE CITATION (required):
- section: the task list item or ethics code section the question tests (e.g. "B-7", "2.11")
- heading: the heading in the study content the question draws on
- quote: a short supporting excerpt from the study content, at most 50 words
- Use null for any part you cannot ground in the provided content

Requirements for variety in each batch:
- Mix categories: ~40% scenario-based, ~30% definition, ~30% application
- Each question must test a DIFFERENT concept
- Vary difficulty levels
- Vary the position of the correct answer across A-D`
}

// BuildSingleUserPrompt assembles the prompt for one question of a fixed
// type and category.
func BuildSingleUserPrompt(area models.ContentArea, t models.QuestionType, c models.Category, content string) string {
	return fmt.Sprintf(`Based on the following BCBA study content about %s, %s

QUESTION STYLE:
%s

%s

CONTENT:
%s

Generate a challenging but fair exam-style question that matches the requested style. Set "type" to %q and "category" to %q.`,
		area, TypeInstruction(t), CategoryInstruction(c), AreaGuidance(area), content, t, c)
}

// BuildBatchUserPrompt assembles the prompt for n questions in one area.
// mcRatio is the target share of multiple-choice questions.
func BuildBatchUserPrompt(area models.ContentArea, n int, mcRatio float64, content string) string {
	mcPct := int(math.Round(mcRatio * 100))

	var mix strings.Builder
	for i, cw := range models.CategoryWeights {
		if i > 0 {
			mix.WriteString(", ")
		}
		fmt.Fprintf(&mix, "~%d%% %s", int(math.Round(cw.Weight*100)), cw.Category)
	}

	return fmt.Sprintf(`Generate exactly %d BCBA exam questions about %s.

CONTENT AREA GUIDANCE:
%s

QUESTION STYLES:
%s

%s

%s

Target mix within the batch: %s.

STUDY CONTENT:
%s

Generate %d diverse questions testing different concepts within this area.
Include a mix of multiple choice and true/false questions (approximately %d%% MC, %d%% TF).
Set "category" on every question to the style it follows.`,
		n, area,
		AreaGuidance(area),
		CategoryInstruction(models.CategoryScenario),
		CategoryInstruction(models.CategoryDefinition),
		CategoryInstruction(models.CategoryApplication),
		mix.String(),
		content,
		n, mcPct, 100-mcPct)
}
