package explain

import (
	"math"
	"sort"

	"github.com/opensource-finance/watchpost/internal/calibrate"
	"github.com/opensource-finance/watchpost/internal/domain"
)

type candidate struct {
	kind   domain.QuestionKind
	target string
	pYes   float64
	llr    float64
	prompt string
	skip   bool
}

// GenerateQuestions ranks follow-ups by expected entropy reduction of the
// calibrated threat probability. Follow-ups the incident already answers are
// left out. Ties keep the fixed order doorbell log, delivery token, face
// capture, second angle.
func GenerateQuestions(inc *domain.Incident, fused domain.Evidence, cal *calibrate.Calibrator, cfg domain.ReasonerConfig) []domain.Question {
	p0, raw, err := cal.Probability(fused)
	if err != nil {
		return nil
	}
	h0 := calibrate.Entropy(p0)

	candidates := []candidate{
		{
			kind:   domain.QuestionCheckDoorbell,
			pYes:   cfg.PRing,
			llr:    cfg.RingLLR,
			prompt: "Did the visitor ring the doorbell or knock?",
			skip:   inc.RangDoorbell() || inc.Knocked(),
		},
		{
			kind:   domain.QuestionCheckDeliveryToken,
			pYes:   cfg.PToken,
			llr:    cfg.TokenLLR,
			prompt: "Is there a scheduled delivery or service token for this visit?",
			skip:   inc.HasToken(),
		},
		{
			kind:   domain.QuestionImproveFace,
			pYes:   cfg.PFaceImprovable,
			llr:    cfg.FaceGainLLR,
			prompt: "Can a clearer face capture be obtained?",
			skip:   inc.Ledger.Resolved,
		},
		{
			kind:   domain.QuestionSecondAngle,
			target: cfg.SecondAngleCamera,
			pYes:   cfg.PSecondAngle,
			llr:    cfg.FaceGainLLR,
			prompt: "Is a second camera angle available?",
			skip:   len(inc.Cameras) >= 2,
		},
	}

	questions := make([]domain.Question, 0, len(candidates))
	for _, c := range candidates {
		if c.skip {
			continue
		}
		pPost, err := cal.FromRaw(raw + c.llr)
		if err != nil {
			continue
		}
		expected := c.pYes*calibrate.Entropy(pPost) + (1-c.pYes)*h0
		questions = append(questions, domain.Question{
			Kind:              c.kind,
			Target:            c.target,
			ExpectedReduction: math.Max(h0-expected, 0),
			Prompt:            c.prompt,
		})
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].ExpectedReduction > questions[j].ExpectedReduction
	})
	return questions
}
