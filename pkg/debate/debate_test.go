package debate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallax-labs/conclave/pkg/llmprovider"
	"github.com/parallax-labs/conclave/pkg/persona"
)

func writePersona(t *testing.T, dir, id string) {
	t.Helper()
	body := "id: " + id + "\ndisplay_name: \"" + id + "\"\nsystem_prompt: \"you are " + id + "\"\ntemperature: 0.5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(body), 0644))
}

func newManager(t *testing.T) *persona.Manager {
	dir := t.TempDir()
	writePersona(t, dir, "worker")
	writePersona(t, dir, "devil")
	writePersona(t, dir, "moderator")
	return persona.NewManager(persona.DirLoader{Dir: dir}, "worker")
}

type scriptedProvider struct {
	responses []string
	i         int
}

func (s *scriptedProvider) Chat(_ context.Context, _ llmprovider.Request) (*llmprovider.Response, error) {
	r := s.responses[s.i%len(s.responses)]
	s.i++
	return &llmprovider.Response{Content: r}, nil
}
func (s *scriptedProvider) ChatStream(context.Context, llmprovider.Request) (<-chan llmprovider.StreamChunk, error) {
	return nil, nil
}
func (s *scriptedProvider) Name() string { return "scripted" }

func TestRunApprovesWhenScoreBelowThreshold(t *testing.T) {
	e := &Engine{
		Personas: newManager(t),
		Provider: &scriptedProvider{responses: []string{
			`{"attack_vectors":[],"overall_assessment":"minor nit"}`,
			`{"validity_score": 2, "verdict": "APPROVE"}`,
		}},
		Model: "m",
	}
	res := e.Run(context.Background(), "draft v1", "build a thing", 3, 7.0)
	assert.True(t, res.Approved)
	assert.False(t, res.Escalated)
	assert.Equal(t, 1, res.TotalRounds)
	assert.Equal(t, "worker", e.Personas.CurrentID())
}

func TestRunEscalatesOnModeratorVerdict(t *testing.T) {
	e := &Engine{
		Personas: newManager(t),
		Provider: &scriptedProvider{responses: []string{
			`{"attack_vectors":[{"severity":"high","finding":"security hole"}]}`,
			`{"validity_score": 9, "verdict": "ESCALATE"}`,
		}},
		Model: "m",
	}
	res := e.Run(context.Background(), "draft v1", "build a thing", 3, 7.0)
	assert.True(t, res.Escalated)
	assert.False(t, res.Approved)
}

func TestRunForcesApprovalAtMaxRounds(t *testing.T) {
	e := &Engine{
		Personas: newManager(t),
		Provider: &scriptedProvider{responses: []string{
			`{"attack_vectors":[{"severity":"low","finding":"style"}]}`,
			`{"validity_score": 9, "verdict": "REVISE"}`,
			"revised proposal",
		}},
		Model: "m",
	}
	res := e.Run(context.Background(), "draft v1", "build a thing", 2, 7.0)
	assert.True(t, res.Approved)
	assert.Equal(t, 2, res.TotalRounds)
}

func TestRunEscalatesAtMaxRoundsWhenConfigured(t *testing.T) {
	e := &Engine{
		Personas: newManager(t),
		Provider: &scriptedProvider{responses: []string{
			`{"attack_vectors":[{"severity":"low","finding":"style"}]}`,
			`{"validity_score": 9, "verdict": "REVISE"}`,
			"revised proposal",
		}},
		Model:  "m",
		Config: Config{EscalateOnExhaustion: true},
	}
	res := e.Run(context.Background(), "draft v1", "build a thing", 2, 7.0)
	assert.False(t, res.Approved)
	assert.True(t, res.Escalated)
	assert.Equal(t, 2, res.TotalRounds)
}

func TestRunRestoresPersonaOnEveryExitPath(t *testing.T) {
	e := &Engine{
		Personas: newManager(t),
		Provider: &scriptedProvider{responses: []string{
			`{"attack_vectors":[]}`,
			`{"validity_score": 9, "verdict": "ESCALATE"}`,
		}},
		Model: "m",
	}
	e.Run(context.Background(), "draft v1", "build a thing", 3, 7.0)
	assert.Equal(t, "worker", e.Personas.CurrentID())
}

func TestReportIncludesEachRound(t *testing.T) {
	rounds := []Round{{Number: 1, ValidityScore: 3, Verdict: "APPROVE"}}
	report := generateReport(rounds)
	assert.Contains(t, report, "Round 1")
	assert.Contains(t, report, "3.0/10")
}
