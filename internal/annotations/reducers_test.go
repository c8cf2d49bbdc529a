package annotations

import (
	"testing"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/stretchr/testify/assert"
)

func sampleDetail() *models.RequestDetail {
	return &models.RequestDetail{
		Request: models.RequestRecord{ID: "r1"},
		MainResponse: &models.ResponseRecord{
			ID:                 "main",
			AnnotationTargetID: "t-main",
			Annotations:        []models.Annotation{{ID: "a1", Reward: 1}},
		},
		Alternatives: []models.ResponseRecord{
			{ID: "alt1", AnnotationTargetID: "t-alt1"},
			{ID: "alt2", AnnotationTargetID: "t-alt2"},
		},
	}
}

func TestNewState_DropsMainFromAlternatives(t *testing.T) {
	d := sampleDetail()
	d.Alternatives = append(d.Alternatives, *d.MainResponse, d.Alternatives[0])

	s := newState(d)
	assert.Equal(t, []string{"t-alt1", "t-alt2"}, s.altOrder)
	assert.Len(t, s.responses, 3)
}

func TestWithAnnotation_DoesNotMutateInput(t *testing.T) {
	before := newState(sampleDetail())
	after := withAnnotation(before, "t-alt1", models.Annotation{ID: "a2", Reward: 0})

	assert.Empty(t, before.responses["t-alt1"].Annotations)
	assert.Len(t, after.responses["t-alt1"].Annotations, 1)
	assert.Len(t, after.responses["t-main"].Annotations, 1)
}

func TestWithoutAnnotation(t *testing.T) {
	s := newState(sampleDetail())

	same := withoutAnnotation(s, "t-main", "missing")
	assert.Len(t, same.responses["t-main"].Annotations, 1)

	out := withoutAnnotation(s, "t-main", "a1")
	assert.Empty(t, out.responses["t-main"].Annotations)
	assert.Len(t, s.responses["t-main"].Annotations, 1)
}

func TestWithoutResponse_MainLeavesAlternatives(t *testing.T) {
	s := newState(sampleDetail())

	out := withoutResponse(s, "t-main")
	assert.True(t, out.mainMissing)
	assert.Equal(t, []string{"t-alt1", "t-alt2"}, out.altOrder)

	out = withoutResponse(s, "t-alt1")
	assert.False(t, out.mainMissing)
	assert.Equal(t, "t-main", out.mainID)
	assert.Equal(t, []string{"t-alt2"}, out.altOrder)
	assert.Equal(t, []string{"t-alt1", "t-alt2"}, s.altOrder)
}

func TestWithAlternative_IgnoresMainAndDuplicates(t *testing.T) {
	s := newState(sampleDetail())

	assert.Equal(t, s.altOrder, withAlternative(s, models.ResponseRecord{AnnotationTargetID: "t-main"}).altOrder)
	assert.Equal(t, s.altOrder, withAlternative(s, models.ResponseRecord{AnnotationTargetID: "t-alt2"}).altOrder)

	out := withAlternative(s, models.ResponseRecord{ID: "alt3", AnnotationTargetID: "t-alt3"})
	assert.Equal(t, []string{"t-alt1", "t-alt2", "t-alt3"}, out.altOrder)
}

func TestReducersCommuteAcrossTargets(t *testing.T) {
	s := newState(sampleDetail())
	a := models.Annotation{ID: "x", Reward: 1}
	b := models.Annotation{ID: "y", Reward: 0}

	one := withAnnotation(withAnnotation(s, "t-alt1", a), "t-alt2", b)
	two := withAnnotation(withAnnotation(s, "t-alt2", b), "t-alt1", a)

	assert.Equal(t, one.responses, two.responses)
}
