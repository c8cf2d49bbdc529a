package annotations

import "github.com/kmrasmussen/intersebd-sub000/internal/models"

// state is the loaded detail of one request. Reducers never modify their
// input; they return a new state sharing untouched responses.
type state struct {
	request     models.RequestRecord
	mainID      string // target id of the main response, "" when none
	mainMissing bool
	responses   map[string]models.ResponseRecord // by annotation target id
	altOrder    []string
}

func newState(d *models.RequestDetail) state {
	s := state{
		request:   d.Request,
		responses: make(map[string]models.ResponseRecord, len(d.Alternatives)+1),
	}
	if d.MainResponse != nil {
		s.mainID = d.MainResponse.AnnotationTargetID
		s.responses[s.mainID] = *d.MainResponse
	} else {
		s.mainMissing = true
	}
	for _, alt := range d.Alternatives {
		if alt.AnnotationTargetID == s.mainID {
			continue
		}
		if _, dup := s.responses[alt.AnnotationTargetID]; dup {
			continue
		}
		s.responses[alt.AnnotationTargetID] = alt
		s.altOrder = append(s.altOrder, alt.AnnotationTargetID)
	}
	return s
}

func (s state) clone() state {
	out := s
	out.responses = make(map[string]models.ResponseRecord, len(s.responses))
	for k, v := range s.responses {
		out.responses[k] = v
	}
	out.altOrder = append([]string(nil), s.altOrder...)
	return out
}

func (s state) has(targetID string) bool {
	_, ok := s.responses[targetID]
	return ok
}

// withAnnotation appends a to the response behind targetID
func withAnnotation(s state, targetID string, a models.Annotation) state {
	r, ok := s.responses[targetID]
	if !ok {
		return s
	}
	out := s.clone()
	r.Annotations = append(append([]models.Annotation(nil), r.Annotations...), a)
	out.responses[targetID] = r
	return out
}

// withoutAnnotation drops annotationID from the response behind targetID
func withoutAnnotation(s state, targetID, annotationID string) state {
	r, ok := s.responses[targetID]
	if !ok {
		return s
	}
	kept := make([]models.Annotation, 0, len(r.Annotations))
	for _, a := range r.Annotations {
		if a.ID != annotationID {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(r.Annotations) {
		return s
	}
	out := s.clone()
	r.Annotations = kept
	out.responses[targetID] = r
	return out
}

// withoutResponse removes a response. Removing the main response only marks
// it missing; alternatives are left alone either way.
func withoutResponse(s state, targetID string) state {
	if !s.has(targetID) {
		return s
	}
	out := s.clone()
	delete(out.responses, targetID)
	if targetID == s.mainID {
		out.mainID = ""
		out.mainMissing = true
		return out
	}
	order := out.altOrder[:0]
	for _, id := range out.altOrder {
		if id != targetID {
			order = append(order, id)
		}
	}
	out.altOrder = order
	return out
}

// withAlternative appends r unless it is the main response or already present
func withAlternative(s state, r models.ResponseRecord) state {
	if r.AnnotationTargetID == "" || r.AnnotationTargetID == s.mainID || s.has(r.AnnotationTargetID) {
		return s
	}
	out := s.clone()
	out.responses[r.AnnotationTargetID] = r
	out.altOrder = append(out.altOrder, r.AnnotationTargetID)
	return out
}
