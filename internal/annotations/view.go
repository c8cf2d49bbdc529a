package annotations

import "github.com/kmrasmussen/intersebd-sub000/internal/models"

// Flags are loading markers and error messages by key
type Flags struct {
	Loading map[string]bool   `json:"loading"`
	Errors  map[string]string `json:"errors"`
}

// ResponseView is a response plus whether it may render as a form
type ResponseView struct {
	models.ResponseRecord
	FormView bool `json:"form_view"`
}

// View is an immutable snapshot of the store
type View struct {
	Loaded       bool                 `json:"loaded"`
	Loading      bool                 `json:"loading"`
	LoadError    string               `json:"load_error,omitempty"`
	Request      models.RequestRecord `json:"request"`
	Main         *ResponseView        `json:"main_response"`
	MainMissing  bool                 `json:"main_missing"`
	Alternatives []ResponseView       `json:"alternatives"`

	Annotate         Flags  `json:"annotate"`
	DeleteAnnotation Flags  `json:"delete_annotation"`
	DeleteResponse   Flags  `json:"delete_response"`
	AltLoading       bool   `json:"alternative_loading"`
	AltError         string `json:"alternative_error,omitempty"`
}

// View returns a snapshot safe to use without holding any lock
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Loaded:           s.loaded,
		Loading:          s.loading,
		LoadError:        s.loadErr,
		Request:          s.state.request,
		MainMissing:      s.loaded && s.state.mainMissing,
		Alternatives:     make([]ResponseView, 0, len(s.state.altOrder)),
		Annotate:         s.annotate.snapshot(),
		DeleteAnnotation: s.unannotate.snapshot(),
		DeleteResponse:   s.deleteResp.snapshot(),
		AltLoading:       s.altLoading,
		AltError:         s.altErr,
	}
	if r, ok := s.state.responses[s.state.mainID]; ok && s.state.mainID != "" {
		rv := s.responseView(r)
		v.Main = &rv
	}
	for _, id := range s.state.altOrder {
		v.Alternatives = append(v.Alternatives, s.responseView(s.state.responses[id]))
	}
	return v
}

func (s *Store) responseView(r models.ResponseRecord) ResponseView {
	r.Annotations = append([]models.Annotation(nil), r.Annotations...)
	rv := ResponseView{ResponseRecord: r}
	if s.gate != nil {
		rv.FormView = s.gate.CanShowForm(r)
	}
	return rv
}

// Annotations returns the current annotation list of one target
func (s *Store) Annotations(targetID string) []models.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.responses[targetID]
	if !ok {
		return nil
	}
	return append([]models.Annotation(nil), r.Annotations...)
}
