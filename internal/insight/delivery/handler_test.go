package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-backend/internal/insight/domain"
	"crm-backend/internal/insight/usecase"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubInsight struct {
	force bool
	err   error
}

func (s *stubInsight) Summarize(_ context.Context, id string, force bool) (*usecase.Outcome, error) {
	s.force = force
	return &usecase.Outcome{ContactID: id}, s.err
}

func (s *stubInsight) Classify(_ context.Context, id string, force bool) (*usecase.Outcome, error) {
	s.force = force
	return &usecase.Outcome{ContactID: id}, s.err
}

func (s *stubInsight) ClassifyBatch(context.Context) (*usecase.BatchResult, error) {
	return &usecase.BatchResult{}, s.err
}

func serve(h *InsightHandler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/contacts/:id/summary", h.GetSummary)
	r.GET("/contacts/:id/classification", h.GetClassification)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRefreshFlag(t *testing.T) {
	s := &stubInsight{}
	w := serve(NewInsightHandler(s), "/contacts/c1/summary?refresh=true")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.force)

	serve(NewInsightHandler(s), "/contacts/c1/classification")
	assert.False(t, s.force)
}

func TestErrorMapping(t *testing.T) {
	cases := map[error]int{
		usecase.ErrContactNotFound: http.StatusNotFound,
		fmt.Errorf("%w: bad", domain.ErrModelResponseInvalid): http.StatusBadGateway,
		assert.AnError: http.StatusInternalServerError,
	}
	for err, code := range cases {
		w := serve(NewInsightHandler(&stubInsight{err: err}), "/contacts/c1/classification")
		assert.Equal(t, code, w.Code, err.Error())
	}
}
