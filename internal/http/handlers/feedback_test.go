package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astralink/server/internal/middleware"
	"github.com/astralink/server/internal/model"
	"github.com/astralink/server/internal/repo"
)

type stubFeedbackRepo struct {
	created []model.Feedback
	entries []repo.FeedbackWithAuthor
}

func (s *stubFeedbackRepo) Create(_ context.Context, userID, advisorID uuid.UUID, rating int, message string) (model.Feedback, error) {
	f := model.Feedback{
		ID:        uuid.New(),
		UserID:    userID,
		AdvisorID: advisorID,
		Rating:    rating,
		Message:   message,
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	s.created = append(s.created, f)
	return f, nil
}

func (s *stubFeedbackRepo) ListByAdvisor(_ context.Context, advisorID uuid.UUID) ([]repo.FeedbackWithAuthor, error) {
	return s.entries, nil
}

type feedbackRecorder struct {
	events []model.FeedbackEvent
}

func (r *feedbackRecorder) FeedbackSubmitted(_ uuid.UUID, ev model.FeedbackEvent) {
	r.events = append(r.events, ev)
}

func newFeedbackRouter(user model.User, store *stubFeedbackRepo, rec *feedbackRecorder) http.Handler {
	h := NewFeedbackHandler(store, rec)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUser(req.Context(), &user)))
		})
	})
	r.Post("/api/feedback/{advisorID}", h.HandleSubmit)
	r.Get("/api/feedback/advisor/{advisorID}", h.HandleListByAdvisor)
	return r
}

func TestHandleSubmitFeedback(t *testing.T) {
	user := model.User{ID: uuid.New(), Username: "Dana"}
	advisorID := uuid.New()

	t.Run("valid rating persists and notifies", func(t *testing.T) {
		store := &stubFeedbackRepo{}
		rec := &feedbackRecorder{}
		router := newFeedbackRouter(user, store, rec)

		body, _ := json.Marshal(map[string]interface{}{"rating": 4, "message": "very insightful"})
		req := httptest.NewRequest(http.MethodPost, "/api/feedback/"+advisorID.String(), bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusCreated, w.Code)
		require.Len(t, store.created, 1)
		assert.Equal(t, user.ID, store.created[0].UserID)
		assert.Equal(t, advisorID, store.created[0].AdvisorID)
		assert.Equal(t, 4, store.created[0].Rating)
		assert.Equal(t, "very insightful", store.created[0].Message)

		require.Len(t, rec.events, 1)
		assert.Equal(t, user.ID, rec.events[0].UserID)
		assert.Equal(t, advisorID, rec.events[0].PsychicID)
		assert.Equal(t, 4, rec.events[0].Rating)

		var resp struct {
			Success  bool `json:"success"`
			Feedback struct {
				Rating int `json:"rating"`
			} `json:"feedback"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, 4, resp.Feedback.Rating)
	})

	t.Run("out-of-range ratings are rejected", func(t *testing.T) {
		store := &stubFeedbackRepo{}
		rec := &feedbackRecorder{}
		router := newFeedbackRouter(user, store, rec)

		for _, rating := range []int{0, -1, 6} {
			body, _ := json.Marshal(map[string]int{"rating": rating})
			req := httptest.NewRequest(http.MethodPost, "/api/feedback/"+advisorID.String(), bytes.NewReader(body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code, "rating %d", rating)
		}
		assert.Empty(t, store.created)
		assert.Empty(t, rec.events)
	})

	t.Run("invalid advisor id", func(t *testing.T) {
		router := newFeedbackRouter(user, &stubFeedbackRepo{}, &feedbackRecorder{})
		body, _ := json.Marshal(map[string]int{"rating": 3})
		req := httptest.NewRequest(http.MethodPost, "/api/feedback/not-a-uuid", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleListFeedbackByAdvisor(t *testing.T) {
	user := model.User{ID: uuid.New(), Username: "Dana"}
	advisorID := uuid.New()

	t.Run("aggregates ratings", func(t *testing.T) {
		store := &stubFeedbackRepo{entries: []repo.FeedbackWithAuthor{
			{Feedback: model.Feedback{ID: uuid.New(), Rating: 5}, Username: "Dana"},
			{Feedback: model.Feedback{ID: uuid.New(), Rating: 4}, Username: "Lee"},
			{Feedback: model.Feedback{ID: uuid.New(), Rating: 3}, Username: "Sam"},
		}}
		router := newFeedbackRouter(user, store, &feedbackRecorder{})

		req := httptest.NewRequest(http.MethodGet, "/api/feedback/advisor/"+advisorID.String(), nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Success bool `json:"success"`
			Overall struct {
				AverageRating string `json:"averageRating"`
				FeedbackCount int    `json:"feedbackCount"`
				Feedback      []struct {
					UserName string `json:"userName"`
					Rating   int    `json:"rating"`
				} `json:"feedback"`
			} `json:"overall"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "4.00", resp.Overall.AverageRating)
		assert.Equal(t, 3, resp.Overall.FeedbackCount)
		require.Len(t, resp.Overall.Feedback, 3)
		assert.Equal(t, "Dana", resp.Overall.Feedback[0].UserName)
	})

	t.Run("no feedback yet", func(t *testing.T) {
		router := newFeedbackRouter(user, &stubFeedbackRepo{}, &feedbackRecorder{})
		req := httptest.NewRequest(http.MethodGet, "/api/feedback/advisor/"+advisorID.String(), nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
