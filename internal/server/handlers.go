package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-cefr/internal/domain"
)

// Client-facing error messages.
const (
	errNoText       = "No text provided"
	errEmptyText    = "Text cannot be empty"
	errBodyTooLarge = "Request body too large"
)

type handlers struct {
	predictor    Predictor
	maxBodyBytes int64
	logger       *slog.Logger
}

func (h *handlers) register(g *gin.RouterGroup) {
	g.POST("/predict", h.predict)
	g.GET("/health", h.health)
}

type predictRequest struct {
	Text *string `json:"text"`
}

// PredictResponse is the JSON body of a successful prediction.
type PredictResponse struct {
	Text              string                                  `json:"text"`
	Predictions       *domain.OrderedMap[domain.Level]        `json:"predictions"`
	Probabilities     *domain.OrderedMap[domain.Distribution] `json:"probabilities"`
	MajorityVote      domain.Level                            `json:"majority_vote"`
	MajorityLevel     string                                  `json:"majority_level"`
	UseMajorityVote   bool                                    `json:"use_majority_vote"`
	Confidence        float64                                 `json:"confidence"`
	MeanProbabilities domain.Distribution                     `json:"mean_probabilities"`
	MeanPred          domain.Level                            `json:"mean_pred"`
	MeanLevel         string                                  `json:"mean_level"`
	MeanPredProba     float64                                 `json:"mean_pred_proba"`
	Stats             Stats                                   `json:"stats"`
}

// Stats summarises agreement between the sources.
type Stats struct {
	NumModels      int   `json:"num_models"`
	AgreementCount int   `json:"agreement_count"`
	AllAgree       bool  `json:"all_agree"`
	VoteCounts     []int `json:"vote_counts"`
}

// NewPredictResponse renders an ensemble result for the wire.
func NewPredictResponse(r *domain.EnsembleResult) PredictResponse {
	return PredictResponse{
		Text:              r.InputText,
		Predictions:       r.PerSourcePredictions(),
		Probabilities:     r.PerSourceDistributions(),
		MajorityVote:      r.MajorityLabel,
		MajorityLevel:     r.MajorityLabel.String(),
		UseMajorityVote:   r.QuorumMet,
		Confidence:        r.MajorityConfidence,
		MeanProbabilities: r.MeanDistribution,
		MeanPred:          r.MeanLabel,
		MeanLevel:         r.MeanLabel.String(),
		MeanPredProba:     r.MeanConfidence,
		Stats: Stats{
			NumModels:      r.NumSources,
			AgreementCount: r.AgreementCount,
			AllAgree:       r.AllAgree,
			VoteCounts:     r.VoteCounts,
		},
	}
}

func (h *handlers) predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	var req predictRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errBodyTooLarge})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errNoText})
		return
	}
	if req.Text == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errNoText})
		return
	}

	text := strings.TrimSpace(*req.Text)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errEmptyText})
		return
	}

	result, err := h.predictor.Predict(c.Request.Context(), text)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		h.logger.ErrorContext(c.Request.Context(), "prediction failed",
			"error", err,
			"status", status,
			"request_id", c.GetString(ctxKeyRequestID),
		)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, NewPredictResponse(result))
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName})
}
