package api

import (
	"net/http"
	"strconv"

	"github.com/ashureev/lingua-labs/internal/translate"
)

// Translate translates text. Backend failures still answer 200 with the
// original text and confidence 0.
func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	var req translate.Request
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Translate(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

type ttsRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Synthesize returns WAV audio for text.
func (h *Handler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if !decode(w, r, &req) {
		return
	}
	audio, err := h.svc.Synthesize(r.Context(), req.Text, req.Language)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
