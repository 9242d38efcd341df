package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"transcript-pipeline-service/internal/service/callback"
	"transcript-pipeline-service/internal/service/job"
	"transcript-pipeline-service/internal/service/transcript"
	"transcript-pipeline-service/internal/service/trigger"
	"transcript-pipeline-service/internal/storage"
)

const (
	uploadExpiry    = 3600 * time.Second
	maxCallbackBody = 64 << 20
	maxEventBody    = 1 << 20
)

type handlers struct {
	store      storage.Store
	receiver   *callback.Receiver
	editor     *transcript.Editor
	trigger    *trigger.Router
	ledger     job.Ledger
	sessions   *sessions
	username   string
	password   string
	eventToken string
	presignTTL time.Duration
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func renderHTML(w http.ResponseWriter, status int, render func(io.Writer) error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := render(w); err != nil {
		log.Warn().Err(err).Msg("Failed to render page")
	}
}

// Login and logout

func (h *handlers) loginForm(w http.ResponseWriter, r *http.Request) {
	view := loginView{Next: r.URL.Query().Get("next")}
	renderHTML(w, http.StatusOK, func(out io.Writer) error { return loginPage.Execute(out, view) })
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if !h.validCredentials(r.PostFormValue("username"), r.PostFormValue("password")) {
		view := loginView{Next: next, Error: "Invalid username or password"}
		renderHTML(w, http.StatusOK, func(out io.Writer) error { return loginPage.Execute(out, view) })
		return
	}

	h.sessions.issue(w, r)
	if !isSafeURL(r, next) {
		writeError(w, http.StatusBadRequest, "unsafe redirect target")
		return
	}
	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusFound)
}

func (h *handlers) validCredentials(username, password string) bool {
	if h.username == "" || username == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1
	return userOK && passOK
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.clear(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// Browse

type recordingEntry struct {
	Recording     string `json:"recording"`
	AudioURL      string `json:"audio_url"`
	Filetype      string `json:"filetype"`
	Transcript    string `json:"transcript,omitempty"`
	TranscriptURL string `json:"transcript_url,omitempty"`
}

type browseResponse struct {
	Prefixes   []string         `json:"prefixes,omitempty"`
	PrefixDate string           `json:"prefix_date,omitempty"`
	Keys       []recordingEntry `json:"keys,omitempty"`
}

func (h *handlers) browse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prefix := r.URL.Query().Get("prefix")

	// At the top level only the date prefixes are listed.
	if prefix == "" {
		listing, err := h.store.List(ctx, "", "/")
		if err != nil {
			log.Error().Err(err).Msg("Failed to list date prefixes")
			writeError(w, http.StatusInternalServerError, "listing failed")
			return
		}
		writeJSON(w, http.StatusOK, browseResponse{Prefixes: listing.CommonPrefixes})
		return
	}

	listing, err := h.store.List(ctx, prefix, "")
	if err != nil {
		log.Error().Err(err).Str("prefix", prefix).Msg("Failed to list recordings")
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}

	keys := make([]string, 0, len(listing.Keys))
	present := make(map[string]bool, len(listing.Keys))
	for _, k := range listing.Keys {
		if strings.HasSuffix(k, "/") {
			continue
		}
		keys = append(keys, k)
		present[k] = true
	}

	resp := browseResponse{}
	if len(keys) > 0 {
		resp.PrefixDate, _, _ = strings.Cut(keys[0], "/")
	}
	for _, k := range keys {
		if !storage.IsRecordingKey(k) {
			continue
		}
		entry, err := h.recordingEntry(ctx, k, present)
		if err != nil {
			log.Error().Err(err).Str("key", k).Msg("Failed to presign recording")
			writeError(w, http.StatusInternalServerError, "presign failed")
			return
		}
		resp.Keys = append(resp.Keys, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) recordingEntry(ctx context.Context, key string, present map[string]bool) (recordingEntry, error) {
	audioURL, err := h.store.PresignGet(ctx, key, h.presignTTL)
	if err != nil {
		return recordingEntry{}, err
	}
	name := storage.Basename(key)
	entry := recordingEntry{
		Recording: name,
		AudioURL:  audioURL,
		Filetype:  browseFiletype(name),
	}

	if csvKey := storage.RecordingCleanKey(key); present[csvKey] {
		csvURL, err := h.store.PresignGet(ctx, csvKey, h.presignTTL)
		if err != nil {
			return recordingEntry{}, err
		}
		entry.Transcript = storage.Basename(csvKey)
		entry.TranscriptURL = csvURL
	}
	return entry, nil
}

func extension(name string) string {
	return strings.TrimPrefix(path.Ext(name), ".")
}

// browseFiletype maps a recording name to the type the browser player is
// given. Only wav is special-cased.
func browseFiletype(name string) string {
	ext := extension(name)
	if ext == "wav" {
		return "audio/x-wav"
	}
	return "audio/" + ext
}

// Download

func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusNotFound, "key is required")
		return
	}
	u, err := h.store.PresignGet(r.Context(), key, h.presignTTL)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to presign download")
		writeError(w, http.StatusInternalServerError, "presign failed")
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// Direct upload

func (h *handlers) uploadForm(w http.ResponseWriter, r *http.Request) {
	view := uploadView{Action: r.URL.Path, Example: storage.DateStamp(time.Now()) + "/recordings/call.wav"}
	renderHTML(w, http.StatusOK, func(out io.Writer) error { return uploadPage.Execute(out, view) })
}

func (h *handlers) presignUpload(w http.ResponseWriter, r *http.Request) {
	name := r.PostFormValue("file-name")
	fileType := r.PostFormValue("file-type")
	if name == "" || fileType == "" {
		writeError(w, http.StatusBadRequest, "file-name and file-type are required")
		return
	}

	post, err := h.store.PresignPost(r.Context(), name, fileType, uploadExpiry)
	if err != nil {
		log.Error().Err(err).Str("key", name).Msg("Failed to presign upload")
		writeError(w, http.StatusInternalServerError, "presign failed")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// Edit

type editView struct {
	TranscriptKey string               `json:"transcript_key"`
	AudioURL      string               `json:"audio_url"`
	Filetype      string               `json:"filetype"`
	Results       []transcript.ViewRow `json:"results"`
}

type editRequest struct {
	TranscriptKey string   `json:"transcript_key"`
	Results       []string `json:"results"`
}

func (h *handlers) editLoad(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	recording := r.URL.Query().Get("recording")
	if prefix == "" || recording == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	resultKey := storage.EditResultKey(prefix, recording)
	rows, err := h.editor.Load(r.Context(), resultKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	case errors.Is(err, transcript.ErrMalformedResult):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Str("key", resultKey).Msg("Failed to load transcript for editing")
		writeError(w, http.StatusInternalServerError, "load failed")
		return
	}

	audioURL, err := h.store.PresignGet(r.Context(), storage.EditRecordingKey(prefix, recording), h.presignTTL)
	if err != nil {
		log.Error().Err(err).Str("recording", recording).Msg("Failed to presign recording")
		writeError(w, http.StatusInternalServerError, "presign failed")
		return
	}

	writeJSON(w, http.StatusOK, editView{
		TranscriptKey: resultKey,
		AudioURL:      audioURL,
		Filetype:      "audio/" + extension(recording),
		Results:       rows,
	})
}

func (h *handlers) editApply(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !storage.IsResultKey(req.TranscriptKey) {
		writeError(w, http.StatusBadRequest, "transcript_key must reference a result document")
		return
	}

	err := h.editor.Apply(r.Context(), req.TranscriptKey, req.Results)
	switch {
	case errors.Is(err, transcript.ErrEditCountMismatch):
		http.Redirect(w, r, "/", http.StatusFound)
		return
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	case errors.Is(err, transcript.ErrMalformedResult):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Str("key", req.TranscriptKey).Msg("Failed to apply edit")
		writeError(w, http.StatusInternalServerError, "edit failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "success"})
}

// Provider webhook

func (h *handlers) callbackVerify(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, h.receiver.Verify(r.URL.Query().Get("challenge_string")))
}

func (h *handlers) callbackResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	_, err = h.receiver.Receive(r.Context(), jobID, body)
	switch {
	case errors.Is(err, callback.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "store failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Success"})
}

// Storage notifications

func (h *handlers) storageEvent(w http.ResponseWriter, r *http.Request) {
	if h.eventToken != "" {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.eventToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	// The pipeline stage keeps running if the notifier hangs up.
	err = h.trigger.HandleNotification(context.WithoutCancel(r.Context()), body)
	switch {
	case errors.Is(err, trigger.ErrInvalidNotification):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Success"})
}

// Job status

func (h *handlers) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	rec, err := h.ledger.Get(r.Context(), jobID)
	switch {
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		log.Error().Err(err).Str("jobId", jobID).Msg("Failed to read job ledger")
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
