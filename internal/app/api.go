package app

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/antzucaro/matchr"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/bubbletalk/internal/conversation"
	"github.com/MrWong99/bubbletalk/internal/health"
	"github.com/MrWong99/bubbletalk/internal/journal"
	"github.com/MrWong99/bubbletalk/internal/observe"
)

// suggestionThreshold is the minimum Jaro-Winkler similarity for a speaker
// to be suggested on a 404.
const suggestionThreshold = 0.75

// maxSuggestions caps the suggestions returned on a 404.
const maxSuggestions = 3

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

type ctxKey struct{}

// npcStatus is the JSON body of GET /npcs/{speaker}.
type npcStatus struct {
	conversation.Status
	LastOutcome *conversation.Outcome `json:"last_outcome,omitempty"`
}

type errorBody struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))

	health.New(health.Checker{Name: "lines", Check: a.reloader.Check}).Register(r)
	r.Handle("/metrics", observe.MetricsHandler())

	r.Route("/npcs", func(r chi.Router) {
		r.Get("/", a.handleList)
		r.Route("/{speaker}", func(r chi.Router) {
			r.Use(a.resolveSpeaker)
			r.Get("/", a.handleStatus)
			r.Post("/talk", a.handleTalk)
			r.Post("/interact", a.handleInteract)
			r.Post("/skip", a.handleSkip)
			r.Post("/leave", a.handleLeave)
			r.Post("/nearby", a.handleNearby)
			r.Post("/reset", a.handleReset)
			r.Get("/bubble", a.handleBubble)
		})
	})
	return r
}

// resolveSpeaker loads the interpreter named in the URL or answers 404 with
// similar speaker names.
func (a *App) resolveSpeaker(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		speaker := chi.URLParam(r, "speaker")
		interp, ok := a.Interpreter(speaker)
		if !ok {
			respondJSON(w, http.StatusNotFound, errorBody{
				Error:       "unknown speaker " + strconv.Quote(speaker),
				Suggestions: suggest(speaker, a.Speakers()),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, interp)))
	})
}

func interpreterFrom(r *http.Request) *conversation.Interpreter {
	return r.Context().Value(ctxKey{}).(*conversation.Interpreter)
}

// suggest returns up to maxSuggestions known speakers similar to name, most
// similar first.
func suggest(name string, known []string) []string {
	type scored struct {
		speaker string
		score   float64
	}
	var candidates []scored
	for _, k := range known {
		if s := matchr.JaroWinkler(name, k, false); s >= suggestionThreshold {
			candidates = append(candidates, scored{k, s})
		}
	}
	slices.SortStableFunc(candidates, func(x, y scored) int {
		switch {
		case x.score > y.score:
			return -1
		case x.score < y.score:
			return 1
		}
		return 0
	})
	out := make([]string, 0, min(len(candidates), maxSuggestions))
	for _, c := range candidates[:min(len(candidates), maxSuggestions)] {
		out = append(out, c.speaker)
	}
	return out
}

func (a *App) handleList(w http.ResponseWriter, _ *http.Request) {
	speakers := a.Speakers()
	out := make([]conversation.Status, 0, len(speakers))
	for _, s := range speakers {
		if in, ok := a.Interpreter(s); ok {
			out = append(out, in.Status())
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	in := interpreterFrom(r)
	body := npcStatus{Status: in.Status()}
	if out, ok := in.LastOutcome(); ok {
		body.LastOutcome = &out
	}
	respondJSON(w, http.StatusOK, body)
}

func (a *App) handleTalk(w http.ResponseWriter, r *http.Request) {
	in := interpreterFrom(r)
	if !in.StartConversation() {
		respondJSON(w, http.StatusConflict, map[string]any{"started": false, "status": in.Status()})
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

func (a *App) handleInteract(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"action": interpreterFrom(r).Interact()})
}

func (a *App) handleSkip(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"skipped": interpreterFrom(r).RequestSkip()})
}

func (a *App) handleLeave(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"noted": interpreterFrom(r).NotifyPlayerDeparted()})
}

func (a *App) handleNearby(w http.ResponseWriter, r *http.Request) {
	in, err := boolParam(r, "in", true)
	if err != nil {
		respondError(w, http.StatusBadRequest, "query parameter in must be a boolean")
		return
	}
	interpreterFrom(r).NotifyPlayerNearby(in)
	respondJSON(w, http.StatusOK, map[string]any{"nearby": in})
}

func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	available, err := boolParam(r, "available", true)
	if err != nil {
		respondError(w, http.StatusBadRequest, "query parameter available must be a boolean")
		return
	}
	in := interpreterFrom(r)
	in.SetAvailable(available)
	respondJSON(w, http.StatusOK, in.Status())
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		respondError(w, http.StatusNotFound, "conversation history is not recorded; set observe.journal_path")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			respondError(w, http.StatusBadRequest, "query parameter limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
			return
		}
		limit = n
	}
	recs, err := a.journal.Recent(interpreterFrom(r).Speaker(), limit)
	if err != nil {
		a.logger.Warn("journal read failed", "err", err)
		respondError(w, http.StatusInternalServerError, "could not read conversation history")
		return
	}
	if recs == nil {
		recs = []journal.Record{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (a *App) handleBubble(w http.ResponseWriter, r *http.Request) {
	a.hub.ServeSpeaker(w, r, chi.URLParam(r, "speaker"))
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}
