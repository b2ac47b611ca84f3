package handler

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
)

// ActorHeader identifies the caller. Authentication happens upstream; this
// service trusts the gateway to set it.
const ActorHeader = "X-Actor-ID"

type errorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its HTTP status. Internal errors are logged and
// their message hidden.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Code: string(errors.ErrCodeInternal), Message: "internal server error"}

	var e *errors.Error
	if errors.As(err, &e) && e.Code != errors.ErrCodeInternal {
		resp = errorResponse{Code: string(e.Code), Message: e.Message, Details: e.Details}
	} else {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, errors.HTTPStatus(errors.Code(resp.Code)), resp)
}

// actorID reads the caller from the actor header.
func actorID(r *http.Request) (string, error) {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		return "", errors.New(errors.ErrCodeUnauthenticated, ActorHeader+" header is required")
	}
	return actor, nil
}

// clientIP returns the socket peer. Only when the peer is a trusted proxy is
// X-Forwarded-For believed, walked from the right past further trusted hops.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	client := peer
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		client = hop
		if !isTrusted(hop, trusted) {
			break
		}
	}
	return client
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// decode reads a JSON body into v and runs struct validation on it.
func decode(r *http.Request, validate *validator.Validate, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.InvalidInput("body", "invalid request body: "+err.Error())
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.InvalidInput(jsonFieldName(fe), fmt.Sprintf("%s failed %s validation", jsonFieldName(fe), fe.Tag()))
		}
		return errors.InvalidInput("body", err.Error())
	}
	return nil
}

func jsonFieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return "body"
	}
	return strings.ToLower(name[:1]) + name[1:]
}
