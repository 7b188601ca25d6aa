package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/trowan/grantly/internal/api"
	"github.com/trowan/grantly/internal/logger"
	"github.com/trowan/grantly/internal/store"
)

// accessListPayload is one category in the GET permissions response. Slices
// are always present so clients see [] rather than null.
type accessListPayload struct {
	Users  []api.User  `json:"users"`
	Groups []api.Group `json:"groups"`
}

// permissionsPayload is the current wire shape, grouped by access type.
type permissionsPayload map[string]accessListPayload

// objectRef parses and validates the {kind}/{id} path segments.
func objectRef(w http.ResponseWriter, r *http.Request) (kind string, id int, ok bool) {
	kind = r.PathValue("kind")
	if !store.ValidKind(kind) {
		writeError(w, http.StatusNotFound, "Unknown object type.")
		return "", 0, false
	}
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Invalid object id.")
		return "", 0, false
	}
	return kind, id, true
}

// requireObject loads the object or writes a 404.
func (s *Server) requireObject(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	kind, id, ok := objectRef(w, r)
	if !ok {
		return "", 0, false
	}
	if _, err := s.st.Object(r.Context(), kind, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Object not found.")
		} else {
			logger.Error("load object", "kind", kind, "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal error.")
		}
		return "", 0, false
	}
	return kind, id, true
}

// handleGetPermissions returns all grants on an object in the current shape.
func (s *Server) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := s.requireObject(w, r)
	if !ok {
		return
	}

	grants, err := s.st.Grants(r.Context(), kind, id)
	if err != nil {
		logger.Error("load grants", "kind", kind, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error.")
		return
	}

	payload := permissionsPayload{}
	for _, t := range api.AccessTypes() {
		cat := grants.Category(t)
		list := accessListPayload{Users: cat.Users, Groups: cat.Groups}
		if list.Users == nil {
			list.Users = []api.User{}
		}
		if list.Groups == nil {
			list.Groups = []api.Group{}
		}
		payload[string(t)] = list
	}
	writeJSON(w, http.StatusOK, payload)
}

// decodeGrantRequest parses and validates a mutation body.
func decodeGrantRequest(w http.ResponseWriter, r *http.Request) (api.GrantRequest, store.Grantee, bool) {
	var req api.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return req, store.Grantee{}, false
	}
	if !req.AccessType.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown access type.")
		return req, store.Grantee{}, false
	}

	switch {
	case req.UserID != nil && req.GroupID != nil:
		writeError(w, http.StatusBadRequest, "Provide either 'user_id' or 'group_id', not both.")
		return req, store.Grantee{}, false
	case req.UserID != nil:
		return req, store.Grantee{Kind: store.GranteeUser, ID: *req.UserID}, true
	case req.GroupID != nil:
		return req, store.Grantee{Kind: store.GranteeGroup, ID: *req.GroupID}, true
	default:
		writeError(w, http.StatusBadRequest, "Missing 'user_id' or 'group_id' in payload.")
		return req, store.Grantee{}, false
	}
}

// handleGrant creates one grant on an object.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := s.requireObject(w, r)
	if !ok {
		return
	}
	req, grantee, ok := decodeGrantRequest(w, r)
	if !ok {
		return
	}

	if err := s.st.Grant(r.Context(), kind, id, req.AccessType, grantee); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if grantee.Kind == store.GranteeUser {
				writeError(w, http.StatusBadRequest, "User not found.")
			} else {
				writeError(w, http.StatusBadRequest, "Group not found.")
			}
			return
		}
		logger.Error("grant", "kind", kind, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error.")
		return
	}

	logger.Info("permission granted",
		"kind", kind, "id", id,
		"access_type", req.AccessType,
		"grantee_kind", grantee.Kind, "grantee_id", grantee.ID,
	)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRevoke removes one grant from an object.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := s.requireObject(w, r)
	if !ok {
		return
	}
	req, grantee, ok := decodeGrantRequest(w, r)
	if !ok {
		return
	}

	if err := s.st.Revoke(r.Context(), kind, id, req.AccessType, grantee); err != nil {
		logger.Error("revoke", "kind", kind, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error.")
		return
	}

	logger.Info("permission revoked",
		"kind", kind, "id", id,
		"access_type", req.AccessType,
		"grantee_kind", grantee.Kind, "grantee_id", grantee.ID,
	)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleGetObject returns the object summary with its author.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := objectRef(w, r)
	if !ok {
		return
	}
	obj, err := s.st.Object(r.Context(), kind, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Object not found.")
		} else {
			logger.Error("load object", "kind", kind, "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal error.")
		}
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// handleGetGroups returns the full group directory in a results wrapper.
func (s *Server) handleGetGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.st.Groups(r.Context())
	if err != nil {
		logger.Error("load groups", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	if groups == nil {
		groups = []api.Group{}
	}
	writeJSON(w, http.StatusOK, map[string][]api.Group{"results": groups})
}

// handleSearchUsers returns users matching the q parameter.
func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.st.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		logger.Error("search users", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	if users == nil {
		users = []api.User{}
	}
	writeJSON(w, http.StatusOK, map[string][]api.User{"results": users})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
