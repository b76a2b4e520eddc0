package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/campus-companion/internal/apperror"
	"github.com/sakif/campus-companion/internal/model"
)

// ResourcesHandler browses and contributes course documents.
type ResourcesHandler struct {
	svc    Companion
	logger *slog.Logger
}

func NewResourcesHandler(svc Companion, logger *slog.Logger) *ResourcesHandler {
	return &ResourcesHandler{svc: svc, logger: logger}
}

// HandleList filters resources by level, term and department.
//
// HTTP: GET /api/resources?level=2&term=1&department=AE
//
// A missing parameter matches every value.
func (h *ResourcesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	level, err := queryInt(q.Get("level"), "level")
	if err != nil {
		writeError(w, err)
		return
	}
	term, err := queryInt(q.Get("term"), "term")
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.ListResources(r.Context(), model.ResourceFilter{
		Level:      level,
		Term:       term,
		Department: q.Get("department"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleCreate adds a resource credited to the caller.
//
// HTTP: POST /api/resources
// REQUEST BODY: {"level": 2, "term": 1, "department": "AE", "subjectName": "...", "driveLink": "https://..."}
func (h *ResourcesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	roll, err := callerRoll(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req model.Resource
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ID = ""
	req.AddedBy = roll

	res, err := h.svc.AddResource(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleDepartments lists the departments resources are filed under.
//
// HTTP: GET /api/departments
func (h *ResourcesHandler) HandleDepartments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"departments": h.svc.Departments()})
}

func queryInt(v, field string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperror.ValidationFailed(field, field+" must be a number")
	}
	return n, nil
}
