package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
)

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, msg string, code int) {
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeServiceError translates an errs.Kind into the adapter's native HTTP
// status (spec.md §7 "adapter layers translate each error kind").
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.Conflict:
		status = http.StatusConflict
	case errs.Validation:
		status = http.StatusBadRequest
	case errs.ExecutionError:
		status = http.StatusUnprocessableEntity
	case errs.Timeout:
		status = http.StatusGatewayTimeout
	case errs.CredentialUnavailable:
		status = http.StatusFailedDependency
	case errs.StorageError, errs.Internal:
		status = http.StatusInternalServerError
	}
	s.writeError(w, err.Error(), status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "uptime": time.Since(s.startedAt).String()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// --- Templates -------------------------------------------------------------

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.svc.ListTemplates(r.URL.Query().Get("category"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var t store.Template
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			s.writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		created, err := s.svc.CreateTemplate(t)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, created)
	default:
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTemplateByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if id == "" {
		s.writeError(w, "template id required", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		t, err := s.svc.GetTemplate(id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, t)
	case http.MethodPut:
		var patch store.Template
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			s.writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		updated, err := s.svc.UpdateTemplate(id, patch)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.svc.DeleteTemplate(id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Tasks -------------------------------------------------------------

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := store.TaskFilter{TemplateID: r.URL.Query().Get("templateId")}
		if v := r.URL.Query().Get("enabled"); v != "" {
			enabled := v == "true"
			filter.Enabled = &enabled
		}
		filter.HasErrors = r.URL.Query().Get("hasErrors") == "true"
		list, err := s.svc.ListTasks(filter)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var t store.Task
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			s.writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		created, err := s.svc.CreateTask(t)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, created)
	default:
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.SplitN(rest, "/", 2)
	idStr := parts[0]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if idStr == "" || err != nil {
		s.writeError(w, "task id must be numeric", http.StatusBadRequest)
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "toggle":
			s.handleToggleTask(w, r, id)
			return
		case "execute":
			s.handleExecuteTask(w, r, id)
			return
		default:
			s.writeError(w, "unknown task sub-resource", http.StatusNotFound)
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		task, err := s.svc.GetTask(id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, task)
	case http.MethodPut:
		var patch store.Task
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			s.writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		updated, err := s.svc.UpdateTask(id, patch)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.svc.DeleteTask(id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	task, err := s.svc.ToggleTask(id, body.Enabled)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		TimeoutMs int `json:"timeoutMs"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	result, err := s.svc.ExecuteTask(r.Context(), id, body.TimeoutMs)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result.Execution)
}

// --- Executions -------------------------------------------------------------

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	filter := store.ExecutionFilter{Status: store.ExecutionStatus(q.Get("status"))}
	if v := q.Get("taskId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, "taskId must be numeric", http.StatusBadRequest)
			return
		}
		filter.TaskID = id
	}
	if v := q.Get("startDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, "startDate must be RFC 3339", http.StatusBadRequest)
			return
		}
		filter.StartDate = &t
	}
	if v := q.Get("endDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, "endDate must be RFC 3339", http.StatusBadRequest)
			return
		}
		filter.EndDate = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, "limit must be numeric", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, "offset must be numeric", http.StatusBadRequest)
			return
		}
		filter.Offset = n
	}

	page, err := s.svc.ListExecutions(filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleExecutionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/executions/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, "execution id must be numeric", http.StatusBadRequest)
		return
	}
	exec, err := s.svc.GetExecution(id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

// --- Credentials -------------------------------------------------------------

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.svc.ListCredentials()
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var body struct {
			store.Credential
			Value string `json:"value,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		var created store.Credential
		var err error
		if body.Value != "" {
			created, err = s.svc.CreateCredentialWithValue(body.Credential, body.Value)
		} else {
			created, err = s.svc.CreateCredentialMetadata(body.Credential)
		}
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, created)
	default:
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCredentialByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/credentials/")
	parts := strings.SplitN(rest, "/", 2)
	idStr := parts[0]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if idStr == "" || err != nil {
		s.writeError(w, "credential id must be numeric", http.StatusBadRequest)
		return
	}

	if len(parts) == 2 && parts[1] == "value" {
		switch r.Method {
		case http.MethodPost:
			var body struct {
				Value string `json:"value"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				s.writeError(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if err := s.svc.UpdateCredentialValue(id, body.Value); err != nil {
				s.writeServiceError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
		case http.MethodDelete:
			if err := s.svc.ClearCredentialValue(id); err != nil {
				s.writeServiceError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		default:
			s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		c, err := s.svc.GetCredential(id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		if err := s.svc.DeleteCredential(id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
