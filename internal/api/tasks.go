package api

import (
	"encoding/json"
	"net/http"
	"os"
	"os/exec"

	"github.com/go-chi/chi/v5"

	"github.com/taskforge/taskforge/internal/core"
	"github.com/taskforge/taskforge/internal/orchestrator"
)

func (s *Server) taskID(r *http.Request) core.TaskID {
	return core.TaskID(chi.URLParam(r, "id"))
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// createTaskBody is the POST /tasks request shape (§6.1).
type createTaskBody struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	RepoURL      string   `json:"repo_url"`
	TargetBranch string   `json:"target_branch,omitempty"`
	ContextFiles []string `json:"context_files,omitempty"`
	BuildCommand string   `json:"build_command,omitempty"`
	RepositoryID string   `json:"repository_id,omitempty"`
	UserInput    string   `json:"user_input,omitempty"`
	AgentType    string   `json:"agent_type,omitempty"`
	AgentModel   string   `json:"agent_model,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskBody
	if err := decodeBody(r, &body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Validation failed",
			"details": []map[string]string{{"field": "body", "message": "malformed JSON body"}},
		})
		return
	}

	var fields []map[string]string
	if body.Title == "" {
		fields = append(fields, map[string]string{"field": "title", "message": "title is required"})
	}
	if body.RepoURL == "" {
		fields = append(fields, map[string]string{"field": "repo_url", "message": "repo_url is required"})
	}
	if len(fields) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "Validation failed",
			"details": fields,
		})
		return
	}

	task, err := s.orch.CreateTask(r.Context(), orchestrator.CreateInput{
		Title:        body.Title,
		Description:  body.Description,
		UserInput:    body.UserInput,
		RepositoryID: body.RepositoryID,
		RepoURL:      body.RepoURL,
		TargetBranch: body.TargetBranch,
		ContextFiles: body.ContextFiles,
		BuildCommand: body.BuildCommand,
		PreferredCLI: body.AgentType,
		Model:        body.AgentModel,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	repositoryID := r.URL.Query().Get("repository_id")
	tasks, err := s.orch.ListTasks(r.Context(), repositoryID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.GetTask(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

type updateTaskBody struct {
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	RepositoryID *string  `json:"repository_id,omitempty"`
	TargetBranch *string  `json:"target_branch,omitempty"`
	ContextFiles []string `json:"context_files,omitempty"`
	BuildCommand *string  `json:"build_command,omitempty"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var body updateTaskBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	task, err := s.orch.UpdateTask(r.Context(), s.taskID(r), orchestrator.UpdateFields{
		Title:        body.Title,
		Description:  body.Description,
		RepositoryID: body.RepositoryID,
		TargetBranch: body.TargetBranch,
		ContextFiles: body.ContextFiles,
		BuildCommand: body.BuildCommand,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteTask(r.Context(), s.taskID(r)); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateSpec(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.GenerateSpec(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleRegenerateSpec(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.RegenerateSpec(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleEditSpec(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GeneratedSpec string `json:"generated_spec"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	task, err := s.orch.EditSpec(r.Context(), s.taskID(r), orchestrator.EditSpecInput{Text: body.GeneratedSpec})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleApproveSpec(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.ApproveSpec(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.ApprovePlan(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.Start(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.Execute(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil || body.Message == "" {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "Validation failed",
			"details": []map[string]string{{"field": "message", "message": "message is required"}},
		})
		return
	}
	task, err := s.orch.Feedback(r.Context(), s.taskID(r), body.Message)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.ExtendTimeout(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"new_timeout": task.UpdatedAt})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.Cancel(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.Approve(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"pr_url": task.PRURL})
}

func (s *Server) handleRequestChanges(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Feedback string `json:"feedback"`
	}
	_ = decodeBody(r, &body)
	task, err := s.orch.RequestChanges(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if body.Feedback != "" {
		if _, err := s.orch.Feedback(r.Context(), s.taskID(r), body.Feedback); err != nil {
			respondDomainError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handlePRMerged(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.PRMerged(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handlePRClosed(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.PRClosed(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleCleanupWorktree(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.CleanupWorktree(r.Context(), s.taskID(r)); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleaned"})
}

// handleOpenEditor fire-and-forgets the operator's $EDITOR against the
// task's worktree path (§6.1: "merge_conflicts only; fire-and-forget
// shell invocation"). It does not wait for the editor to exit.
func (s *Server) handleOpenEditor(w http.ResponseWriter, r *http.Request) {
	id := s.taskID(r)
	task, err := s.orch.GetTask(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if task.Status != core.StatusMergeConflicts {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Invalid task status",
			"message": "open-editor is only permitted while merge_conflicts",
		})
		return
	}
	path := s.orch.WorktreePath(id)
	if path == "" {
		respondError(w, http.StatusNotFound, "no worktree for this task")
		return
	}
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	cmd := exec.Command(editor, path)
	cmd.Dir = path
	if err := cmd.Start(); err != nil {
		s.logger.Warn("failed to launch editor", "task_id", id, "editor", editor, "error", err)
		respondError(w, http.StatusInternalServerError, "could not launch editor")
		return
	}
	go func() { _ = cmd.Wait() }()
	respondJSON(w, http.StatusOK, map[string]string{"status": "launched"})
}

func (s *Server) handleResolveConflicts(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.ResolveConflicts(r.Context(), s.taskID(r))
	if err != nil {
		if core.IsCategory(err, core.ErrCatMergeConflict) {
			respondJSON(w, http.StatusConflict, map[string]interface{}{
				"error": "conflicts remain",
			})
			return
		}
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	diff, err := s.orch.Changes(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"files": diff.Files,
		"diff":  diff.Diff,
	})
}

func (s *Server) handlePRComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.orch.PRComments(r.Context(), s.taskID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"comments":   comments,
		"totalCount": len(comments),
	})
}
