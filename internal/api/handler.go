// internal/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	custom_errors "github-manager/internal/errors"
	"github-manager/internal/github"
	"github-manager/internal/model"
	"github-manager/internal/queue"
	"github-manager/internal/store"
	"github-manager/internal/syncer"
)

// Handler is the container for API dependencies.
type Handler struct {
	gh      *github.Client
	rec     *syncer.Reconciler
	records store.RecordStore
	queue   queue.Enqueuer
	logger  *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
// The webhook handler is mounted unauthenticated; everything under /v1 is
// role-gated.
func NewRouter(gh *github.Client, rec *syncer.Reconciler, records store.RecordStore, q queue.Enqueuer, roles RoleChecker, webhooks http.Handler, logger *slog.Logger) http.Handler {
	h := &Handler{gh: gh, rec: rec, records: records, queue: q, logger: logger}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Post("/webhooks/github", webhooks.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		writer := requireAnyRole(roles, RoleAdmin, RoleMaintainer)
		reader := requireAnyRole(roles, RoleAdmin, RoleMaintainer, RoleViewer)
		admin := requireAnyRole(roles, RoleAdmin)

		r.With(writer).Post("/repos", h.createRepository)
		r.With(admin).Delete("/repos/{owner}/{name}", h.deleteRepository)
		r.With(reader).Get("/repos/{owner}/{name}", h.getRepository)
		r.With(reader).Post("/repos/sync", h.syncRepositories)
		r.With(writer).Post("/repos/{owner}/{name}/sync", h.syncRepositoryData)

		r.With(writer).Post("/repos/{owner}/{name}/pulls", h.createPullRequest)
		r.With(writer).Put("/repos/{owner}/{name}/pulls/{number}/merge", h.mergePullRequest)
		r.With(writer).Patch("/repos/{owner}/{name}/pulls/{number}/close", h.closePullRequest)
		r.With(reader).Post("/repos/{owner}/{name}/pulls/sync", h.syncPullRequests)

		r.With(writer).Post("/repos/{owner}/{name}/issues", h.createIssue)
		r.With(writer).Patch("/repos/{owner}/{name}/issues/{number}/close", h.closeIssue)
		r.With(reader).Post("/repos/{owner}/{name}/issues/sync", h.syncIssues)

		r.With(writer).Post("/repos/{owner}/{name}/releases", h.createRelease)
		r.With(admin).Delete("/repos/{owner}/{name}/releases/{id}", h.deleteRelease)
		r.With(reader).Post("/repos/{owner}/{name}/releases/sync", h.syncReleases)

		r.With(reader).Get("/repos/{owner}/{name}/branches", h.listBranches)
		r.With(writer).Post("/repos/{owner}/{name}/branches", h.createBranch)
		r.With(writer).Delete("/repos/{owner}/{name}/branches/{branch}", h.deleteBranch)

		r.With(reader).Get("/orgs/{org}", h.getOrganization)

		r.With(reader).Get("/stats/repositories", h.repositoryStats)
		r.With(reader).Get("/stats/pull-requests", h.pullRequestStats)
		r.With(reader).Get("/stats/issues", h.issueStats)
		r.With(reader).Get("/stats/releases", h.releaseStats)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createRepository handles POST /v1/repos.
func (h *Handler) createRepository(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Private     *bool  `json:"private"`
		Org         string `json:"org"`
		AutoInit    *bool  `json:"auto_init"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		respondWithError(w, http.StatusBadRequest, "Request body must include a repository name")
		return
	}

	opts := github.CreateRepositoryOptions{
		Name:        body.Name,
		Description: body.Description,
		Org:         body.Org,
		Private:     true,
		AutoInit:    true,
	}
	if body.Private != nil {
		opts.Private = *body.Private
	}
	if body.AutoInit != nil {
		opts.AutoInit = *body.AutoInit
	}

	repo, err := h.gh.CreateRepository(r.Context(), opts)
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}

	// Mirror the new repository immediately.
	if _, err := h.rec.SyncRepository(r.Context(), repo.GetFullName(), repo); err != nil {
		h.logger.Error("Failed to mirror created repository", "repository", repo.GetFullName(), "error", err)
	}

	respondWithJSON(w, http.StatusCreated, map[string]any{
		"message":    "Repository created successfully",
		"repository": repo.GetFullName(),
		"url":        repo.GetHTMLURL(),
	})
}

// deleteRepository handles DELETE /v1/repos/{owner}/{name}.
func (h *Handler) deleteRepository(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")

	if err := h.gh.DeleteRepository(r.Context(), owner, name); err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	if err := h.rec.DeleteRepository(r.Context(), owner+"/"+name); err != nil {
		h.logger.Error("Failed to delete local repository record", "repository", owner+"/"+name, "error", err)
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Repository deleted successfully"})
}

// getRepository handles GET /v1/repos/{owner}/{name}: a live fetch that
// also refreshes the local mirror.
func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")

	repo, err := h.gh.GetRepository(r.Context(), owner, name)
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	record, err := h.rec.SyncRepository(r.Context(), repo.GetFullName(), repo)
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, record)
}

// syncRepositories handles POST /v1/repos/sync: enqueues the full
// repository sweep.
func (h *Handler) syncRepositories(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Organization string `json:"organization"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondWithError(w, http.StatusBadRequest, "Malformed request body")
			return
		}
	}

	job := queue.Job{
		Name:    syncer.JobSyncAllRepositories,
		Queue:   queue.ClassLong,
		Timeout: time.Hour,
		Args:    map[string]any{"organization": body.Organization},
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.respondWithAPIError(w, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Repository sync has been queued"})
}

// syncRepositoryData handles POST /v1/repos/{owner}/{name}/sync: enqueues
// the PR, release and issue bulk jobs for one repository.
func (h *Handler) syncRepositoryData(w http.ResponseWriter, r *http.Request) {
	repository := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	if err := syncer.EnqueueRepositoryData(r.Context(), h.queue, repository); err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("Sync jobs for %s have been queued", repository),
	})
}

// createPullRequest handles POST /v1/repos/{owner}/{name}/pulls.
func (h *Handler) createPullRequest(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")

	var body struct {
		Title string `json:"title"`
		Head  string `json:"head"`
		Base  string `json:"base"`
		Body  string `json:"body"`
		Draft bool   `json:"draft"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" || body.Head == "" || body.Base == "" {
		respondWithError(w, http.StatusBadRequest, "Request body must include title, head and base")
		return
	}

	pr, err := h.gh.CreatePullRequest(r.Context(), owner, name, github.CreatePullRequestOptions{
		Title: body.Title, Head: body.Head, Base: body.Base, Body: body.Body, Draft: body.Draft,
	})
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	if _, err := h.rec.SyncPullRequest(r.Context(), owner+"/"+name, pr.GetNumber(), pr); err != nil {
		h.logger.Error("Failed to mirror created pull request", "error", err)
	}

	respondWithJSON(w, http.StatusCreated, map[string]any{
		"message": "Pull request created successfully",
		"number":  pr.GetNumber(),
		"url":     pr.GetHTMLURL(),
	})
}

// mergePullRequest handles PUT /v1/repos/{owner}/{name}/pulls/{number}/merge.
func (h *Handler) mergePullRequest(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Pull request number must be an integer")
		return
	}

	var body struct {
		MergeMethod string `json:"merge_method"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondWithError(w, http.StatusBadRequest, "Malformed request body")
			return
		}
	}

	result, err := h.gh.MergePullRequest(r.Context(), owner, name, number, body.MergeMethod)
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": result.GetMessage(),
		"merged":  result.GetMerged(),
		"sha":     result.GetSHA(),
	})
}

// closePullRequest handles PATCH /v1/repos/{owner}/{name}/pulls/{number}/close.
func (h *Handler) closePullRequest(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Pull request number must be an integer")
		return
	}

	pr, err := h.gh.ClosePullRequest(r.Context(), owner, name, number)
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	if _, err := h.rec.SyncPullRequest(r.Context(), owner+"/"+name, number, pr); err != nil {
		h.logger.Error("Failed to mirror closed pull request", "error", err)
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": "Pull request closed successfully",
		"number":  number,
		"state":   pr.GetState(),
	})
}

// syncPullRequests handles POST /v1/repos/{owner}/{name}/pulls/sync.
func (h *Handler) syncPullRequests(w http.ResponseWriter, r *http.Request) {
	h.enqueueBulkSync(w, r, syncer.JobSyncPullRequests, true)
}

// createIssue handles POST /v1/repos/{owner}/{name}/issues.
func (h *Handler) createIssue(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")

	var body struct {
		Title     string   `json:"title"`
		Body      string   `json:"body"`
		Labels    []string `json:"labels"`
		Assignees []string `json:"assignees"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
		respondWithError(w, http.StatusBadRequest, "Request body must include an issue title")
		return
	}

	issue, err := h.gh.CreateIssue(r.Context(), owner, name, github.CreateIssueOptions{
		Title: body.Title, Body: body.Body, Labels: body.Labels, Assignees: body.Assignees,
	})
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	if _, err := h.rec.SyncIssue(r.Context(), owner+"/"+name, issue.GetNumber(), issue); err != nil {
		h.logger.Error("Failed to mirror created issue", "error", err)
	}

	respondWithJSON(w, http.StatusCreated, map[string]any{
		"message": "Issue created successfully",
		"number":  issue.GetNumber(),
		"url":     issue.GetHTMLURL(),
	})
}

// closeIssue handles PATCH /v1/repos/{owner}/{name}/issues/{number}/close.
func (h *Handler) closeIssue(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Issue number must be an integer")
		return
	}

	issue, err := h.gh.CloseIssue(r.Context(), owner, name, number)
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	if _, err := h.rec.SyncIssue(r.Context(), owner+"/"+name, number, issue); err != nil {
		h.logger.Error("Failed to mirror closed issue", "error", err)
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": "Issue closed successfully",
		"number":  number,
		"state":   issue.GetState(),
	})
}

// syncIssues handles POST /v1/repos/{owner}/{name}/issues/sync.
func (h *Handler) syncIssues(w http.ResponseWriter, r *http.Request) {
	h.enqueueBulkSync(w, r, syncer.JobSyncIssues, true)
}

// createRelease handles POST /v1/repos/{owner}/{name}/releases.
func (h *Handler) createRelease(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")

	var body struct {
		TagName         string `json:"tag_name"`
		Name            string `json:"name"`
		Body            string `json:"body"`
		Draft           bool   `json:"draft"`
		Prerelease      bool   `json:"prerelease"`
		TargetCommitish string `json:"target_commitish"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TagName == "" {
		respondWithError(w, http.StatusBadRequest, "Request body must include a tag_name")
		return
	}

	release, err := h.gh.CreateRelease(r.Context(), owner, name, github.CreateReleaseOptions{
		TagName: body.TagName, Name: body.Name, Body: body.Body,
		Draft: body.Draft, Prerelease: body.Prerelease, TargetCommitish: body.TargetCommitish,
	})
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	if _, err := h.rec.SyncRelease(r.Context(), owner+"/"+name, release.GetTagName(), release); err != nil {
		h.logger.Error("Failed to mirror created release", "error", err)
	}

	respondWithJSON(w, http.StatusCreated, map[string]any{
		"message": "Release created successfully",
		"tag":     release.GetTagName(),
		"url":     release.GetHTMLURL(),
	})
}

// deleteRelease handles DELETE /v1/repos/{owner}/{name}/releases/{id}.
func (h *Handler) deleteRelease(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")
	releaseID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Release id must be an integer")
		return
	}

	if err := h.gh.DeleteRelease(r.Context(), owner, name, releaseID); err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Release deleted successfully"})
}

// syncReleases handles POST /v1/repos/{owner}/{name}/releases/sync.
func (h *Handler) syncReleases(w http.ResponseWriter, r *http.Request) {
	h.enqueueBulkSync(w, r, syncer.JobSyncReleases, false)
}

// listBranches handles GET /v1/repos/{owner}/{name}/branches.
func (h *Handler) listBranches(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")

	page, perPage := paginationParams(r, 1, 30)
	branches, err := h.gh.ListBranches(r.Context(), owner, name, page, perPage)
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}

	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.GetName())
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message":  fmt.Sprintf("Found %d branches", len(names)),
		"branches": names,
	})
}

// createBranch handles POST /v1/repos/{owner}/{name}/branches.
func (h *Handler) createBranch(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")

	var body struct {
		Branch     string `json:"branch"`
		FromBranch string `json:"from_branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Branch == "" {
		respondWithError(w, http.StatusBadRequest, "Request body must include a branch name")
		return
	}

	ref, err := h.gh.CreateBranch(r.Context(), owner, name, body.Branch, body.FromBranch)
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]any{
		"message": "Branch created successfully",
		"branch":  body.Branch,
		"ref":     ref.GetRef(),
	})
}

// deleteBranch handles DELETE /v1/repos/{owner}/{name}/branches/{branch}.
// The repository's default branch is refused.
func (h *Handler) deleteBranch(w http.ResponseWriter, r *http.Request) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "name")
	branch := chi.URLParam(r, "branch")
	repository := owner + "/" + name

	var record model.Repository
	err := h.records.Get(r.Context(), model.KindRepository, model.RepositoryKey(repository), &record)
	if err == nil && record.DefaultBranch == branch {
		respondWithError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Cannot delete the default branch %q", branch))
		return
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.respondWithAPIError(w, err)
		return
	}

	if err := h.gh.DeleteBranch(r.Context(), owner, name, branch); err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Branch deleted successfully"})
}

// getOrganization handles GET /v1/orgs/{org}: live fetch plus mirror
// refresh.
func (h *Handler) getOrganization(w http.ResponseWriter, r *http.Request) {
	org := chi.URLParam(r, "org")

	payload, err := h.gh.GetOrganization(r.Context(), org)
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	record, err := h.rec.SyncOrganization(r.Context(), org, payload)
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, record)
}

func (h *Handler) repositoryStats(w http.ResponseWriter, r *http.Request) {
	h.respondWithCounts(w, r, model.KindRepository, map[string][2]string{
		"private":  {"visibility", "private"},
		"public":   {"visibility", "public"},
		"archived": {"archived", "true"},
	})
}

func (h *Handler) pullRequestStats(w http.ResponseWriter, r *http.Request) {
	h.respondWithCounts(w, r, model.KindPullRequest, map[string][2]string{
		"open":   {"state", "open"},
		"closed": {"state", "closed"},
		"merged": {"state", "merged"},
	})
}

func (h *Handler) issueStats(w http.ResponseWriter, r *http.Request) {
	h.respondWithCounts(w, r, model.KindIssue, map[string][2]string{
		"open":   {"state", "open"},
		"closed": {"state", "closed"},
	})
}

func (h *Handler) releaseStats(w http.ResponseWriter, r *http.Request) {
	h.respondWithCounts(w, r, model.KindRelease, map[string][2]string{
		"draft":      {"draft", "true"},
		"prerelease": {"prerelease", "true"},
	})
}

func (h *Handler) respondWithCounts(w http.ResponseWriter, r *http.Request, kind string, facets map[string][2]string) {
	stats := map[string]int64{}

	total, err := h.records.CountWhere(r.Context(), kind, "", "")
	if err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	stats["total"] = total

	for label, facet := range facets {
		count, err := h.records.CountWhere(r.Context(), kind, facet[0], facet[1])
		if err != nil {
			h.respondWithAPIError(w, err)
			return
		}
		stats[label] = count
	}

	respondWithJSON(w, http.StatusOK, stats)
}

// enqueueBulkSync is the shared trigger for the per-repository bulk jobs.
func (h *Handler) enqueueBulkSync(w http.ResponseWriter, r *http.Request, jobName string, hasState bool) {
	repository := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	args := map[string]any{"repository": repository}
	if hasState {
		state := r.URL.Query().Get("state")
		if state == "" {
			state = "all"
		}
		args["state"] = state
	}

	job := queue.Job{Name: jobName, Queue: queue.ClassLong, Timeout: 30 * time.Minute, Args: args}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.respondWithAPIError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("Sync for %s has been queued", repository),
	})
}

// respondWithAPIError is the boundary adapter from the error taxonomy to
// transport status codes. Unexpected errors are logged server-side and
// reported generically.
func (h *Handler) respondWithAPIError(w http.ResponseWriter, err error) {
	var apiErr *custom_errors.APIError
	var rateErr *custom_errors.RateLimitError
	var authErr *custom_errors.AuthError
	var transientErr *custom_errors.TransientError
	var formatErr *custom_errors.ErrInvalidRepoFormat

	switch {
	case errors.As(err, &formatErr):
		respondWithError(w, http.StatusBadRequest, formatErr.Error())
	case errors.As(err, &apiErr):
		status := apiErr.StatusCode
		if status < 400 || status > 499 {
			status = http.StatusBadGateway
		}
		respondWithError(w, status, apiErr.Error())
	case errors.As(err, &rateErr):
		respondWithError(w, http.StatusTooManyRequests, rateErr.Error())
	case errors.As(err, &authErr):
		respondWithError(w, http.StatusBadGateway, authErr.Error())
	case errors.As(err, &transientErr):
		respondWithError(w, http.StatusGatewayTimeout, transientErr.Error())
	default:
		h.logger.Error("Unexpected error handling request", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func paginationParams(r *http.Request, defaultPage, defaultPerPage int) (page, perPage int) {
	page, perPage = defaultPage, defaultPerPage
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 && v <= 100 {
		perPage = v
	}
	return page, perPage
}

func respondWithJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
