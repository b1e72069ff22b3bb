package controller

import (
	"strings"
	"time"

	"arena/internal/common/http/middleware"
	"arena/internal/contest/model"
	"arena/internal/contest/service"
	appErr "arena/pkg/errors"
	"arena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ContestController handles contest HTTP endpoints.
type ContestController struct {
	contestService *service.ContestService
	stream         StreamConfig
}

// NewContestController creates a new ContestController.
func NewContestController(contestService *service.ContestService, stream StreamConfig) *ContestController {
	return &ContestController{contestService: contestService, stream: stream.withDefaults()}
}

// Register mounts the contest routes on api, which is expected to be /api/v1
// with IdentityMiddleware already applied.
func (h *ContestController) Register(api gin.IRouter) {
	contests := api.Group("/contests", middleware.RequireIdentity())
	contests.GET("", h.List)
	contests.POST("", middleware.RequireIdentity(middleware.RoleOrganizer, middleware.RoleAdmin), h.Create)
	contests.POST("/join", h.Join)
	contests.GET("/:id", h.Detail)
	contests.POST("/:id/run", h.Run)
	contests.POST("/:id/submit", h.Submit)
	contests.GET("/:id/submissions", h.Submissions)
	contests.GET("/:id/rankings", h.Rankings)
	contests.GET("/:id/rankings/stream", h.StreamRankings)

	admin := api.Group("/admin", middleware.RequireIdentity(middleware.RoleOrganizer, middleware.RoleAdmin))
	admin.GET("/contests", h.ListCreated)
}

func callerFrom(c *gin.Context) service.Caller {
	id, _ := middleware.IdentityFrom(c)
	return service.Caller{UserID: id.UserID, Organizer: id.IsOrganizer()}
}

// List returns all contests grouped by phase.
func (h *ContestController) List(c *gin.Context) {
	list, err := h.contestService.ListContests(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// ListCreated returns contests created by the caller.
func (h *ContestController) ListCreated(c *gin.Context) {
	list, err := h.contestService.ListCreated(c.Request.Context(), callerFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"contests": list})
}

// Create schedules a new contest.
func (h *ContestController) Create(c *gin.Context) {
	var req CreateContestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	contest, err := h.contestService.CreateContest(c.Request.Context(), callerFrom(c), service.CreateContestInput{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		ProblemIDs:  req.ProblemIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, contest)
}

// Join registers the caller through a room code.
func (h *ContestController) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	contest, err := h.contestService.Join(c.Request.Context(), callerFrom(c), req.RoomCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, JoinResponse{ContestID: contest.ID, Title: contest.Title, StartTime: contest.StartTime, EndTime: contest.EndTime})
}

// Detail returns the arena view of one contest.
func (h *ContestController) Detail(c *gin.Context) {
	detail, err := h.contestService.Detail(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, detail)
}

// Run judges code against the problem's examples.
func (h *ContestController) Run(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	out, err := h.contestService.Run(c.Request.Context(), callerFrom(c), c.Param("id"), req.ProblemID, req.Code, req.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// Submit judges a scoring submission.
func (h *ContestController) Submit(c *gin.Context) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	idempotencyKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	attempt, err := h.contestService.Submit(c.Request.Context(), callerFrom(c), c.Param("id"), req.ProblemID, req.Code, req.Language, idempotencyKey)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmitResponse(attempt))
}

// Submissions lists the caller's attempts; organizers may pass user_id.
func (h *ContestController) Submissions(c *gin.Context) {
	attempts, err := h.contestService.Submissions(c.Request.Context(), callerFrom(c), c.Param("id"), c.Query("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]SubmitResponse, 0, len(attempts))
	for i := range attempts {
		items = append(items, toSubmitResponse(&attempts[i]))
	}
	response.Success(c, gin.H{"items": items})
}

// Rankings returns the leaderboard, or 202 while it is not available yet.
func (h *ContestController) Rankings(c *gin.Context) {
	board, err := h.contestService.Rankings(c.Request.Context(), c.Param("id"))
	if err != nil {
		if e := appErr.GetError(err); e.Code == appErr.RankingNotAvailable {
			response.Pending(c, e.Code, e.Details)
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, board)
}

// CreateContestRequest defines the contest creation payload.
type CreateContestRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
	ProblemIDs  []string  `json:"problem_ids" binding:"required"`
}

// JoinRequest defines the join payload.
type JoinRequest struct {
	RoomCode string `json:"room_code" binding:"required"`
}

// JoinResponse defines the join response payload.
type JoinResponse struct {
	ContestID string    `json:"contest_id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// CodeRequest defines the run and submit payload.
type CodeRequest struct {
	ProblemID string `json:"problem_id" binding:"required"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

// SubmitResponse is an attempt without its source code.
type SubmitResponse struct {
	AttemptID    string             `json:"attempt_id"`
	ProblemID    string             `json:"problem_id"`
	ContestantID string             `json:"contestant_id"`
	Mode         string             `json:"mode"`
	Language     string             `json:"language"`
	Verdict      model.Verdict      `json:"verdict"`
	Results      []model.CaseResult `json:"results,omitempty"`
	ErrorKind    model.ErrorKind    `json:"error_kind,omitempty"`
	SubmittedAt  time.Time          `json:"submitted_at"`
	JudgedAt     *time.Time         `json:"judged_at,omitempty"`
}

func toSubmitResponse(a *model.Attempt) SubmitResponse {
	return SubmitResponse{
		AttemptID:    a.ID,
		ProblemID:    a.ProblemID,
		ContestantID: a.ContestantID,
		Mode:         a.Mode.String(),
		Language:     a.Language,
		Verdict:      a.Verdict,
		Results:      a.Results,
		ErrorKind:    a.ErrorKind,
		SubmittedAt:  a.SubmittedAt,
		JudgedAt:     a.JudgedAt,
	}
}
