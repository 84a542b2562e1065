package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Darkvarin/Learnyzer-sub003/internal/battle"
	"github.com/Darkvarin/Learnyzer-sub003/internal/services"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/errors"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/response"
	"github.com/Darkvarin/Learnyzer-sub003/pkg/validator"
)

// BattleHandler exposes the HTTP management surface for battles. Live
// traffic goes over the stream; these endpoints create, steer and inspect.
type BattleHandler struct {
	manager *battle.Manager
	results *services.BattleResultService
}

// NewBattleHandler wires the battle management endpoints.
func NewBattleHandler(manager *battle.Manager, results *services.BattleResultService) *BattleHandler {
	return &BattleHandler{
		manager: manager,
		results: results,
	}
}

type createBattleRequest struct {
	BattleID      string `json:"battleId"`
	QuestionCount int    `json:"questionCount" validate:"required,gt=0"`
}

type createBattleResponse struct {
	BattleID      string `json:"battleId"`
	State         string `json:"state"`
	QuestionCount int    `json:"questionCount"`
}

// Create provisions a room so participants can join before the start signal.
func (h *BattleHandler) Create(c *gin.Context) {
	var req createBattleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest("invalid request payload"))
		return
	}
	if err := validator.ValidateStruct(&req); err != nil {
		response.Error(c, errors.NewBadRequest(err.Error()))
		return
	}

	room, err := h.manager.Create(req.BattleID, req.QuestionCount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, createBattleResponse{
		BattleID:      room.ID(),
		State:         room.State().String(),
		QuestionCount: room.QuestionCount(),
	})
}

// Start flips a forming battle to active and arms its deadline.
func (h *BattleHandler) Start(c *gin.Context) {
	if err := h.manager.Start(c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"started": true})
}

// Abort cancels a battle without judging or persisting anything.
func (h *BattleHandler) Abort(c *gin.Context) {
	if err := h.manager.Abort(c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"aborted": true})
}

// Progress returns the live ranking snapshot for a battle. Reconnecting
// clients call this to resync instead of replaying missed frames.
func (h *BattleHandler) Progress(c *gin.Context) {
	snapshot, err := h.manager.ProgressSnapshot(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, snapshot)
}

// Members lists the identities currently part of the battle.
func (h *BattleHandler) Members(c *gin.Context) {
	members, err := h.manager.Members(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"members": members})
}

// Result returns the persisted final standings of a completed battle.
func (h *BattleHandler) Result(c *gin.Context) {
	if h.results == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	result, err := h.results.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
