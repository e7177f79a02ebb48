package api

import (
	"fmt"
	"net/http"
	"strconv"

	"woodland-client/internal/gameapi"
	"woodland-client/internal/middleware"
	"woodland-client/internal/model"
	"woodland-client/internal/payload"
	"woodland-client/internal/service"
	"woodland-client/pkg/logger"
	"woodland-client/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container) {
	handler := &Handler{services: services}

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/bridge/v1")
	v1.Use(middleware.RequestLogger(logger.Named("bridge")), middleware.BearerCredential(services.Session))
	{
		v1.POST("/session/login", handler.Login)
		v1.DELETE("/session", handler.Logout)

		games := v1.Group("/games/:gameId")
		{
			games.POST("", handler.OpenGame)
			games.DELETE("", handler.CloseGame)

			games.GET("/action", handler.GetAction)
			games.POST("/action/fragment", handler.SubmitFragment)
			games.POST("/action/cancel", handler.CancelAction)
			games.POST("/action/override", handler.OverrideRoute)
			games.POST("/undo", handler.Undo)

			games.GET("/clearings", handler.Clearings)
			games.GET("/hand", handler.PlayerHand)
			games.GET("/player", handler.Player)
			games.GET("/players", handler.Players)
			games.GET("/dominance", handler.DominanceSupply)
			games.GET("/turn", handler.TurnInfo)
			games.GET("/crafted/:faction", handler.CraftedCards)
			games.GET("/factions/:faction", handler.FactionBoard)
			games.GET("/journal", handler.Journal)
		}
	}
}

type loginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// fragmentBody carries one gesture: field type to raw value, for example
// {"fields": {"clearing_number": 4}}.
type fragmentBody struct {
	Fields map[string]any `json:"fields" binding:"required,min=1"`
}

func (b fragmentBody) toFragment() (payload.Fragment, error) {
	frag := payload.Fragment{}
	for field, raw := range b.Fields {
		v, err := payload.ValueFor(payload.FieldType(field), raw)
		if err != nil {
			return nil, err
		}
		frag[payload.FieldType(field)] = v
	}
	return frag, nil
}

type overrideBody struct {
	Route string `json:"route" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.services.SignIn(c.Request.Context(), body.Username, body.Password); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"username": h.services.Session.Username()})
}

func (h *Handler) Logout(c *gin.Context) {
	h.services.SignOut(c.Request.Context())
	response.SuccessWithMsg(c, gin.H{}, "signed out")
}

func (h *Handler) OpenGame(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	view, err := h.services.OpenView(gameID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"action":   view.Engine.View(),
		"realtime": view.Channel.Status(),
	})
}

func (h *Handler) CloseGame(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	if err := h.services.CloseView(c.Request.Context(), gameID); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{}, "game closed")
}

func (h *Handler) GetAction(c *gin.Context) {
	view, ok := h.gameView(c)
	if !ok {
		return
	}
	response.Success(c, gin.H{
		"action":   view.Engine.View(),
		"realtime": view.Channel.Status(),
	})
}

func (h *Handler) SubmitFragment(c *gin.Context) {
	view, ok := h.gameView(c)
	if !ok {
		return
	}
	var body fragmentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	frag, err := body.toFragment()
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := view.Engine.SubmitFragment(c.Request.Context(), frag)
	if err != nil {
		response.FromError(c, err)
		return
	}
	msg := ""
	if outcome.Declined {
		msg = "fragment does not complete the current step"
	}
	response.SuccessWithMsg(c, gin.H{
		"outcome": outcome,
		"action":  view.Engine.View(),
	}, msg)
}

func (h *Handler) CancelAction(c *gin.Context) {
	view, ok := h.gameView(c)
	if !ok {
		return
	}
	view.Engine.Cancel(c.Request.Context())
	response.Success(c, gin.H{"action": view.Engine.View()})
}

func (h *Handler) OverrideRoute(c *gin.Context) {
	view, ok := h.gameView(c)
	if !ok {
		return
	}
	var body overrideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	step, err := view.Engine.OverrideRoute(c.Request.Context(), body.Route)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"step":   step,
		"action": view.Engine.View(),
	})
}

func (h *Handler) Undo(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	if err := h.services.Undo.Undo(c.Request.Context(), gameID); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMsg(c, gin.H{}, "undone")
}

func (h *Handler) Clearings(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	items, err := h.services.Reads.Clearings(c.Request.Context(), gameID)
	respond(c, gin.H{"items": items}, err)
}

func (h *Handler) PlayerHand(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	items, err := h.services.Reads.PlayerHand(c.Request.Context(), gameID)
	respond(c, gin.H{"items": items}, err)
}

func (h *Handler) Player(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	player, err := h.services.Reads.Player(c.Request.Context(), gameID)
	respond(c, player, err)
}

func (h *Handler) Players(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	items, err := h.services.Reads.Players(c.Request.Context(), gameID)
	respond(c, gin.H{"items": items}, err)
}

func (h *Handler) DominanceSupply(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	supply, err := h.services.Reads.DominanceSupply(c.Request.Context(), gameID)
	respond(c, supply, err)
}

func (h *Handler) TurnInfo(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	info, err := h.services.Reads.TurnInfo(c.Request.Context(), gameID)
	respond(c, info, err)
}

func (h *Handler) CraftedCards(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	items, err := h.services.Reads.CraftedCards(c.Request.Context(), gameID, c.Param("faction"))
	respond(c, gin.H{"items": items}, err)
}

func (h *Handler) FactionBoard(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	faction := c.Param("faction")
	if !gameapi.KnownFaction(faction) {
		response.Error(c, http.StatusBadRequest, fmt.Sprintf("unknown faction %q", faction))
		return
	}
	board, err := h.services.Reads.FactionBoard(c.Request.Context(), gameID, faction)
	respond(c, board, err)
}

func (h *Handler) Journal(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	limit, err := parsePositiveIntQuery(c, "limit", 50)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if h.services.Journal == nil {
		response.SuccessWithMsg(c, gin.H{"items": []model.JournalEntry{}}, "journal disabled")
		return
	}
	items, err := h.services.Journal.List(c.Request.Context(), gameID, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, gin.H{"items": items, "limit": limit})
}

func (h *Handler) gameView(c *gin.Context) (*service.GameView, bool) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return nil, false
	}
	view, err := h.services.View(gameID)
	if err != nil {
		response.FromError(c, err)
		return nil, false
	}
	return view, true
}

func respond(c *gin.Context, data interface{}, err error) {
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, data)
}

func gameIDParam(c *gin.Context) (model.GameID, bool) {
	id, err := strconv.ParseInt(c.Param("gameId"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid gameId")
		return 0, false
	}
	return id, true
}

func parsePositiveIntQuery(c *gin.Context, key string, defaultVal int) (int, error) {
	val := c.Query(key)
	if val == "" {
		return defaultVal, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return parsed, nil
}
