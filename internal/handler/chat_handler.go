package handler

import (
	"net/http"
	"strconv"

	"matjip-chat/internal/events"
	"matjip-chat/internal/services"
	"matjip-chat/internal/transport/httpdto"
	matjip_errors "matjip-chat/pkg/errors"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	service *services.ChatService
}

func NewChatHandler(service *services.ChatService) *ChatHandler {
	return &ChatHandler{service: service}
}

// Register mounts the chat routes on api. sendLimit runs in front of the message send endpoints.
func (h *ChatHandler) Register(api *gin.RouterGroup, sendLimit ...gin.HandlerFunc) {
	send := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, sendLimit...), handler)
	}

	chat := api.Group("/chat")
	{
		chat.GET("/rooms", h.ListRooms)
		chat.POST("/rooms", h.GetOrCreateRoom)
		chat.POST("/rooms/group", h.CreateGroupRoom)
		chat.GET("/rooms/:id/messages", h.ListLegacyMessages)
		chat.POST("/rooms/:id/messages", send(h.SendLegacyMessage)...)

		chat.GET("/room/:uuid", h.GetRoom)
		chat.GET("/room/:uuid/messages", h.ListMessages)
		chat.POST("/room/:uuid/messages", send(h.SendMessage)...)
		chat.DELETE("/room/:uuid/messages/:messageId", h.DeleteMessage)
		chat.POST("/room/:uuid/read", h.MarkRead)
		chat.POST("/room/:uuid/leave", h.LeaveRoom)
		chat.POST("/room/:uuid/invite", h.InviteToRoom)
		chat.PUT("/room/:uuid/name", h.RenameRoom)
		chat.GET("/room/:uuid/members", h.RoomMembers)
	}
	api.POST("/users/:id/block", h.BlockUser)
}

func (h *ChatHandler) ListRooms(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	q, ok := bindPage(c)
	if !ok {
		return
	}
	page, err := h.service.ListRooms(c.Request.Context(), userID, q.Page, q.Size)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(page))
}

func (h *ChatHandler) GetOrCreateRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req httpdto.GetOrCreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetUserID <= 0 {
		invalid(c, "invalid targetUserId")
		return
	}
	room, err := h.service.GetOrCreateRoom(c.Request.Context(), userID, req.TargetUserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(room))
}

func (h *ChatHandler) CreateGroupRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req httpdto.CreateGroupRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	room, err := h.service.CreateGroupRoom(c.Request.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(room))
}

func (h *ChatHandler) GetRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	room, err := h.service.GetRoom(c.Request.Context(), userID, c.Param("uuid"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(room))
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	q, ok := bindPage(c)
	if !ok {
		return
	}
	page, err := h.service.ListMessages(c.Request.Context(), userID, c.Param("uuid"), q.Page, q.Size)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(page))
}

// ListLegacyMessages serves rooms addressed by numeric id. Older clients expect each page
// newest first.
func (h *ChatHandler) ListLegacyMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomUUID, ok := h.legacyRoom(c, userID)
	if !ok {
		return
	}
	q, ok := bindPage(c)
	if !ok {
		return
	}
	page, err := h.service.ListMessages(c.Request.Context(), userID, roomUUID, q.Page, q.Size)
	if err != nil {
		_ = c.Error(err)
		return
	}
	for i, j := 0, len(page.Content)-1; i < j; i, j = i+1, j-1 {
		page.Content[i], page.Content[j] = page.Content[j], page.Content[i]
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(page))
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	h.send(c, userID, c.Param("uuid"))
}

func (h *ChatHandler) SendLegacyMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomUUID, ok := h.legacyRoom(c, userID)
	if !ok {
		return
	}
	h.send(c, userID, roomUUID)
}

func (h *ChatHandler) send(c *gin.Context, userID int64, roomUUID string) {
	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	msg, err := h.service.SendMessage(c.Request.Context(), userID, roomUUID, req.Content, req.ClientMessageID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(msg))
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		invalid(c, "invalid messageId")
		return
	}
	if err := h.service.DeleteMessage(c.Request.Context(), userID, c.Param("uuid"), messageID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"deleted": messageID}))
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	n, err := h.service.MarkRead(c.Request.Context(), userID, c.Param("uuid"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.MarkReadResponse{
		RoomUUID:     n.RoomUUID,
		ReadByUserID: n.ReadByUserID,
	}))
}

func (h *ChatHandler) LeaveRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.service.LeaveRoom(c.Request.Context(), userID, c.Param("uuid")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"left": c.Param("uuid")}))
}

func (h *ChatHandler) InviteToRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req httpdto.InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.UserIDs) == 0 {
		invalid(c, "invalid userIds")
		return
	}
	room, err := h.service.InviteToRoom(c.Request.Context(), userID, c.Param("uuid"), req.UserIDs)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(room))
}

func (h *ChatHandler) RenameRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req httpdto.RenameRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	room, err := h.service.RenameRoom(c.Request.Context(), userID, c.Param("uuid"), req.Name)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(room))
}

func (h *ChatHandler) RoomMembers(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	members, err := h.service.RoomMembers(c.Request.Context(), userID, c.Param("uuid"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(members))
}

func (h *ChatHandler) BlockUser(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	targetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || targetID <= 0 {
		invalid(c, "invalid user id")
		return
	}
	if err := h.service.BlockUser(c.Request.Context(), userID, targetID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"blocked": targetID}))
}

func (h *ChatHandler) legacyRoom(c *gin.Context, userID int64) (string, bool) {
	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || roomID <= 0 {
		invalid(c, "invalid room id")
		return "", false
	}
	roomUUID, err := h.service.RoomUUIDByID(c.Request.Context(), userID, roomID)
	if err != nil {
		_ = c.Error(err)
		return "", false
	}
	return roomUUID, true
}

func currentUser(c *gin.Context) (int64, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse(matjip_errors.ErrUnauthorized.Error(), events.CodeUnauthorized))
		return 0, false
	}
	return userID, true
}

func bindPage(c *gin.Context) (httpdto.MessagePageQuery, bool) {
	var q httpdto.MessagePageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		invalid(c, "invalid page query")
		return q, false
	}
	return q.Normalize(), true
}

func invalid(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(message, events.CodeInvalidRequest))
}
