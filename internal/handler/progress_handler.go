package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-sync/internal/service/event"
)

const (
	streamBuffer      = 64
	heartbeatInterval = 15 * time.Second
)

// ProgressHandler 进度事件处理器
type ProgressHandler struct {
	tokens    ProgressTokens
	bus       *event.EventBus
	access    AccessChecker
	heartbeat time.Duration
}

// NewProgressHandler 创建进度处理器
func NewProgressHandler(tokens ProgressTokens, bus *event.EventBus, access AccessChecker) *ProgressHandler {
	return &ProgressHandler{tokens: tokens, bus: bus, access: access, heartbeat: heartbeatInterval}
}

// streamSink 订阅回调不能阻塞发布方。缓冲满时丢弃中间进度，结束事件单独保留
type streamSink struct {
	live  chan *event.Event
	final chan *event.Event
}

func newStreamSink(size int) *streamSink {
	return &streamSink{
		live:  make(chan *event.Event, size),
		final: make(chan *event.Event, 1),
	}
}

// Handle 实现 event.Handler
func (s *streamSink) Handle(_ context.Context, evt *event.Event) error {
	select {
	case s.live <- evt:
		return nil
	default:
	}
	if evt.Phase.Terminal() {
		select {
		case s.final <- evt:
		default:
		}
	}
	return nil
}

// TokenRequest 进度令牌请求
type TokenRequest struct {
	Channel string `json:"channel" binding:"required"`
}

// IssueToken 为某个通道签发一次性的流令牌（EventSource 无法携带 Authorization 头）。
// 只能为自己租户发起的运行签发
func (h *ProgressHandler) IssueToken(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}
	if err := h.access.CheckChannel(user, req.Channel); err != nil {
		Error(c, err)
		return
	}

	token, grant, err := h.tokens.Issue(c.Request.Context(), user.TenantID, req.Channel)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, gin.H{
		"token":      token,
		"channel":    grant.Channel,
		"expires_at": grant.ExpiresAt,
	})
}

// Stream SSE 进度流：先回放已有事件，再推送实时事件，遇到结束阶段或断开时关闭并作废令牌
// @Summary      进度流
// @Tags         进度
// @Produce      text/event-stream
// @Param        channel  query  string  true  "通道"
// @Param        token    query  string  true  "流令牌"
// @Router       /progress/stream [get]
func (h *ProgressHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	channel := c.Query("channel")
	token := c.Query("token")

	if _, err := h.tokens.Validate(ctx, token, channel); err != nil {
		Error(c, err)
		return
	}
	defer func() { _ = h.tokens.Revoke(context.Background(), token) }()

	// 先订阅再回放，重复事件按 ID 去重
	sink := newStreamSink(streamBuffer)
	cancel, err := h.bus.Subscribe(channel, sink)
	if err != nil {
		Error(c, err)
		return
	}
	defer cancel()

	history, err := h.bus.GetEvents(ctx, channel)
	if err != nil {
		Error(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	seen := make(map[string]bool, len(history))
	emit := func(evt *event.Event) {
		if seen[evt.ID] {
			return
		}
		seen[evt.ID] = true
		c.SSEvent("progress", evt)
	}
	for _, evt := range history {
		emit(evt)
		if evt.Phase.Terminal() {
			c.Writer.Flush()
			return
		}
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sink.live:
			emit(evt)
			c.Writer.Flush()
			if evt.Phase.Terminal() {
				return
			}
		case evt := <-sink.final:
			// 先写出缓冲里剩下的进度，结束事件放在最后
			for drained := false; !drained; {
				select {
				case e := <-sink.live:
					emit(e)
				default:
					drained = true
				}
			}
			emit(evt)
			c.Writer.Flush()
			return
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"time": time.Now().Unix()})
			c.Writer.Flush()
		}
	}
}
