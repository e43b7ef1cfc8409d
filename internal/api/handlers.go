package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	log "github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/orchestrator"
	"github.com/modelgate/modelgate/internal/wire"
)

const maxRequestBody = 50 << 20

func (s *Server) handleOpenAIChat(c *gin.Context)     { s.handleCompletion(c, "", false) }
func (s *Server) handleResponses(c *gin.Context)      { s.handleCompletion(c, "", false) }
func (s *Server) handleClaudeMessages(c *gin.Context) { s.handleCompletion(c, "", false) }

// handleGemini serves …/models/<model>:<method> requests; model and stream
// flag ride in the path, not the body.
func (s *Server) handleGemini(c *gin.Context) {
	action := strings.TrimPrefix(c.Param("action"), "/")
	model, method, ok := splitAction(action)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "expected models/<model>:<method>"}})
		return
	}
	stream := method == "streamGenerateContent" || c.Query("alt") == "sse"
	s.handleCompletion(c, model, stream)
}

// handleCloudCode serves the wrapped-wire variants; the model is a
// top-level envelope field.
func (s *Server) handleCloudCode(c *gin.Context) {
	stream := strings.HasSuffix(c.Request.URL.Path, ":streamGenerateContent") || c.Query("alt") == "sse"
	s.handleCompletion(c, "", stream)
}

// handleCompletion is the shared funnel: classify, extract model and
// stream flag when the route did not carry them, orchestrate, render.
func (s *Server) handleCompletion(c *gin.Context, pathModel string, pathStream bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "unreadable request body"}})
		return
	}

	source := wire.Classify(payload)
	doc := gjson.ParseBytes(payload)

	model := pathModel
	if model == "" {
		model = doc.Get("model").String()
	}
	stream := pathStream || doc.Get("stream").Bool()

	reply, err := s.orch.Complete(c.Request.Context(), orchestrator.Request{
		Source:  source,
		Payload: payload,
		Model:   model,
		Stream:  stream,
	})
	if err != nil {
		renderError(c, source, err)
		return
	}

	if reply.Stream == nil {
		c.Data(http.StatusOK, "application/json", reply.Body)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	if err := reply.Stream(sseWriter{c.Writer}); err != nil {
		// Headers are gone; all that is left is to stop writing.
		log.Debugf("api: stream to client ended early: %v", err)
	}
}

func splitAction(action string) (model, method string, ok bool) {
	idx := strings.LastIndexByte(action, ':')
	if idx <= 0 || idx == len(action)-1 {
		return "", "", false
	}
	return action[:idx], action[idx+1:], true
}

type sseWriter struct {
	w gin.ResponseWriter
}

func (s sseWriter) WriteFrame(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// renderError writes the normalized gateway error in the client's wire
// dialect, with a Retry-After header when capacity exhaustion set one.
func renderError(c *gin.Context, source wire.Format, err error) {
	var herr *orchestrator.HTTPError
	if !errors.As(err, &herr) {
		herr = &orchestrator.HTTPError{Status: http.StatusInternalServerError, Message: err.Error()}
	}

	message := herr.Message
	if herr.RetryAfter > 0 {
		secs := int(herr.RetryAfter.Seconds()) + 1
		c.Header("Retry-After", strconv.Itoa(secs))
		message = fmt.Sprintf("%s (retry after %ds)", message, secs)
	}

	switch {
	case source == wire.FormatClaude:
		c.JSON(herr.Status, gin.H{
			"type":  "error",
			"error": gin.H{"type": claudeErrorType(herr.Status), "message": message},
		})
	case source.IsGeminiFamily():
		c.JSON(herr.Status, gin.H{
			"error": gin.H{"code": herr.Status, "message": message, "status": googleStatus(herr.Status)},
		})
	default:
		c.JSON(herr.Status, gin.H{
			"error": gin.H{"message": message, "type": openAIErrorType(herr.Status)},
		})
	}
}

func claudeErrorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "authentication_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}

func openAIErrorType(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound:
		return "invalid_request_error"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "authentication_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}

func googleStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	default:
		return "UNAVAILABLE"
	}
}
