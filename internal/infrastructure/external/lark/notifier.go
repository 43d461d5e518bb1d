package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/geoffsee/agent-mst/internal/application/port"
	"github.com/geoffsee/agent-mst/internal/domain/run"
)

// Config holds Lark notifier configuration
type Config struct {
	AppID     string
	AppSecret string
	ChatID    string // group chat that receives run summaries
	Email     string // optional address for email-form delivery
}

// Notifier delivers finished-run summaries through the Lark IM API.
// Implements port.RunNotifier.
type Notifier struct {
	client *lark.Client
	chatID string
	email  string
	logger *zap.Logger
}

// NewNotifier creates a new Lark notifier
func NewNotifier(cfg Config, logger *zap.Logger) *Notifier {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelWarn),
		lark.WithEnableTokenCache(true),
	)

	return &Notifier{
		client: client,
		chatID: cfg.ChatID,
		email:  cfg.Email,
		logger: logger,
	}
}

// NotifyRunFinished sends the run outcome to the configured chat and, when an
// address is configured, as an email-form post message. Sending to external
// email requires Lark admin configuration.
func (n *Notifier) NotifyRunFinished(ctx context.Context, rec *run.Run) error {
	if n.chatID == "" && n.email == "" {
		return fmt.Errorf("no chat_id or email configured")
	}

	summary := buildSummary(rec)

	if n.chatID != "" {
		content, err := json.Marshal(map[string]string{"text": summary})
		if err != nil {
			return fmt.Errorf("failed to marshal text content: %w", err)
		}
		if _, err := n.send(ctx, "chat_id", n.chatID, "text", string(content)); err != nil {
			return fmt.Errorf("failed to send chat message: %w", err)
		}
	}

	if n.email != "" {
		content, err := buildPostContent(rec, summary)
		if err != nil {
			return fmt.Errorf("failed to build post content: %w", err)
		}
		if _, err := n.send(ctx, "email", n.email, "post", content); err != nil {
			return fmt.Errorf("failed to send email message: %w", err)
		}
	}

	return nil
}

// send delivers one message through the IM API
func (n *Notifier) send(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send message",
			zap.String("receive_id", receiveID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		n.logger.Error("API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	n.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", receiveID))

	return messageID, nil
}

// buildSummary renders a run record as a plain-text outcome report
func buildSummary(rec *run.Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s (%s, policy %s) finished: %s\n", rec.ID, rec.Scenario, rec.Policy, rec.Status)
	if rec.Status == run.StatusFaulted {
		fmt.Fprintf(&b, "Fault: %s", rec.FaultReason)
		if rec.FaultDetail != "" {
			fmt.Fprintf(&b, " (%s)", rec.FaultDetail)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Path: %s\n", strings.Join(rec.Visited, " -> "))
	fmt.Fprintf(&b, "Iterations: %d, transitions: %d, fallbacks: %d\n", rec.Iterations, rec.Transitions, rec.Fallbacks)
	if len(rec.Failures) > 0 {
		fmt.Fprintf(&b, "Instruction failures: %d\n", len(rec.Failures))
	}
	if rec.FinishedAt != nil {
		fmt.Fprintf(&b, "Duration: %s\n", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	}

	return b.String()
}

// buildPostContent wraps the summary in the rich-text post format the IM API
// expects for msg_type=post
func buildPostContent(rec *run.Run, summary string) (string, error) {
	post := map[string]interface{}{
		"en_us": map[string]interface{}{
			"title": fmt.Sprintf("Run %s: %s", rec.ID, rec.Status),
			"content": [][]map[string]string{
				{{"tag": "text", "text": summary}},
			},
		},
	}

	data, err := json.Marshal(post)
	if err != nil {
		return "", fmt.Errorf("failed to marshal post content: %w", err)
	}

	return string(data), nil
}

var _ port.RunNotifier = (*Notifier)(nil)
