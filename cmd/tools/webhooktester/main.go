package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/logging"
	"github.com/zhouzirui/chat-relay/backend/internal/service/webhook"
	"github.com/zhouzirui/chat-relay/backend/internal/sessionid"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "[WARN] 无法加载 .env，改用系统环境变量: %v\n", err)
	}

	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "webhooktester: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	// 只读取 webhook 配置，工具本身不做认证
	cfg, err := config.LoadWebhook()
	if err != nil {
		return fmt.Errorf("配置加载失败: %w", err)
	}

	logger, err := logging.New(config.LogConfig{Level: "debug", Format: "console"})
	if err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	fs := flag.NewFlagSet("webhooktester", flag.ContinueOnError)
	mode := fs.String("mode", "send", "测试模式: send 或 history")
	message := fs.String("message", "Hello from webhooktester", "发送的消息内容")
	email := fs.String("email", "", "用户邮箱，用于推导 sessionId")
	session := fs.String("session", "", "自定义 sessionID，留空则根据邮箱推导")
	timeout := fs.Duration("timeout", cfg.Timeout, "请求超时时间")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if !cfg.Enabled() {
		return errors.New("N8N_WEBHOOK_URL 未配置")
	}

	sessionID := strings.TrimSpace(*session)
	if sessionID == "" && *email != "" {
		sessionID, err = sessionid.Persistent(*email, time.Now())
		if err != nil {
			return fmt.Errorf("推导 sessionId 失败: %w", err)
		}
	}

	client := webhook.NewClient(webhook.Config{
		BaseURL:     cfg.URL,
		HistoryPath: cfg.HistoryPath,
		Timeout:     *timeout,
		Logger:      logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "send":
		return runSend(ctx, logger, out, client, *message, sessionID, *email)
	case "history":
		return runHistory(ctx, logger, out, client, sessionID)
	default:
		fs.Usage()
		return errors.New("请通过 -mode=send 或 -mode=history 指定测试模式")
	}
}

func runSend(ctx context.Context, logger *zap.Logger, out io.Writer, client *webhook.Client, message, sessionID, email string) error {
	payload := webhook.Payload{
		ChatInput: message,
		Message:   message,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if email != "" {
		payload.User = &webhook.User{ID: email, Email: email}
	}

	start := time.Now()
	reply, err := client.Send(ctx, payload)
	if err != nil {
		return fmt.Errorf("webhook 调用失败: %w", err)
	}

	logger.Info("webhook 返回",
		zap.String("kind", string(reply.Kind)),
		zap.String("field", reply.Field),
		zap.Duration("elapsed", time.Since(start)),
	)
	fmt.Fprintln(out, reply.Text)
	return nil
}

func runHistory(ctx context.Context, logger *zap.Logger, out io.Writer, client *webhook.Client, sessionID string) error {
	if sessionID == "" {
		return errors.New("history 模式需要 -session 或 -email")
	}

	entries, err := client.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("获取历史失败: %w", err)
	}

	logger.Info("历史记录", zap.String("sessionId", sessionID), zap.Int("count", len(entries)))
	for i := len(entries) - 1; i >= 0; i-- {
		fmt.Fprintf(out, "[%s] %s\n", entries[i].Role, entries[i].Message)
	}
	return nil
}
