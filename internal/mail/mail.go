// Package mail 通过系统邮件应用发送报告
package mail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"asxreport/internal/execx"
	"asxreport/internal/logger"
)

// ErrUnsupported 当前平台没有可脚本化的邮件应用
var ErrUnsupported = errors.New("mail dispatch requires macOS Mail.app")

// Message 待发送的邮件
type Message struct {
	To         string
	Subject    string
	Body       string
	Attachment string
}

// Sender 发送邮件
type Sender interface {
	Send(ctx context.Context, m Message) error
}

const mailScript = `on run argv
	set subjectText to item 1 of argv
	set bodyText to item 2 of argv
	set recipientAddress to item 3 of argv
	set attachmentPath to item 4 of argv

	tell application "Mail"
		set outgoingMessage to make new outgoing message with properties {subject:subjectText, content:bodyText & return & return, visible:false}

		tell outgoingMessage
			make new to recipient at end of to recipients with properties {address:recipientAddress}
			tell content
				make new attachment with properties {file name:(POSIX file attachmentPath)} at after the last paragraph
			end tell
			send
		end tell
	end tell
end run`

// MailApp 用 osascript 驱动 Mail.app
type MailApp struct {
	runner  execx.Runner
	timeout time.Duration
	goos    string
	log     logger.Logger
}

// NewMailApp 创建 Mail.app 发送器
func NewMailApp(r execx.Runner, timeout time.Duration, l logger.Logger) *MailApp {
	if r == nil {
		r = execx.OS{}
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &MailApp{runner: r, timeout: timeout, goos: runtime.GOOS, log: l}
}

// Send 附件必须存在，内容通过 argv 传入脚本
func (s *MailApp) Send(ctx context.Context, m Message) error {
	if s.goos != "darwin" {
		return ErrUnsupported
	}
	if m.To == "" {
		return errors.New("recipient is empty")
	}
	abs, err := filepath.Abs(m.Attachment)
	if err != nil {
		return fmt.Errorf("resolve attachment: %w", err)
	}
	if st, err := os.Stat(abs); err != nil || st.IsDir() {
		return fmt.Errorf("attachment does not exist: %s", abs)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.runner.Run(ctx, "osascript", "-e", mailScript, m.Subject, m.Body, m.To, abs); err != nil {
		return fmt.Errorf("mail.app send: %w", err)
	}
	s.log.Info("邮件已提交到 Mail.app", "to", m.To, "attachment", abs)
	return nil
}
