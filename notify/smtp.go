package notify

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/warp/leave-portal/leave"
)

// SMTPConfig holds relay settings. An empty Host disables sending.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	TLSEnabled bool
}

type sendFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// SMTPNotifier e-mails notifications, resolving ids and role addresses
// through the org directory.
type SMTPNotifier struct {
	cfg       SMTPConfig
	directory leave.OrgDirectory
	logger    *zap.Logger
	send      sendFunc
}

func NewSMTPNotifier(cfg SMTPConfig, directory leave.OrgDirectory, logger *zap.Logger) *SMTPNotifier {
	send := smtp.SendMail
	if cfg.TLSEnabled {
		send = smtp.SendMailTLS
	}
	return &SMTPNotifier{
		cfg:       cfg,
		directory: directory,
		logger:    logger.Named("notify.smtp"),
		send:      send,
	}
}

func (n *SMTPNotifier) Notify(ctx context.Context, msg leave.Notification) error {
	if n.cfg.Host == "" {
		n.logger.Debug("smtp not configured, notification dropped", zap.String("request_id", msg.RequestID))
		return nil
	}

	to, err := n.resolve(ctx, msg.Recipients)
	if err != nil {
		return err
	}
	if len(to) == 0 {
		n.logger.Warn("no e-mail address for recipients", zap.Strings("recipients", msg.Recipients))
		return nil
	}

	var auth sasl.Client
	if n.cfg.Username != "" {
		auth = sasl.NewPlainClient("", n.cfg.Username, n.cfg.Password)
	}
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, auth, n.cfg.From, to, strings.NewReader(n.render(msg, to))); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	n.logger.Info("notification mailed",
		zap.String("kind", string(msg.Kind)),
		zap.String("request_id", msg.RequestID),
		zap.Int("recipients", len(to)))
	return nil
}

// resolve maps ids and role addresses to unique e-mail addresses.
func (n *SMTPNotifier) resolve(ctx context.Context, recipients []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(e leave.Employee) {
		if e.Email != "" && !seen[e.Email] {
			seen[e.Email] = true
			out = append(out, e.Email)
		}
	}
	for _, r := range recipients {
		if role, ok := strings.CutPrefix(r, "role:"); ok {
			members, err := n.directory.ListByRole(ctx, leave.ApproverRole(role))
			if err != nil {
				return nil, fmt.Errorf("expand %s: %w", r, err)
			}
			for _, m := range members {
				add(m)
			}
			continue
		}
		emp, err := n.directory.GetEmployee(ctx, r)
		if err != nil {
			n.logger.Warn("unknown recipient", zap.String("employee_id", r), zap.Error(err))
			continue
		}
		add(emp)
	}
	return out, nil
}

func (n *SMTPNotifier) render(msg leave.Notification, to []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: Leave Portal - %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(msg.Body)
	if msg.RequestID != "" {
		fmt.Fprintf(&b, "\r\n\r\nRequest: %s\r\n", msg.RequestID)
	}
	return b.String()
}
