package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cast"
)

// Email configuration problems reported by Validate.
var (
	ErrSMTPServerMissing     = errors.New("SMTP server not configured")
	ErrSMTPPortMissing       = errors.New("SMTP port not configured")
	ErrSenderEmailMissing    = errors.New("Sender email not configured")
	ErrSenderPasswordMissing = errors.New("Sender password not configured")
	ErrNoRecipients          = errors.New("No recipient emails configured")
)

// EmailConfig is the persisted alert mail configuration.
type EmailConfig struct {
	Enabled         bool     `json:"enabled"`
	SMTPServer      string   `json:"smtp_server"`
	SMTPPort        int      `json:"smtp_port"`
	SenderEmail     string   `json:"sender_email"`
	SenderPassword  string   `json:"sender_password"`
	RecipientEmails []string `json:"recipient_emails"`
}

// DefaultEmailConfig returns alerts disabled with the stock relay settings.
func DefaultEmailConfig() EmailConfig {
	return EmailConfig{
		SMTPServer:      "smtp.gmail.com",
		SMTPPort:        587,
		RecipientEmails: []string{},
	}
}

// Validate returns nil when alerts are disabled or fully configured, and
// the first missing item otherwise.
func (c EmailConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.SMTPServer == "":
		return ErrSMTPServerMissing
	case c.SMTPPort == 0:
		return ErrSMTPPortMissing
	case c.SenderEmail == "":
		return ErrSenderEmailMissing
	case c.SenderPassword == "":
		return ErrSenderPasswordMissing
	case len(c.RecipientEmails) == 0:
		return ErrNoRecipients
	}
	return nil
}

// Describe returns the operator-facing validation message.
func (c EmailConfig) Describe() string {
	if !c.Enabled {
		return "Email alerts disabled"
	}
	if err := c.Validate(); err != nil {
		return err.Error()
	}
	return "Email configuration valid"
}

func (c EmailConfig) clone() EmailConfig {
	out := c
	out.RecipientEmails = append([]string{}, c.RecipientEmails...)
	return out
}

// EmailStore guards the email configuration file. Safe for concurrent use.
type EmailStore struct {
	mu     sync.RWMutex
	saveMu sync.Mutex
	path   string
	cfg    EmailConfig
}

// NewEmailStore returns a store holding the defaults.
func NewEmailStore(path string) *EmailStore {
	return &EmailStore{path: path, cfg: DefaultEmailConfig()}
}

// Load merges the file onto the defaults. Keys that are absent or have
// the wrong type keep their default.
func (s *EmailStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = DefaultEmailConfig()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrPersistence, s.path, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse %s: %w", ErrPersistence, s.path, err)
	}

	if v, ok := raw["enabled"]; ok {
		if b, err := cast.ToBoolE(v); err == nil {
			s.cfg.Enabled = b
		}
	}
	if v, ok := raw["smtp_server"]; ok {
		s.cfg.SMTPServer = strings.TrimSpace(cast.ToString(v))
	}
	if v, ok := raw["smtp_port"]; ok {
		if n, err := cast.ToIntE(v); err == nil {
			s.cfg.SMTPPort = n
		}
	}
	if v, ok := raw["sender_email"]; ok {
		s.cfg.SenderEmail = strings.TrimSpace(cast.ToString(v))
	}
	if v, ok := raw["sender_password"]; ok {
		s.cfg.SenderPassword = cast.ToString(v)
	}
	if v, ok := raw["recipient_emails"]; ok {
		if list, err := cast.ToStringSliceE(v); err == nil {
			s.cfg.RecipientEmails = list
		}
	}
	return nil
}

// Save writes the configuration atomically.
func (s *EmailStore) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.saveLocked()
}

func (s *EmailStore) saveLocked() error {
	s.mu.RLock()
	cfg := s.cfg.clone()
	s.mu.RUnlock()
	return save(s.path, cfg)
}

// Config returns a copy of the configuration.
func (s *EmailStore) Config() EmailConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.clone()
}

// SetConfig replaces the configuration and persists it.
func (s *EmailStore) SetConfig(cfg EmailConfig) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	s.cfg = cfg.clone()
	s.mu.Unlock()
	return s.saveLocked()
}

// Enabled reports whether alerts are switched on.
func (s *EmailStore) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Enabled
}

// Validate checks the current configuration.
func (s *EmailStore) Validate() error {
	return s.Config().Validate()
}
