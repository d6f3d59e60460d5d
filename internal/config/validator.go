package config

import (
	"fmt"
	"strings"

	"github.com/gotrs-io/gotrs-caseflow/internal/crypt"
	"github.com/gotrs-io/gotrs-caseflow/internal/models"
)

// SecretValidator checks that stored credentials can be used at runtime.
type SecretValidator struct {
	codec *crypt.Codec
}

// NewSecretValidator builds a validator for the given encryption key. An empty
// key means credentials are stored in clear.
func NewSecretValidator(key string) (*SecretValidator, error) {
	if strings.TrimSpace(key) == "" {
		return &SecretValidator{}, nil
	}
	codec, err := crypt.NewCodec(key)
	if err != nil {
		return nil, fmt.Errorf("security.encryption_key: %w", err)
	}
	return &SecretValidator{codec: codec}, nil
}

// Codec returns the configured codec, or nil when no key is set.
func (v *SecretValidator) Codec() *crypt.Codec {
	return v.codec
}

// ValidateAccounts reports every account password that cannot be decrypted.
func (v *SecretValidator) ValidateAccounts(accounts []models.InboundAccount) error {
	if v.codec == nil {
		return nil
	}
	var problems []string
	for _, a := range accounts {
		if a.Password != "" {
			if _, err := v.codec.Decrypt(a.Password); err != nil {
				problems = append(problems, fmt.Sprintf("account %s: mailbox password: %v", a.ID, err))
			}
		}
		if a.SMTP.Password != "" {
			if _, err := v.codec.Decrypt(a.SMTP.Password); err != nil {
				problems = append(problems, fmt.Sprintf("account %s: smtp password: %v", a.ID, err))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("undecryptable secrets: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateEmail checks the system SMTP block the same way.
func (v *SecretValidator) ValidateEmail(email EmailConfig) error {
	if v.codec == nil || email.SMTP.Password == "" {
		return nil
	}
	if _, err := v.codec.Decrypt(email.SMTP.Password); err != nil {
		return fmt.Errorf("email.smtp.password: %w", err)
	}
	return nil
}
