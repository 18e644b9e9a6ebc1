package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/idbridge/idbridge/internal/config"
)

// FromConfig creates the configured directory backend. The postgres
// backend gets its schema bootstrapped here so callers can use it
// immediately.
func FromConfig(cfg config.DirectoryConfig) (Directory, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryDirectory(), nil
	case "postgres":
		dir, err := NewPostgresDirectory(cfg.Config["conn_string"])
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := dir.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return dir, nil
	case "ldap":
		c := cfg.Config
		return NewLDAPDirectory(LDAPOptions{
			URL:           c["url"],
			BindDN:        c["bind_dn"],
			BindPassword:  c["bind_password"],
			UserBaseDN:    c["user_base_dn"],
			UserFilter:    c["user_filter"],
			UseTLS:        c["use_tls"] == "true",
			SkipTLSVerify: c["skip_tls_verify"] == "true",
			UsernameAttr:  c["username_attr"],
			RealNameAttr:  c["realname_attr"],
			MailAttr:      c["mail_attr"],
			ConfirmedAttr: c["confirmed_attr"],
			BlockedAttr:   c["blocked_attr"],
			GroupAttr:     c["group_attr"],
		})
	default:
		return nil, fmt.Errorf("unknown directory type %q", cfg.Type)
	}
}
