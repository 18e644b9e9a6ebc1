// Package assertion adapts external identity providers into attribute bags
// for reconciliation. The SAML protocol itself (signing, assertion
// validation, metadata exchange) is the wrapped library's concern; sources
// here only drive the web flow and extract attributes.
package assertion

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/idbridge/idbridge/internal/config"
)

// Source is an assertion source. Flow-specific operations live on the
// concrete types; the API layer selects them by type.
type Source interface {
	// Name returns the configured source name
	Name() string
	// Type returns the source type (saml, oidc, static)
	Type() string
}

// Manager holds the configured assertion sources
type Manager struct {
	sources []Source
}

// NewManager builds all enabled sources from the configuration. A source
// that fails to initialize is skipped with a warning so one unreachable
// IdP does not keep the server down.
func NewManager(cfg *config.Config, log logrus.FieldLogger) (*Manager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	m := &Manager{}
	for _, srcCfg := range cfg.Sources {
		if !srcCfg.Enabled {
			continue
		}

		var src Source
		var err error

		switch srcCfg.Type {
		case "saml":
			src, err = NewSAMLSource(srcCfg, cfg.Server.PublicURL)
		case "oidc":
			src, err = NewOIDCSource(srcCfg)
		case "static":
			src, err = NewStaticSource(srcCfg)
		default:
			return nil, fmt.Errorf("unknown source type %q (name: %s)", srcCfg.Type, srcCfg.Name)
		}

		if err != nil {
			log.WithFields(logrus.Fields{
				"source": srcCfg.Name,
				"type":   srcCfg.Type,
			}).WithError(err).Warn("failed to initialize assertion source, skipping")
			continue
		}

		m.sources = append(m.sources, src)
		log.WithFields(logrus.Fields{
			"source": srcCfg.Name,
			"type":   srcCfg.Type,
		}).Info("initialized assertion source")
	}

	return m, nil
}

// Sources returns all initialized sources
func (m *Manager) Sources() []Source {
	return m.sources
}

// SAML returns the first SAML source, or nil
func (m *Manager) SAML() *SAMLSource {
	for _, src := range m.sources {
		if s, ok := src.(*SAMLSource); ok {
			return s
		}
	}
	return nil
}

// OIDC returns the first OIDC source, or nil
func (m *Manager) OIDC() *OIDCSource {
	for _, src := range m.sources {
		if s, ok := src.(*OIDCSource); ok {
			return s
		}
	}
	return nil
}

// Static returns the first static source, or nil
func (m *Manager) Static() *StaticSource {
	for _, src := range m.sources {
		if s, ok := src.(*StaticSource); ok {
			return s
		}
	}
	return nil
}
