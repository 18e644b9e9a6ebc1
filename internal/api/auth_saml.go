package api

import (
	"net/http"
)

// handleSAMLLogin initiates the SAML authentication flow by redirecting to
// the identity provider.
func (s *Server) handleSAMLLogin(w http.ResponseWriter, r *http.Request) {
	source := s.sources.SAML()
	if source == nil {
		respondError(w, http.StatusNotFound, "SAML source not configured")
		return
	}

	loginURL, err := source.LoginURL(r.URL.Query().Get("return_to"))
	if err != nil {
		s.log.WithError(err).Error("failed to build SAML login URL")
		respondError(w, http.StatusInternalServerError, "Failed to build login URL")
		return
	}

	http.Redirect(w, r, loginURL, http.StatusFound)
}

// handleSAMLACS receives the POSTed SAML response, validates it, and
// reconciles the assertion attributes.
func (s *Server) handleSAMLACS(w http.ResponseWriter, r *http.Request) {
	source := s.sources.SAML()
	if source == nil {
		respondError(w, http.StatusNotFound, "SAML source not configured")
		return
	}

	bag, err := source.ParseResponse(r)
	if err != nil {
		s.log.WithError(err).Warn("invalid SAML response")
		respondError(w, http.StatusUnauthorized, "Invalid SAML response")
		return
	}

	s.completeLogin(w, r, bag, source.Name())
}

// handleSAMLMetadata serves the service provider metadata document
func (s *Server) handleSAMLMetadata(w http.ResponseWriter, r *http.Request) {
	source := s.sources.SAML()
	if source == nil {
		respondError(w, http.StatusNotFound, "SAML source not configured")
		return
	}

	metadata, err := source.Metadata()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate metadata")
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	_, _ = w.Write(metadata)
}
