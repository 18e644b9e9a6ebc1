package assertion

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/crewjam/saml"

	"github.com/idbridge/idbridge/internal/config"
	"github.com/idbridge/idbridge/internal/reconcile"
)

// NameIDAttr is the pseudo-attribute under which the assertion subject
// NameID is exposed in the bag, so policies can key on it like any other
// attribute.
const NameIDAttr = "nameid"

// SAMLSource wraps a crewjam/saml service provider. Protocol work
// (signature validation, conditions, decryption) happens inside the
// library; this type drives the redirect flow and flattens assertions
// into attribute bags.
type SAMLSource struct {
	name     string
	sp       *saml.ServiceProvider
	requests *requestStore
}

// NewSAMLSource creates a SAML source. ACS and metadata URLs are derived
// from the server's public URL.
func NewSAMLSource(cfg config.SourceConfig, publicURL string) (*SAMLSource, error) {
	entityID := cfg.Config["entity_id"]
	if entityID == "" {
		entityID = publicURL + "/api/auth/saml/metadata"
	}

	idpMetadata, err := loadIDPMetadata(cfg)
	if err != nil {
		return nil, err
	}

	acsURL, err := url.Parse(publicURL + "/api/auth/saml/acs")
	if err != nil {
		return nil, fmt.Errorf("invalid public URL: %w", err)
	}
	metadataURL, err := url.Parse(publicURL + "/api/auth/saml/metadata")
	if err != nil {
		return nil, fmt.Errorf("invalid public URL: %w", err)
	}

	sp := &saml.ServiceProvider{
		EntityID:          entityID,
		IDPMetadata:       idpMetadata,
		AcsURL:            *acsURL,
		MetadataURL:       *metadataURL,
		AllowIDPInitiated: cfg.Config["allow_idp_initiated"] == "true",
	}

	// SP key and certificate are optional; without them requests are
	// unsigned and encrypted assertions cannot be decrypted.
	if keyFile := cfg.Config["sp_key_file"]; keyFile != "" {
		key, cert, err := loadKeyPair(keyFile, cfg.Config["sp_cert_file"])
		if err != nil {
			return nil, err
		}
		sp.Key = key
		sp.Certificate = cert
	}

	return &SAMLSource{
		name:     cfg.Name,
		sp:       sp,
		requests: newRequestStore(5 * time.Minute),
	}, nil
}

// Name returns the source name
func (s *SAMLSource) Name() string { return s.name }

// Type returns the source type
func (s *SAMLSource) Type() string { return "saml" }

// LoginURL builds an AuthnRequest redirect URL for the IdP and tracks the
// request ID for response validation.
func (s *SAMLSource) LoginURL(relayState string) (string, error) {
	req, err := s.sp.MakeAuthenticationRequest(
		s.sp.GetSSOBindingLocation(saml.HTTPRedirectBinding),
		saml.HTTPRedirectBinding,
		saml.HTTPPostBinding,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create authentication request: %w", err)
	}

	s.requests.add(req.ID)

	redirectURL, err := req.Redirect(relayState, s.sp)
	if err != nil {
		return "", fmt.Errorf("failed to create redirect URL: %w", err)
	}
	return redirectURL.String(), nil
}

// ParseResponse validates the POSTed SAML response against the in-flight
// request IDs and returns the assertion attributes as a bag.
func (s *SAMLSource) ParseResponse(r *http.Request) (reconcile.AttributeBag, error) {
	assertion, err := s.sp.ParseResponse(r, s.requests.ids())
	if err != nil {
		return nil, fmt.Errorf("failed to parse SAML response: %w", err)
	}
	return bagFromAssertion(assertion), nil
}

// Metadata returns the service provider metadata XML
func (s *SAMLSource) Metadata() ([]byte, error) {
	return xml.MarshalIndent(s.sp.Metadata(), "", "  ")
}

// LogoutURL returns the IdP single-logout location, or empty when the IdP
// does not advertise one.
func (s *SAMLSource) LogoutURL() string {
	return s.sp.GetSLOBindingLocation(saml.HTTPRedirectBinding)
}

// bagFromAssertion flattens assertion attributes into a bag. Values are
// stored under the attribute Name, and additionally under FriendlyName
// when present, so policies can use whichever the IdP documents. The
// subject NameID goes under NameIDAttr.
func bagFromAssertion(assertion *saml.Assertion) reconcile.AttributeBag {
	bag := make(reconcile.AttributeBag)

	if assertion.Subject != nil && assertion.Subject.NameID != nil && assertion.Subject.NameID.Value != "" {
		bag[NameIDAttr] = []string{assertion.Subject.NameID.Value}
	}

	for _, stmt := range assertion.AttributeStatements {
		for _, attr := range stmt.Attributes {
			var values []string
			for _, value := range attr.Values {
				if value.Value != "" {
					values = append(values, value.Value)
				}
			}
			if len(values) == 0 {
				continue
			}
			bag[attr.Name] = values
			if attr.FriendlyName != "" {
				bag[attr.FriendlyName] = values
			}
		}
	}

	return bag
}

func loadIDPMetadata(cfg config.SourceConfig) (*saml.EntityDescriptor, error) {
	var metadataXML []byte

	if raw := cfg.Config["idp_metadata_xml"]; raw != "" {
		metadataXML = []byte(raw)
	} else if metadataURL := cfg.Config["idp_metadata_url"]; metadataURL != "" {
		var err error
		metadataXML, err = fetchMetadata(metadataURL)
		if err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("no IdP metadata configured (idp_metadata_url or idp_metadata_xml)")
	}

	metadata := &saml.EntityDescriptor{}
	if err := xml.Unmarshal(metadataXML, metadata); err != nil {
		return nil, fmt.Errorf("failed to parse IdP metadata: %w", err)
	}
	return metadata, nil
}

func fetchMetadata(metadataURL string) ([]byte, error) {
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}

	resp, err := client.Get(metadataURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch IdP metadata: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("IdP metadata fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func loadKeyPair(keyFile, certFile string) (*rsa.PrivateKey, *x509.Certificate, error) {
	keyPair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load SP key pair: %w", err)
	}
	cert, err := x509.ParseCertificate(keyPair.Certificate[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse SP certificate: %w", err)
	}
	key, ok := keyPair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("SP private key must be RSA")
	}
	return key, cert, nil
}

// requestStore tracks in-flight AuthnRequest IDs with a TTL, so responses
// can be matched to requests this process issued.
type requestStore struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]time.Time
}

func newRequestStore(ttl time.Duration) *requestStore {
	return &requestStore{ttl: ttl, m: make(map[string]time.Time)}
}

func (rs *requestStore) add(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.prune()
	rs.m[id] = time.Now().Add(rs.ttl)
}

func (rs *requestStore) ids() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.prune()
	ids := make([]string, 0, len(rs.m))
	for id := range rs.m {
		ids = append(ids, id)
	}
	return ids
}

// prune drops expired IDs; callers hold the lock.
func (rs *requestStore) prune() {
	now := time.Now()
	for id, expiry := range rs.m {
		if expiry.Before(now) {
			delete(rs.m, id)
		}
	}
}
