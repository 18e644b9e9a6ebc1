package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crewjam/saml/samlidp"
)

var (
	port    = flag.Int("port", 9100, "Port to listen on")
	baseURL = flag.String("base-url", "", "External base URL of the IdP (default http://localhost:<port>)")
	users   = flag.String("users", "alice:hunter2:staff,admins;bob:swordfish:staff", "Semicolon-separated user:password:groups entries")
	spURL   = flag.String("sp-metadata", "http://localhost:8080/api/auth/saml/metadata", "Service provider metadata URL to register at startup")
	verbose = flag.Bool("verbose", true, "Verbose logging")
)

func main() {
	flag.Parse()

	base := *baseURL
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", *port)
	}
	u, err := url.Parse(base)
	if err != nil {
		log.Fatalf("invalid base URL: %v", err)
	}

	key, cert, err := selfSignedCert(u.Host)
	if err != nil {
		log.Fatalf("failed to generate IdP certificate: %v", err)
	}

	idp, err := samlidp.New(samlidp.Options{
		URL:         *u,
		Key:         key,
		Certificate: cert,
		Store:       &samlidp.MemoryStore{},
	})
	if err != nil {
		log.Fatalf("failed to create IdP: %v", err)
	}

	n, err := seedUsers(idp, *users)
	if err != nil {
		log.Fatalf("failed to seed users: %v", err)
	}

	if *spURL != "" {
		if err := registerSP(idp, *spURL); err != nil {
			// The SP may simply not be up yet; registration can also be
			// done later via PUT /services/<name>.
			log.Printf("⚠️  Failed to register SP from %s: %v", *spURL, err)
		} else if *verbose {
			log.Printf("📡 Registered service provider from %s", *spURL)
		}
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("🚀 Mock SAML IdP started on %s", addr)
	log.Printf("🔑 %d users seeded", n)
	log.Printf("📄 Metadata: %s/metadata", base)
	log.Printf("🔐 SSO: %s/sso", base)

	if err := http.ListenAndServe(addr, idp); err != nil {
		log.Fatal(err)
	}
}

// seedUsers parses "name:password:group1,group2;..." and stores each user.
func seedUsers(idp *samlidp.Server, spec string) (int, error) {
	count := 0
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return count, fmt.Errorf("malformed user entry %q (want name:password[:groups])", entry)
		}
		password := parts[1]
		user := samlidp.User{
			Name:              parts[0],
			PlaintextPassword: &password,
			Email:             parts[0] + "@example.com",
			CommonName:        strings.ToUpper(parts[0][:1]) + parts[0][1:],
		}
		if len(parts) == 3 && parts[2] != "" {
			user.Groups = strings.Split(parts[2], ",")
		}
		if err := idp.Store.Put("/users/"+parts[0], user); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// registerSP fetches SP metadata and stores it so the IdP trusts the SP.
func registerSP(idp *samlidp.Server, metadataURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(metadataURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata fetch returned %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodPut, "/services/idbridge", resp.Body)
	if err != nil {
		return err
	}
	rec := &statusRecorder{}
	idp.ServeHTTP(rec, req)
	if rec.status >= 400 {
		return fmt.Errorf("service registration returned %d", rec.status)
	}
	return nil
}

// statusRecorder captures the status code of an internal request.
type statusRecorder struct {
	status int
}

func (r *statusRecorder) Header() http.Header         { return http.Header{} }
func (r *statusRecorder) Write(b []byte) (int, error) { return len(b), nil }
func (r *statusRecorder) WriteHeader(code int)        { r.status = code }

// selfSignedCert generates a throwaway RSA key and certificate for the IdP.
func selfSignedCert(host string) (*rsa.PrivateKey, *x509.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}
