package main

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	CommitCatalog "github.com/nickyhof/CommitCatalog"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/internal/protocol"
	"github.com/nickyhof/CommitCatalog/ps"
)

var testIdentity = core.Identity{Name: "test", Email: "test@test.com"}

func openTestInstance(t *testing.T) *CommitCatalog.Instance {
	t.Helper()
	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	instance, err := CommitCatalog.Open(persistence)
	if err != nil {
		t.Fatalf("Failed to open catalog: %v", err)
	}
	return instance
}

func setupTestServer(t *testing.T, opts ...Option) (*Server, *CommitCatalog.Instance) {
	t.Helper()
	instance := openTestInstance(t)
	server := NewServer(instance, testIdentity, opts...)
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server, instance
}

// client keeps one connection open so that session state carries across
// statements.
type client struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) send(line string) protocol.Response {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("Failed to send %q: %v", line, err)
	}
	data, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("Failed to read response to %q: %v", line, err)
	}
	var resp protocol.Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.t.Fatalf("Failed to parse response: %v", err)
	}
	return resp
}

func (c *client) mustSend(line string) protocol.Response {
	c.t.Helper()
	resp := c.send(line)
	if !resp.Success {
		c.t.Fatalf("%s: %s", line, resp.Error)
	}
	return resp
}

func sendQuery(t *testing.T, addr, query string) protocol.Response {
	t.Helper()
	return dial(t, addr).send(query)
}

func TestServerStartStop(t *testing.T) {
	server, _ := setupTestServer(t)

	if server.Addr() == "" {
		t.Error("Expected non-empty address")
	}
	if server.TLSEnabled() {
		t.Error("Expected TLS to be disabled")
	}
}

func TestServerAddrDuringStartStop(t *testing.T) {
	instance := openTestInstance(t)
	server := NewServer(instance, testIdentity)
	if server.Addr() != "" {
		t.Errorf("Expected empty address before Start, got %q", server.Addr())
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = server.Addr()
					_ = server.TLSEnabled()
				}
			}
		}()
	}

	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	addr := server.Addr()
	if err := server.Stop(); err != nil {
		t.Errorf("Stop returned %v", err)
	}
	close(stop)
	wg.Wait()

	if server.Addr() != addr {
		t.Errorf("Expected address %q to survive Stop, got %q", addr, server.Addr())
	}
}

func TestServerStopClosesIdleConnections(t *testing.T) {
	instance := openTestInstance(t)
	server := NewServer(instance, testIdentity)
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	c := dial(t, server.Addr())
	c.mustSend("SHOW REFERENCES")

	done := make(chan error, 1)
	go func() { done <- server.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on an idle connection")
	}
}

func TestServerCatalogStatements(t *testing.T) {
	server, instance := setupTestServer(t)
	c := dial(t, server.Addr())

	resp := c.mustSend("CREATE BRANCH dev")
	if resp.Type != "commit" {
		t.Errorf("Expected commit type, got %s", resp.Type)
	}

	c.mustSend("USE dev")
	resp = c.mustSend("COMMIT SET movies = 'snap1'")
	var cr protocol.CommitResponse
	if err := json.Unmarshal(resp.Result, &cr); err != nil {
		t.Fatalf("Failed to parse commit result: %v", err)
	}
	if cr.Reference != "dev" || cr.TablesSet != 1 || len(cr.Commit) != core.HashLength {
		t.Errorf("Unexpected commit result: %+v", cr)
	}

	resp = c.mustSend(`{"query": "SHOW TABLES"}`)
	if resp.Type != "query" {
		t.Fatalf("Expected query type, got %s", resp.Type)
	}
	var qr protocol.QueryResponse
	if err := json.Unmarshal(resp.Result, &qr); err != nil {
		t.Fatalf("Failed to parse query result: %v", err)
	}
	if qr.Commit != cr.Commit {
		t.Errorf("Expected rows read at %s, got %s", cr.Commit, qr.Commit)
	}
	if len(qr.Data) != 1 || qr.Data[0][0] != "movies" || qr.Data[0][1] != "snap1" {
		t.Errorf("Unexpected tables: %v", qr.Data)
	}

	// USE is per connection
	other := dial(t, server.Addr())
	resp = other.mustSend("SHOW TABLES")
	if err := json.Unmarshal(resp.Result, &qr); err != nil {
		t.Fatalf("Failed to parse query result: %v", err)
	}
	if len(qr.Data) != 0 {
		t.Errorf("Expected main to be empty on a fresh connection, got %v", qr.Data)
	}

	head, err := instance.Catalog(testIdentity).Head("dev")
	if err != nil {
		t.Fatalf("Failed to read dev: %v", err)
	}
	if head.Hash.String() != cr.Commit {
		t.Errorf("Expected dev at %s, got %s", cr.Commit, head.Hash)
	}
}

func TestServerErrorKinds(t *testing.T) {
	server, _ := setupTestServer(t)
	c := dial(t, server.Addr())

	tests := []struct {
		query string
		kind  string
	}{
		{"CREATE TABLE users", "syntax"},
		{"USE ghost", "unknown_reference"},
		{"COMMIT REMOVE ghost", "table_not_found"},
		{"QUERY 'SELECT 1'", "unsupported"},
		{`{"query": `, "syntax"},
	}
	for _, tt := range tests {
		resp := c.send(tt.query)
		if resp.Success {
			t.Errorf("%s: expected failure", tt.query)
			continue
		}
		if resp.Kind != tt.kind {
			t.Errorf("%s: expected kind %s, got %s (%s)", tt.query, tt.kind, resp.Kind, resp.Error)
		}
	}

	c.mustSend("CREATE TAG v1")
	if resp := c.send("CREATE TAG v1"); resp.Kind != "already_exists" {
		t.Errorf("Expected already_exists, got %s", resp.Kind)
	}
}

func TestServerQuit(t *testing.T) {
	server, _ := setupTestServer(t)
	c := dial(t, server.Addr())

	if _, err := c.conn.Write([]byte("quit\n")); err != nil {
		t.Fatalf("Failed to send quit: %v", err)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.reader.ReadString('\n'); err == nil {
		t.Error("Expected the server to close the connection")
	}
}

// === Auth Tests ===

func createTestJWT(t *testing.T, secret, name, email string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"name":  name,
		"email": email,
		"iss":   "test-issuer",
		"exp":   time.Now().Add(ttl).Unix(),
	})
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to create test JWT: %v", err)
	}
	return tokenString
}

func TestAuthRequired(t *testing.T) {
	server, _ := setupTestServer(t, WithAuth(&AuthConfig{Enabled: true, JWTSecret: "secret"}))

	resp := sendQuery(t, server.Addr(), "SHOW REFERENCES")
	if resp.Success {
		t.Fatal("Expected query to fail without authentication")
	}
	if resp.Kind != "unauthenticated" || !strings.Contains(resp.Error, "authentication required") {
		t.Errorf("Unexpected error: %s (%s)", resp.Error, resp.Kind)
	}
}

func TestAuthWithValidJWT(t *testing.T) {
	secret := "test-secret"
	server, _ := setupTestServer(t, WithAuth(&AuthConfig{Enabled: true, JWTSecret: secret, Issuer: "test-issuer"}))
	c := dial(t, server.Addr())

	resp := c.mustSend("AUTH JWT " + createTestJWT(t, secret, "Alice", "alice@example.com", time.Hour))
	if resp.Type != "auth" {
		t.Errorf("Expected auth type, got %s", resp.Type)
	}
	var ar protocol.AuthResponse
	if err := json.Unmarshal(resp.Result, &ar); err != nil {
		t.Fatalf("Failed to parse auth result: %v", err)
	}
	if !ar.Authenticated || ar.Identity != "Alice <alice@example.com>" {
		t.Errorf("Unexpected auth result: %+v", ar)
	}
	if ar.ExpiresIn <= 0 || ar.ExpiresIn > 3600 {
		t.Errorf("Unexpected expires_in: %d", ar.ExpiresIn)
	}

	c.mustSend("SHOW REFERENCES")
}

func TestAuthRejectsBadTokens(t *testing.T) {
	secret := "test-secret"
	server, _ := setupTestServer(t, WithAuth(&AuthConfig{Enabled: true, JWTSecret: secret, Issuer: "test-issuer"}))
	c := dial(t, server.Addr())

	for name, line := range map[string]string{
		"wrong secret":  "AUTH JWT " + createTestJWT(t, "other", "Alice", "alice@example.com", time.Hour),
		"expired":       "AUTH JWT " + createTestJWT(t, secret, "Alice", "alice@example.com", -time.Minute),
		"not a token":   "AUTH JWT invalid.token.here",
		"missing token": "AUTH JWT",
		"unsupported":   "AUTH BASIC dXNlcjpwYXNz",
		"no identity":   "AUTH JWT " + createTestJWT(t, secret, "", "", time.Hour),
	} {
		resp := c.send(line)
		if resp.Success {
			t.Errorf("%s: expected auth to fail", name)
		}
		if resp.Type != "auth" {
			t.Errorf("%s: expected auth type, got %s", name, resp.Type)
		}
	}

	if resp := c.send("SHOW REFERENCES"); resp.Success {
		t.Error("Expected connection to stay unauthenticated")
	}
}

func TestAuthWrongIssuer(t *testing.T) {
	secret := "test-secret"
	server, _ := setupTestServer(t, WithAuth(&AuthConfig{Enabled: true, JWTSecret: secret, Issuer: "someone-else"}))

	resp := sendQuery(t, server.Addr(), "AUTH JWT "+createTestJWT(t, secret, "Alice", "alice@example.com", time.Hour))
	if resp.Success {
		t.Error("Expected auth to fail with the wrong issuer")
	}
}

func TestParseAuthCommand(t *testing.T) {
	authType, token, err := parseAuthCommand("auth jwt abc.def.ghi")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if authType != "JWT" || token != "abc.def.ghi" {
		t.Errorf("Got %s %s", authType, token)
	}

	if _, _, err := parseAuthCommand("SHOW REFERENCES"); err == nil {
		t.Error("Expected error for a non-AUTH line")
	}
	if isAuthCommand("AUTHOR") {
		t.Error("AUTHOR is not an AUTH command")
	}
}

// === Identity Tests ===

func TestIdentityInCommitsUnauthenticated(t *testing.T) {
	instance := openTestInstance(t)
	defaultIdentity := core.Identity{Name: "Default User", Email: "default@test.com"}
	server := NewServer(instance, defaultIdentity)
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	dial(t, server.Addr()).mustSend("COMMIT SET movies = 'snap1'")

	head, err := instance.Catalog(testIdentity).Head("main")
	if err != nil {
		t.Fatalf("Failed to read main: %v", err)
	}
	if head.Meta.Author != defaultIdentity {
		t.Errorf("Expected commit author %s, got %s", defaultIdentity, head.Meta.Author)
	}
}

func TestIdentityInCommitsAuthenticated(t *testing.T) {
	secret := "test-secret-for-identity"
	server, instance := setupTestServer(t, WithAuth(&AuthConfig{Enabled: true, JWTSecret: secret}))
	c := dial(t, server.Addr())

	c.mustSend("AUTH JWT " + createTestJWT(t, secret, "JWT Test User", "jwtuser@example.com", time.Hour))
	c.mustSend("COMMIT SET movies = 'snap1' MESSAGE 'from jwt'")

	head, err := instance.Catalog(testIdentity).Head("main")
	if err != nil {
		t.Fatalf("Failed to read main: %v", err)
	}
	want := core.Identity{Name: "JWT Test User", Email: "jwtuser@example.com"}
	if head.Meta.Author != want {
		t.Errorf("Expected commit author %s, got %s", want, head.Meta.Author)
	}
	if head.Meta.Message != "from jwt" {
		t.Errorf("Expected message 'from jwt', got %q", head.Meta.Message)
	}
}

// === TLS Tests ===

func setupTLSTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	tmpDir := t.TempDir()
	certFile := tmpDir + "/cert.pem"
	keyFile := tmpDir + "/key.pem"
	generateTestCertificate(t, certFile, keyFile)

	server := NewServer(openTestInstance(t), testIdentity)
	if err := server.StartTLS("127.0.0.1:0", certFile, keyFile); err != nil {
		t.Fatalf("Failed to start TLS server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server, certFile
}

// generateTestCertificate writes a self-signed certificate for localhost.
func generateTestCertificate(t *testing.T, certFile, keyFile string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
		DNSNames:     []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(certFile, certPEM, 0600); err != nil {
		t.Fatalf("Failed to write cert file: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}
}

func TestTLSServerStartStop(t *testing.T) {
	server, _ := setupTLSTestServer(t)

	if server.Addr() == "" {
		t.Error("Expected non-empty address")
	}
	if !server.TLSEnabled() {
		t.Error("Expected TLS to be enabled")
	}
}

func TestTLSServerConnection(t *testing.T) {
	server, certFile := setupTLSTestServer(t)

	certPool := x509.NewCertPool()
	certData, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatalf("Failed to read cert: %v", err)
	}
	certPool.AppendCertsFromPEM(certData)

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", server.Addr(),
		&tls.Config{RootCAs: certPool, ServerName: "localhost"})
	if err != nil {
		t.Fatalf("Failed to connect with TLS: %v", err)
	}
	defer conn.Close()

	c := &client{t: t, conn: conn, reader: bufio.NewReader(conn)}
	resp := c.mustSend("CREATE BRANCH tlstest")
	if resp.Type != "commit" {
		t.Errorf("Expected commit type, got: %s", resp.Type)
	}
}

func TestTLSServerInvalidCert(t *testing.T) {
	server, _ := setupTLSTestServer(t)

	// system roots do not include the self-signed certificate
	_, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", server.Addr(),
		&tls.Config{ServerName: "localhost"})
	if err == nil {
		t.Error("Expected TLS connection to fail with invalid certificate")
	}
}

func TestStartTLSMissingCertificate(t *testing.T) {
	server := NewServer(openTestInstance(t), testIdentity)
	if err := server.StartTLS("127.0.0.1:0", "missing.pem", "missing.key"); err == nil {
		_ = server.Stop()
		t.Fatal("Expected StartTLS to fail without a certificate")
	}
}

// === Admin Tests ===

func TestAdminEndpoints(t *testing.T) {
	instance := openTestInstance(t)
	ts := httptest.NewServer(adminRouter(instance.Catalog(testIdentity), nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var health map[string]string
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" || len(health["main"]) != core.HashLength {
		t.Errorf("Unexpected health response %d: %v", resp.StatusCode, health)
	}

	resp, err = http.Get(ts.URL + "/references")
	if err != nil {
		t.Fatalf("GET /references: %v", err)
	}
	var refs []core.Reference
	err = json.NewDecoder(resp.Body).Decode(&refs)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("Failed to decode references: %v", err)
	}
	if len(refs) != 1 || refs[0].Name != "main" || refs[0].Kind != core.Branch {
		t.Errorf("Unexpected references: %v", refs)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected /metrics to answer 200, got %d", resp.StatusCode)
	}
}
