package api

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpnadmin/internal/client"
	"grimm.is/vpnadmin/internal/config"
	certs "grimm.is/vpnadmin/internal/tls"
)

func TestServe_TLS(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	fp, err := certs.GenerateSelfSigned(certFile, keyFile, []string{"127.0.0.1"}, 1)
	require.NoError(t, err)

	f := newFixture(t, func(cfg *config.Config) {
		cfg.API.TLSCert = certFile
		cfg.API.TLSKey = keyFile
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	base := "https://" + ln.Addr().String()
	hc := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}}
	resp, err := hc.Get(base + "/healthz/live")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NotEmpty(t, resp.TLS.PeerCertificates)
	sum := sha256.Sum256(resp.TLS.PeerCertificates[0].Raw)
	assert.Equal(t, fp, hex.EncodeToString(sum[:]))

	pinned := client.NewHTTPClient(base, client.WithAPIKey(adminKey), client.WithFingerprint(strings.Repeat("ab", 32)))
	_, err = pinned.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fingerprint mismatch")
}
