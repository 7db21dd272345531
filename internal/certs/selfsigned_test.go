package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(Options{Hosts: []string{"relay.lan", "192.168.1.5"}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(cert.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	if validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore); validity != DefaultValidity {
		t.Errorf("validity: got %v, want %v", validity, DefaultValidity)
	}
	if x509Cert.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}
	if cert.Fingerprint != sha256.Sum256(cert.TLSCert.Certificate[0]) {
		t.Error("fingerprint mismatch")
	}
	if len(cert.FingerprintHex()) != 64 {
		t.Errorf("hex fingerprint: got %q", cert.FingerprintHex())
	}

	if err := x509Cert.VerifyHostname("relay.lan"); err != nil {
		t.Errorf("relay.lan: %v", err)
	}
	if err := x509Cert.VerifyHostname("localhost"); err != nil {
		t.Errorf("localhost: %v", err)
	}
	found := false
	for _, ip := range x509Cert.IPAddresses {
		if ip.Equal(net.ParseIP("192.168.1.5")) {
			found = true
		}
	}
	if !found {
		t.Error("expected 192.168.1.5 in IP SANs")
	}
}

func TestGenerateUniqueCerts(t *testing.T) {
	t.Parallel()
	a, err := Generate(Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if a.Fingerprint == b.Fingerprint {
		t.Error("two generations should produce different fingerprints")
	}
}

func TestPinnedClientConfig(t *testing.T) {
	t.Parallel()
	cert, err := Generate(Options{})
	if err != nil {
		t.Fatal(err)
	}
	other, err := Generate(Options{})
	if err != nil {
		t.Fatal(err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", cert.ServerConfig("sunbeam-control"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.(*tls.Conn).Handshake()
			c.Close()
		}
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), PinnedClientConfig(cert.Fingerprint, "sunbeam-control"))
	if err != nil {
		t.Fatalf("pinned dial: %v", err)
	}
	if got := conn.ConnectionState().NegotiatedProtocol; got != "sunbeam-control" {
		t.Errorf("alpn: got %q", got)
	}
	conn.Close()

	_, err = tls.Dial("tcp", ln.Addr().String(), PinnedClientConfig(other.Fingerprint, "sunbeam-control"))
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("wrong pin: got %v, want ErrFingerprintMismatch", err)
	}
}
