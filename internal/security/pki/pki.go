// Package pki issues the certificates used to run simulated schedulers over
// https and to point clients at them.
package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const keyBits = 2048

// Usage selects the extended key usage of an issued certificate.
type Usage int

const (
	ServerAuth Usage = iota
	ClientAuth
)

// Pair locates a PEM certificate and its key on disk.
type Pair struct {
	CertPath string
	KeyPath  string
}

// Authority is a self-signed CA kept in a directory.
type Authority struct {
	dir  string
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

func pairFor(dir, name string) Pair {
	return Pair{CertPath: filepath.Join(dir, name+".pem"), KeyPath: filepath.Join(dir, name+".key")}
}

// LoadOrCreateAuthority loads the CA in dir, creating one valid for
// validity if there is none yet.
func LoadOrCreateAuthority(dir, commonName string, validity time.Duration) (*Authority, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}
	ca := pairFor(dir, "ca")
	if _, err := os.Stat(ca.CertPath); err == nil {
		cert, key, err := loadPair(ca)
		if err != nil {
			return nil, errors.Wrap(err, "loading CA")
		}
		return &Authority{dir: dir, cert: cert, key: key}, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, errors.Wrap(err, "generating CA key")
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial(),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"Vertera"}},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "self-signing CA")
	}
	if err := writePair(ca, der, key); err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Authority{dir: dir, cert: cert, key: key}, nil
}

// CertPath is the CA certificate, for use as a trust root.
func (a *Authority) CertPath() string { return pairFor(a.dir, "ca").CertPath }

// Issue signs a certificate for name, reusing it if already present. Hosts
// become IP or DNS subject alternative names.
func (a *Authority) Issue(name, commonName string, usage Usage, validity time.Duration, hosts []string) (Pair, error) {
	p := pairFor(a.dir, name)
	if _, err := os.Stat(p.CertPath); err == nil {
		return p, nil
	}
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return Pair{}, errors.Wrapf(err, "generating key for %s", name)
	}
	eku := x509.ExtKeyUsageServerAuth
	if usage == ClientAuth {
		eku = x509.ExtKeyUsageClientAuth
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial(),
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"Vertera"}},
		NotBefore:    time.Now().Add(-5 * time.Minute),
		NotAfter:     time.Now().Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{eku},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else if h != "" {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.cert, &key.PublicKey, a.key)
	if err != nil {
		return Pair{}, errors.Wrapf(err, "signing certificate for %s", name)
	}
	return p, writePair(p, der, key)
}

func serial() *big.Int {
	n, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	return n
}

func loadPair(p Pair) (*x509.Certificate, *rsa.PrivateKey, error) {
	crt, err := os.ReadFile(p.CertPath)
	if err != nil {
		return nil, nil, err
	}
	blk, _ := pem.Decode(crt)
	if blk == nil {
		return nil, nil, errors.Errorf("%s: no PEM certificate", p.CertPath)
	}
	cert, err := x509.ParseCertificate(blk.Bytes)
	if err != nil {
		return nil, nil, err
	}
	kb, err := os.ReadFile(p.KeyPath)
	if err != nil {
		return nil, nil, err
	}
	kblk, _ := pem.Decode(kb)
	if kblk == nil {
		return nil, nil, errors.Errorf("%s: no PEM key", p.KeyPath)
	}
	key, err := x509.ParsePKCS1PrivateKey(kblk.Bytes)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

func writePair(p Pair, certDER []byte, key *rsa.PrivateKey) error {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(p.CertPath, certPEM, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", p.CertPath)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(p.KeyPath, keyPEM, 0600); err != nil {
		return errors.Wrapf(err, "writing %s", p.KeyPath)
	}
	return nil
}

// ServerTLSConfig serves pair. When requireClientCert is set, clients must
// present a certificate signed by the CA at caCertPath.
func ServerTLSConfig(caCertPath string, pair Pair, requireClientCert bool) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(pair.CertPath, pair.KeyPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading server certificate")
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if requireClientCert {
		pool, err := loadCertPool(caCertPath)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientTLSConfig trusts the CA at caCertPath. A client certificate is
// presented when pair is non-nil.
func ClientTLSConfig(caCertPath string, pair *Pair, serverName string) (*tls.Config, error) {
	pool, err := loadCertPool(caCertPath)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
	if pair != nil {
		cert, err := tls.LoadX509KeyPair(pair.CertPath, pair.KeyPath)
		if err != nil {
			return nil, errors.Wrap(err, "loading client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func loadCertPool(caCertPath string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading CA certificate")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, errors.Errorf("no CA certificates in %s", caCertPath)
	}
	return pool, nil
}
