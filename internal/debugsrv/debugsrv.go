// Package debugsrv exposes a running kernel's status over QUIC for a
// detached inspector to connect to, independent of the kernel's own
// stdout logging. It is optional: a toy kernel that never starts it
// behaves identically.
package debugsrv

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// StatusFunc returns the current kernel status snapshot to serve to
// inspectors, typically kernel.GetKernelStatus.
type StatusFunc func() map[string]interface{}

// Server accepts QUIC connections and answers each incoming stream with
// one JSON-encoded status snapshot, then closes the stream. There is no
// request payload: opening a stream is the request.
type Server struct {
	listener *quic.Listener
	status   StatusFunc
}

// Listen starts a QUIC listener on addr backed by a freshly generated,
// process-lifetime self-signed certificate -- this is a debug endpoint for
// local introspection, not a production TLS service.
func Listen(addr string, status StatusFunc) (*Server, error) {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("generate debug tls cert: %w", err)
	}

	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{MaxIdleTimeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	return &Server{listener: ln, status: status}, nil
}

// Addr returns the address the server is actually bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is canceled or the listener errors.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.handleStream(stream)
	}
}

func (s *Server) handleStream(stream *quic.Stream) {
	defer stream.Close()

	enc := json.NewEncoder(stream)
	if err := enc.Encode(s.status()); err != nil {
		return
	}
}

// Close shuts the listener down.
func (s *Server) Close() error {
	return s.listener.Close()
}

// FetchStatus dials addr and reads one status snapshot, for an external
// inspector; in this module only the tests call it. insecureSkipVerify is
// expected: the server presents
// a fresh self-signed certificate every run.
func FetchStatus(ctx context.Context, addr string) (map[string]interface{}, error) {
	tlsConf := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"toykern-debug"}}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Close(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}

	var status map[string]interface{}
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}

	return status, nil
}

func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "toykern-debug"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"toykern-debug"},
	}, nil
}
