package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/and161185/authcore/internal/rpc/authv1"
)

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

// transport selects the connection security: plaintext, TLS without verification,
// TLS against caPath or TLS against the system roots.
type transport struct {
	caPath    string
	insecure  bool
	plaintext bool
}

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev only
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}), nil
}

func (t transport) options(bearer string) ([]grpc.DialOption, error) {
	creds := insecure.NewCredentials()
	if !t.plaintext {
		var err error
		if creds, err = loadTLS(t.caPath, t.insecure); err != nil {
			return nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !t.plaintext}))
	}
	return opts, nil
}

// connector opens a client, optionally carrying a bearer token.
type connector func(bearer string) (authv1.AuthServiceClient, io.Closer, error)

func dialer(addr string, t transport) connector {
	return func(bearer string) (authv1.AuthServiceClient, io.Closer, error) {
		opts, err := t.options(bearer)
		if err != nil {
			return nil, nil, err
		}
		cc, err := grpc.NewClient(addr, opts...)
		if err != nil {
			return nil, nil, err
		}
		return authv1.NewAuthServiceClient(cc), cc, nil
	}
}
