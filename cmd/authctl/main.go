// Command authctl is a command-line client for the auth worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc/status"

	"github.com/and161185/authcore/internal/rpc/authv1"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

var errUsage = errors.New("usage")

func usage() {
	fmt.Fprintf(os.Stderr, `authctl
Usage:
  authctl -addr HOST:PORT [-plaintext | -cacert file | -insecure] <cmd> [args]

Commands:
  version
  register     -u <username> -e <email> -p <password> [-name <full name>]
  login        -id <email|username> -p <password>      (saves tokens)
  refresh                                              (renews the saved access token)
  validate     [-token <access token>]
  whoami                                               (decodes the saved token offline)
  me
  sessions     [-user <uuid>]
  revoke       -id <token id>
  revoke-user  -user <uuid>
  logout
  logout-all
`)
}

// app runs subcommands against a worker reached through connect.
type app struct {
	out     io.Writer
	connect connector
}

func main() {
	addr := flag.String("addr", "localhost:50051", "worker addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "connect without TLS (dev)")
	timeout := flag.Duration("timeout", 30*time.Second, "per-command timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a := &app{out: os.Stdout, connect: dialer(*addr, transport{caPath: *caPath, insecure: *skipVerify, plaintext: *plaintext})}
	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		fail(err)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "version":
		fmt.Fprintf(a.out, "authctl %s (%s)\n", version, buildDate)
		return nil
	case "register":
		return a.register(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "refresh":
		return a.refresh(ctx)
	case "validate":
		return a.validate(ctx, args)
	case "whoami":
		return a.whoami()
	case "me":
		return a.me(ctx)
	case "sessions":
		return a.sessions(ctx, args)
	case "revoke":
		return a.revoke(ctx, args)
	case "revoke-user":
		return a.revokeUser(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "logout-all":
		return a.logoutAll(ctx)
	default:
		return errUsage
	}
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	user := fs.String("u", "", "username")
	email := fs.String("e", "", "email")
	pass := fs.String("p", "", "password")
	name := fs.String("name", "", "full name")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *user == "" || *email == "" || *pass == "" {
		return errUsage
	}
	cli, closer, err := a.connect("")
	if err != nil {
		return err
	}
	defer closer.Close()

	out, err := cli.Register(ctx, &authv1.RegisterRequest{Username: *user, Email: *email, Password: *pass, FullName: *name, UserAgent: userAgent()})
	if err != nil {
		return err
	}
	if err := saveIssued(out.Tokens); err != nil {
		return err
	}
	a.printJSON(out.User)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	id := fs.String("id", "", "email or username")
	pass := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *id == "" || *pass == "" {
		return errUsage
	}
	cli, closer, err := a.connect("")
	if err != nil {
		return err
	}
	defer closer.Close()

	out, err := cli.Login(ctx, &authv1.LoginRequest{Identifier: *id, Password: *pass, UserAgent: userAgent()})
	if err != nil {
		return err
	}
	if err := saveIssued(out.Tokens); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged in as %s (%s)\n", out.User.Username, out.User.RoleCode)
	return nil
}

func (a *app) refresh(ctx context.Context) error {
	tf, err := loadRefresh()
	if err != nil {
		return err
	}
	cli, closer, err := a.connect("")
	if err != nil {
		return err
	}
	defer closer.Close()

	out, err := cli.RefreshToken(ctx, &authv1.RefreshTokenRequest{RefreshToken: tf.RefreshToken})
	if err != nil {
		return err
	}
	tf.AccessToken = out.AccessToken
	tf.AccessExpiresAt = out.ExpiresAt
	if err := saveTokens(tf); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "access token renewed, expires %s\n", out.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func (a *app) validate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	raw := fs.String("token", "", "access token (default: saved)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *raw == "" {
		tf, err := readTokens()
		if err != nil {
			return err
		}
		*raw = tf.AccessToken
	}
	cli, closer, err := a.connect("")
	if err != nil {
		return err
	}
	defer closer.Close()

	out, err := cli.ValidateToken(ctx, &authv1.ValidateTokenRequest{AccessToken: *raw})
	if err != nil {
		return err
	}
	a.printJSON(out)
	return nil
}

func (a *app) whoami() error {
	tf, err := readTokens()
	if err != nil {
		return err
	}
	claims, err := peekClaims(tf.AccessToken)
	if err != nil {
		return err
	}
	a.printJSON(claims)
	return nil
}

func (a *app) me(ctx context.Context) error {
	cli, closer, err := a.authed()
	if err != nil {
		return err
	}
	defer closer.Close()

	out, err := cli.GetMe(ctx, &authv1.GetMeRequest{})
	if err != nil {
		return err
	}
	a.printJSON(out.User)
	return nil
}

func (a *app) sessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	user := fs.String("user", "", "user id (admin)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	cli, closer, err := a.authed()
	if err != nil {
		return err
	}
	defer closer.Close()

	out, err := cli.ListSessions(ctx, &authv1.ListSessionsRequest{UserID: *user})
	if err != nil {
		return err
	}
	a.printJSON(out.Sessions)
	return nil
}

func (a *app) revoke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	id := fs.String("id", "", "session token id")
	if err := fs.Parse(args); err != nil || *id == "" {
		return errUsage
	}
	cli, closer, err := a.authed()
	if err != nil {
		return err
	}
	defer closer.Close()

	out, err := cli.RevokeSession(ctx, &authv1.RevokeSessionRequest{TokenID: *id})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, out.Message)
	return nil
}

func (a *app) revokeUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke-user", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil || *user == "" {
		return errUsage
	}
	cli, closer, err := a.authed()
	if err != nil {
		return err
	}
	defer closer.Close()

	out, err := cli.RevokeUserSessions(ctx, &authv1.RevokeUserSessionsRequest{UserID: *user})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %d\n", out.Message, out.RevokedSessions)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	tf, err := readTokens()
	if err != nil {
		return err
	}
	cli, closer, err := a.connect(tf.AccessToken)
	if err != nil {
		return err
	}
	defer closer.Close()

	if _, err := cli.Logout(ctx, &authv1.LogoutRequest{RefreshToken: tf.RefreshToken}); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged out")
	return clearTokens()
}

func (a *app) logoutAll(ctx context.Context) error {
	cli, closer, err := a.authed()
	if err != nil {
		return err
	}
	defer closer.Close()

	out, err := cli.LogoutAll(ctx, &authv1.LogoutAllRequest{})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged out from %d sessions\n", out.RevokedSessions)
	return clearTokens()
}

// authed connects with the saved access token.
func (a *app) authed() (authv1.AuthServiceClient, io.Closer, error) {
	tok, err := loadAccess()
	if err != nil {
		return nil, nil, err
	}
	return a.connect(tok)
}

func saveIssued(t *authv1.Tokens) error {
	if t == nil {
		return errors.New("server returned no tokens")
	}
	return saveTokens(tokenFile{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	})
}

func userAgent() string { return "authctl/" + version }

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
